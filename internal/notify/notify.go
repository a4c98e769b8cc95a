// Package notify 通知投递；调用方只关心发出，失败由调用方记录
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

// TypeTaskAssigned 新建任务时通知负责人
const TypeTaskAssigned = "TASK_ASSIGNED"

type Notification struct {
	CompanyID    int64    `json:"company_id"`
	ActorID      string   `json:"actor_id"`
	RecipientIDs []string `json:"recipient_ids"`
	Title        string   `json:"title"`
	TypeKey      string   `json:"type_key"`
	EntityID     int64    `json:"entity_id"`
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// HTTPSender 通过 HTTP 投递到通知服务，熔断器保护下游
type HTTPSender struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHTTPSender(url string, timeout time.Duration, log *zap.Logger) *HTTPSender {
	settings := gobreaker.Settings{
		Name:        "NotificationService",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *HTTPSender) Send(ctx context.Context, n Notification) error {
	if len(n.RecipientIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, postJSON(ctx, s.client, s.url, body)
	})
	return err
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s responded %d", url, resp.StatusCode)
	}
	return nil
}

// LogSender 未配置通知服务时使用，只记录日志
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	logger.Info(ctx, s.log, "notification",
		zap.Int64("company_id", n.CompanyID),
		zap.String("actor_id", n.ActorID),
		zap.Strings("recipients", n.RecipientIDs),
		zap.String("type", n.TypeKey),
		zap.Int64("entity_id", n.EntityID),
	)
	return nil
}
