package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

// messageReader kafka.Reader 中用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource 消费 Debezium 逻辑复制 topic
type KafkaSource struct {
	reader   messageReader
	retry    time.Duration
	maxRetry time.Duration
	log      *zap.Logger
}

func NewKafkaSource(brokers []string, topic, groupID string, log *zap.Logger) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	return newKafkaSource(r, log)
}

func newKafkaSource(r messageReader, log *zap.Logger) *KafkaSource {
	return &KafkaSource{reader: r, retry: time.Second, maxRetry: 30 * time.Second, log: log}
}

func (s *KafkaSource) Close() error { return s.reader.Close() }

// Run 处理完一条消息后提交 offset；无法解析的消息直接提交，避免卡住分区
// 拉取失败按指数退避重试，直到 ctx 取消
func (s *KafkaSource) Run(ctx context.Context, handle HandlerFunc) error {
	wait := s.retry
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn(ctx, s.log, "fetch message failed, retrying",
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			wait = min(wait*2, s.maxRetry)
			continue
		}
		wait = s.retry

		n, ok, err := DecodeDebezium(m.Value)
		switch {
		case err != nil:
			logger.Warn(ctx, s.log, "malformed debezium message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		case ok:
			handle(ctx, n)
		}

		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = s.reader.CommitMessages(cctx, m)
		cancel()
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, s.log, "commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

type debeziumSource struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type debeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Op     string          `json:"op"`
	Source debeziumSource  `json:"source"`
}

// 开启 schemas 时数据位于 payload 字段，否则位于顶层
type debeziumEnvelope struct {
	Payload *debeziumPayload `json:"payload"`
	debeziumPayload
}

var errNoOp = errors.New("debezium message has no op")

// DecodeDebezium 转换为 ChangeNotification；删除与 tombstone 返回 ok=false
func DecodeDebezium(value []byte) (domain.ChangeNotification, bool, error) {
	if len(value) == 0 {
		return domain.ChangeNotification{}, false, nil
	}
	var env debeziumEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return domain.ChangeNotification{}, false, err
	}
	p := env.debeziumPayload
	if env.Payload != nil {
		p = *env.Payload
	}

	n := domain.ChangeNotification{
		Schema: p.Source.Schema,
		Table:  p.Source.Table,
		After:  p.After,
	}
	switch p.Op {
	case "c", "r":
		n.Operation = domain.OpInsert
	case "u":
		n.Operation = domain.OpUpdate
		n.Before = p.Before
	case "d":
		return domain.ChangeNotification{}, false, nil
	case "":
		return domain.ChangeNotification{}, false, errNoOp
	default:
		return domain.ChangeNotification{}, false, fmt.Errorf("unknown debezium op %q", p.Op)
	}
	return n, true, nil
}
