package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

// PGSource 通过 LISTEN/NOTIFY 接收 notify_entity_change 触发器的推送
type PGSource struct {
	pool    *pgxpool.Pool
	channel string
	retry   time.Duration
	log     *zap.Logger
}

func NewPGSource(pool *pgxpool.Pool, channel string, log *zap.Logger) *PGSource {
	return &PGSource{pool: pool, channel: channel, retry: 2 * time.Second, log: log}
}

// Run 连接断开后按固定间隔重连，直到 ctx 取消
func (s *PGSource) Run(ctx context.Context, handle HandlerFunc) error {
	for {
		err := s.listen(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn(ctx, s.log, "change feed connection lost, reconnecting",
			zap.String("channel", s.channel),
			zap.Duration("retry_in", s.retry),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

func (s *PGSource) listen(ctx context.Context, handle HandlerFunc) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	logger.Info(ctx, s.log, "listening for changes", zap.String("channel", s.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var cn domain.ChangeNotification
		if err := json.Unmarshal([]byte(n.Payload), &cn); err != nil {
			logger.Warn(ctx, s.log, "malformed change notification", zap.Error(err))
			continue
		}
		handle(ctx, cn)
	}
}
