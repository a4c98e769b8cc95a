package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
)

const maintenanceBatch = 100

// LeaseHolder 周期任务的多实例互斥
type LeaseHolder interface {
	Hold(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
}

type DelayedMover interface {
	Name() string
	MoveDueDelayedToReadyAtomic(ctx context.Context, limit int) (int, error)
}

type StallRequeuer interface {
	Name() string
	RequeueStalled(ctx context.Context, limit int) (int, error)
}

// leaseTTL 持有者宕机后，其他实例最多等待约三个周期接手
func leaseTTL(interval time.Duration) time.Duration {
	return 3 * interval
}

// runLeased 每个 tick 先争取租约，只有持有者执行 fn
func runLeased(ctx context.Context, leases LeaseHolder, name, owner string, interval time.Duration, log *zap.Logger, fn func(ctx context.Context)) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			got, err := leases.Hold(ctx, name, owner, leaseTTL(interval))
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn(ctx, log, "lease hold failed", zap.String("lease", name), zap.Error(err))
				}
				continue
			}
			if got {
				fn(ctx)
			}
		}
	}
}

// StartDelayedMover 周期把到期的延时任务移回就绪队列
func StartDelayedMover(ctx context.Context, q DelayedMover, leases LeaseHolder, workerID string, interval time.Duration, log *zap.Logger) {
	name := "delayed-mover:" + q.Name()
	runLeased(ctx, leases, name, workerID, interval, log, func(ctx context.Context) {
		// 单轮移完所有到期任务
		for {
			moved, err := q.MoveDueDelayedToReadyAtomic(ctx, maintenanceBatch)
			if err != nil {
				logger.Error(ctx, log, "move delayed failed", zap.String("queue", q.Name()), zap.Error(err))
				return
			}
			if moved > 0 {
				logger.Debug(ctx, log, "delayed moved to ready", zap.String("queue", q.Name()), zap.Int("count", moved))
			}
			if moved < maintenanceBatch {
				return
			}
		}
	})
}

// StartStallReaper 周期回收超过停滞期限仍未确认的任务
func StartStallReaper(ctx context.Context, q StallRequeuer, leases LeaseHolder, workerID string, interval time.Duration, log *zap.Logger, m *metrics.Metrics) {
	name := "stall-reaper:" + q.Name()
	runLeased(ctx, leases, name, workerID, interval, log, func(ctx context.Context) {
		n, err := q.RequeueStalled(ctx, maintenanceBatch)
		if err != nil {
			logger.Error(ctx, log, "requeue stalled failed", zap.String("queue", q.Name()), zap.Error(err))
			return
		}
		if n > 0 {
			m.Stalled(n)
			logger.Warn(ctx, log, "stalled jobs requeued", zap.String("queue", q.Name()), zap.Int("count", n))
		}
	})
}
