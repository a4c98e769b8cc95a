// Package scheduler 基于 cron 的保留期清理：按保留窗口删除已完成与死信任务
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/lease"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

const (
	leaseName   = "retention-janitor"
	leaseTTL    = time.Minute
	tickTimeout = 50 * time.Second
	lastRunKey  = "metrics:janitor:last"
)

// Purger 单个队列的保留期清理
type Purger interface {
	Name() string
	Purge(ctx context.Context) (int, error)
}

// Janitor 周期清理；多实例时通过租约保证同一时刻只有一个实例执行
type Janitor struct {
	cron   *cron.Cron
	queues []Purger
	rdb    *redis.Client
	leases *lease.Manager
	owner  string
	log    *zap.Logger
}

// NewJanitor 创建清理器
// 参数:
//
//	spec: cron 表达式，支持 @every 写法
//	queues: 需要清理的队列
//	owner: 本实例的租约持有者标识
func NewJanitor(spec string, queues []Purger, rdb *redis.Client, owner string, log *zap.Logger) (*Janitor, error) {
	cl := cronLogger{log.Sugar()}
	j := &Janitor{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		queues: queues,
		rdb:    rdb,
		leases: lease.NewManager(rdb),
		owner:  owner,
		log:    log,
	}
	if _, err := j.cron.AddFunc(spec, j.tick); err != nil {
		return nil, fmt.Errorf("parse retention cron %q: %w", spec, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	logger.Info(context.Background(), j.log, "retention janitor started", zap.Int("queues", len(j.queues)))
	j.cron.Start()
}

// Stop 停止调度并等待正在执行的清理结束
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	held, err := j.leases.Hold(ctx, leaseName, j.owner, leaseTTL)
	if err != nil {
		logger.Warn(ctx, j.log, "janitor lease failed", zap.Error(err))
		return
	}
	if !held {
		return
	}
	if _, err := j.RunOnce(ctx); err != nil {
		logger.Error(ctx, j.log, "retention purge failed", zap.Error(err))
	}
}

// RunOnce 清理所有队列，返回删除的任务总数；单个队列失败不影响其他队列
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	total := 0
	var firstErr error
	for _, q := range j.queues {
		n, err := q.Purge(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("purge %s: %w", q.Name(), err)
			}
			continue
		}
		if n > 0 {
			logger.Info(ctx, j.log, "expired jobs purged", zap.String("queue", q.Name()), zap.Int("count", n))
		}
		total += n
	}

	_ = j.rdb.HSet(ctx, lastRunKey, map[string]any{
		"time":   time.Now().UTC().Format(time.RFC3339),
		"purged": total,
		"owner":  j.owner,
	}).Err()
	return total, firstErr
}

// cronLogger 把 cron 的日志接口接到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
