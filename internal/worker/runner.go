package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
	"github.com/gtplusnet/ante-official-sub001/internal/queue"
)

// JobQueue 领取与确认
type JobQueue interface {
	Name() string
	Claim(ctx context.Context, owner string) (*domain.Job, error)
	Extend(ctx context.Context, id, owner string) error
	Ack(ctx context.Context, id, owner string) error
	Nack(ctx context.Context, id, owner string, cause error, permanent bool) (queue.NackResult, error)
}

type Processor interface {
	Process(ctx context.Context, job *domain.Job) (domain.ProcessResult, error)
}

type ProcessorFunc func(ctx context.Context, job *domain.Job) (domain.ProcessResult, error)

func (f ProcessorFunc) Process(ctx context.Context, job *domain.Job) (domain.ProcessResult, error) {
	return f(ctx, job)
}

// RunRecorder 执行记录落库；失败只记日志，不影响任务结算
type RunRecorder interface {
	Record(ctx context.Context, run domain.JobRun) error
}

type RunnerConfig struct {
	WorkerID       string
	Concurrency    int
	PollInterval   time.Duration
	ExtendInterval time.Duration
}

// Runner 领取循环：占到槽位才领取，处理期间定期续期，结束后 ack/nack
type Runner struct {
	q       JobQueue
	proc    Processor
	pool    *Pool
	cfg     RunnerConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	runs    RunRecorder
}

func NewRunner(q JobQueue, proc Processor, cfg RunnerConfig, log *zap.Logger, m *metrics.Metrics) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ExtendInterval <= 0 {
		cfg.ExtendInterval = 10 * time.Second
	}
	return &Runner{
		q:       q,
		proc:    proc,
		pool:    NewPool(cfg.Concurrency),
		cfg:     cfg,
		log:     log.With(zap.String("worker_id", cfg.WorkerID), zap.String("queue", q.Name())),
		metrics: m,
	}
}

// RecordRunsTo 设置执行记录的落库位置，需在 Run 之前调用
func (r *Runner) RecordRunsTo(rec RunRecorder) *Runner {
	r.runs = rec
	return r
}

// Run 阻塞直到 ctx 取消；已领取的任务会执行完毕后才返回
func (r *Runner) Run(ctx context.Context) error {
	logger.Info(ctx, r.log, "runner started", zap.Int("concurrency", r.pool.Size()))
	defer r.pool.Wait()

	// 任务一旦领取就执行到底，不随进程关闭而中断
	jobCtx := context.WithoutCancel(ctx)
	for {
		if !r.pool.Acquire(ctx) {
			return nil
		}

		owner := r.cfg.WorkerID + "/" + uuid.NewString()
		job, err := r.q.Claim(ctx, owner)
		if err != nil || job == nil {
			r.pool.Release()
			if err != nil && ctx.Err() == nil {
				logger.Error(ctx, r.log, "claim failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		r.pool.Go(func() { r.handle(jobCtx, job, owner) })
	}
}

func (r *Runner) handle(ctx context.Context, job *domain.Job, owner string) {
	log := r.log.With(
		zap.String("job_id", job.ID),
		zap.String("dedup_key", job.DedupKey),
		zap.Int("attempts", job.Attempts),
	)
	if job.Stalled {
		logger.Warn(ctx, log, "processing previously stalled job")
	}

	stop := r.keepAlive(ctx, job.ID, owner, log)
	start := time.Now()
	res, err := r.proc.Process(ctx, job)
	stop()
	elapsed := time.Since(start)

	run := domain.JobRun{
		JobID:     job.ID,
		Queue:     r.q.Name(),
		DedupKey:  job.DedupKey,
		WorkerID:  r.cfg.WorkerID,
		Attempt:   job.Attempts + 1,
		StartedAt: start.UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	}

	if err == nil {
		if ackErr := r.q.Ack(ctx, job.ID, owner); ackErr != nil {
			r.lost(ctx, log, ackErr, elapsed)
			r.record(ctx, log, run, domain.RunLost)
			return
		}
		r.record(ctx, log, run, domain.RunCompleted)
		r.metrics.Processed(metrics.OutcomeCompleted, elapsed)
		logger.Info(ctx, log, "job completed",
			zap.Int64("entity_id", res.EntityID),
			zap.Int64("processing_time_ms", res.ProcessingTimeMs),
		)
		return
	}

	permanent := errs.IsPermanent(err)
	nr, nackErr := r.q.Nack(ctx, job.ID, owner, err, permanent)
	if nackErr != nil {
		r.lost(ctx, log, nackErr, elapsed)
		r.record(ctx, log, run, domain.RunLost)
		return
	}
	if nr.Dead {
		r.record(ctx, log, run, domain.RunDead)
		r.metrics.Processed(metrics.OutcomeDead, elapsed)
		logger.Error(ctx, log, "job dead-lettered",
			zap.Int("attempts", nr.Attempts),
			zap.Bool("permanent", permanent),
			zap.Error(err),
		)
		return
	}
	r.record(ctx, log, run, domain.RunRetry)
	r.metrics.Processed(metrics.OutcomeRetry, elapsed)
	logger.Warn(ctx, log, "job failed, retry scheduled",
		zap.Int("attempts", nr.Attempts),
		zap.Duration("delay", nr.Delay),
		zap.Error(err),
	)
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, run domain.JobRun, outcome string) {
	if r.runs == nil {
		return
	}
	run.Outcome = outcome
	run.FinishedAt = time.Now().UTC()
	if err := r.runs.Record(ctx, run); err != nil {
		logger.Warn(ctx, log, "record job run failed", zap.String("outcome", outcome), zap.Error(err))
	}
}

// lost 任务已被回收（停滞后重新排队）或队列不可用，本次结果作废
func (r *Runner) lost(ctx context.Context, log *zap.Logger, err error, elapsed time.Duration) {
	r.metrics.Processed(metrics.OutcomeLost, elapsed)
	if errors.Is(err, errs.ErrJobNotActive) {
		logger.Warn(ctx, log, "job no longer owned by this worker", zap.Error(err))
		return
	}
	logger.Error(ctx, log, "failed to settle job", zap.Error(err))
}

// keepAlive 周期续期停滞期限，返回停止函数
func (r *Runner) keepAlive(ctx context.Context, id, owner string, log *zap.Logger) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		tk := time.NewTicker(r.cfg.ExtendInterval)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
				err := r.q.Extend(ctx, id, owner)
				if errors.Is(err, errs.ErrJobNotActive) {
					logger.Warn(ctx, log, "lost ownership while processing")
					return
				}
				if err != nil {
					logger.Warn(ctx, log, "extend failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
