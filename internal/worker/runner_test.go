package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/lease"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
	"github.com/gtplusnet/ante-official-sub001/internal/queue"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (p *countingProcessor) Process(_ context.Context, job *domain.Job) (domain.ProcessResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return domain.ProcessResult{EntityID: job.Payload.EntityID}, p.err
	}
	return domain.ProcessResult{Success: true, EntityID: job.Payload.EntityID}, nil
}

type recordingRuns struct {
	mu   sync.Mutex
	runs []domain.JobRun
	err  error
}

func (r *recordingRuns) Record(_ context.Context, run domain.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func (r *recordingRuns) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Outcome)
	}
	return out
}

var retryPolicy = domain.RetryPolicy{Attempts: 3, BackoffBase: 2 * time.Second}

func newQueue(t *testing.T) (*queue.Queue, *testclock.Clock, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := testclock.NewClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	q := queue.New(rdb, "pipeline", queue.Options{
		StallTimeout:       30 * time.Second,
		CompletedKeep:      100,
		CompletedRetention: 24 * time.Hour,
		FailedRetention:    48 * time.Hour,
	}, clk)
	return q, clk, rdb, mr
}

func payload(id int64) domain.JobPayload {
	return domain.JobPayload{Entity: "task", EntityID: id, Action: domain.ActionCreated, CompanyID: 1}
}

func newTestRunner(q JobQueue, proc Processor, m *metrics.Metrics) *Runner {
	return NewRunner(q, proc, RunnerConfig{
		WorkerID:       "w1",
		Concurrency:    5,
		PollInterval:   10 * time.Millisecond,
		ExtendInterval: time.Hour,
	}, zap.NewNop(), m)
}

func TestRunnerDedupIdempotence(t *testing.T) {
	q, _, _, _ := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, "task-created-42", payload(42), retryPolicy)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "task-created-42", payload(42), retryPolicy)
	require.ErrorIs(t, err, errs.ErrDuplicateJob)

	proc := &countingProcessor{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := newTestRunner(q, proc, m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[domain.JobCompleted] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, int32(1), proc.calls.Load())
	assert.Equal(t, 1.0, processed(t, reg, metrics.OutcomeCompleted))
}

// processed 读取 pipeline_jobs_processed_total{outcome}
func processed(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "pipeline_jobs_processed_total" {
			continue
		}
		for _, mtr := range f.GetMetric() {
			for _, l := range mtr.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return mtr.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunnerRequiredStepFailureDeadLetters(t *testing.T) {
	q, clk, _, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "task-created-7", payload(7), retryPolicy)
	require.NoError(t, err)

	proc := &countingProcessor{err: errors.New("script failed")}
	runs := &recordingRuns{err: errors.New("db down")}
	r := newTestRunner(q, proc, nil).RecordRunsTo(runs)

	var attempts []int
	for i := 0; i < 3; i++ {
		job, err := q.Claim(ctx, "w1/test")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)
		attempts = append(attempts, job.Attempts)

		r.handle(ctx, job, "w1/test")

		clk.Advance(time.Minute)
		_, err = q.MoveDueDelayedToReadyAtomic(ctx, 10)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Equal(t, int32(3), proc.calls.Load())

	dead, err := q.ListDLQ(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, domain.JobFailed, dead[0].State)
	assert.Equal(t, "script failed", dead[0].LastError)

	// 记录失败不影响结算
	assert.Equal(t, []string{domain.RunRetry, domain.RunRetry, domain.RunDead}, runs.outcomes())
	for i, run := range runs.runs {
		assert.Equal(t, i+1, run.Attempt)
		assert.Equal(t, "script failed", run.Error)
		assert.Equal(t, "pipeline", run.Queue)
		assert.Equal(t, "w1", run.WorkerID)
	}

	job, err := q.Claim(ctx, "w1/test")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRunnerPermanentFailureSkipsRetries(t *testing.T) {
	q, _, _, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "task-created-8", payload(8), retryPolicy)
	require.NoError(t, err)
	proc := &countingProcessor{err: errs.Permanent(errs.ErrEntityNotFound)}
	r := newTestRunner(q, proc, nil)

	job, err := q.Claim(ctx, "w1/a")
	require.NoError(t, err)
	r.handle(ctx, job, "w1/a")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.JobFailed])
	assert.Equal(t, int64(0), stats[domain.JobDelayed])
}

func TestRunnerStaleOwnerIsLost(t *testing.T) {
	q, clk, _, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "task-created-9", payload(9), retryPolicy)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	r := newTestRunner(q, &countingProcessor{}, metrics.New(reg))

	job, err := q.Claim(ctx, "w1/old")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	n, err := q.RequeueStalled(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	r.handle(ctx, job, "w1/old")
	assert.Equal(t, 1.0, processed(t, reg, metrics.OutcomeLost))

	again, err := q.Claim(ctx, "w1/new")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.Stalled)
}

func TestRunnerRespectsConcurrency(t *testing.T) {
	q, _, _, _ := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := int64(1); i <= 8; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("task-created-%d", i), payload(i), retryPolicy)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	running, peak := 0, 0
	proc := ProcessorFunc(func(context.Context, *domain.Job) (domain.ProcessResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return domain.ProcessResult{Success: true}, nil
	})
	r := NewRunner(q, proc, RunnerConfig{WorkerID: "w1", Concurrency: 2, PollInterval: 5 * time.Millisecond}, zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[domain.JobCompleted] == 8
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestMaintenanceLoopsUseLease(t *testing.T) {
	q, clk, rdb, _ := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, "task-created-5", payload(5), retryPolicy)
	require.NoError(t, err)
	job, err := q.Claim(ctx, "w9/x")
	require.NoError(t, err)
	require.NotNil(t, job)
	clk.Advance(time.Minute)

	leases := lease.NewManager(rdb)
	held, err := leases.Acquire(ctx, "stall-reaper:pipeline", "other", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	go StartStallReaper(ctx, q, leases, "w1", 10*time.Millisecond, zap.NewNop(), nil)

	time.Sleep(50 * time.Millisecond)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.JobActive], "lease held elsewhere, nothing reaped")

	_, err = leases.Release(ctx, "stall-reaper:pipeline", "other")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[domain.JobQueued] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatAndListWorkers(t *testing.T) {
	_, _, rdb, _ := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	info := WorkerInfo{ID: "w1", Queue: "pipeline", Concurrency: 5, StartedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartHeartbeat(ctx, rdb, info, 30*time.Second, time.Hour)
	}()

	require.Eventually(t, func() bool {
		ws, err := ListWorkers(context.Background(), rdb)
		return err == nil && len(ws) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ws, err := ListWorkers(context.Background(), rdb)
	require.NoError(t, err)
	assert.Equal(t, "w1", ws[0].ID)
	assert.Equal(t, 5, ws[0].Concurrency)

	cancel()
	<-done
	ws, err = ListWorkers(context.Background(), rdb)
	require.NoError(t, err)
	assert.Empty(t, ws)
}
