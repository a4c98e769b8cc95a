package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
)

func newTestQueue(t *testing.T) (*Queue, *testclock.Clock, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := testclock.NewClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	q := New(rdb, "test", Options{
		StallTimeout:       30 * time.Second,
		CompletedKeep:      2,
		CompletedRetention: 24 * time.Hour,
		FailedRetention:    48 * time.Hour,
	}, clk)
	return q, clk, rdb
}

func createdPayload(id int64) domain.JobPayload {
	return domain.JobPayload{Entity: "task", EntityID: id, Action: domain.ActionCreated, CompanyID: 7}
}

var policy = domain.RetryPolicy{Attempts: 3, BackoffBase: 2 * time.Second}

func TestEnqueueDeduplicates(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "task-created-1", createdPayload(1), policy)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	dup, err := q.Enqueue(ctx, "task-created-1", createdPayload(1), policy)
	require.ErrorIs(t, err, errs.ErrDuplicateJob)
	assert.Equal(t, id, dup)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.JobQueued])

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.State)
	assert.Equal(t, "task-created-1", job.DedupKey)
	assert.Equal(t, int64(1), job.Payload.EntityID)
	assert.Equal(t, int64(7), job.Payload.CompanyID)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 2*time.Second, job.BackoffBase)
}

func TestClaimEmptyQueue(t *testing.T) {
	q, _, _ := newTestQueue(t)
	job, err := q.Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestAckReleasesDedupKey(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "task-created-2", createdPayload(2), policy)
	require.NoError(t, err)

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobActive, job.State)
	assert.Equal(t, "w1", job.Worker)

	require.ErrorIs(t, q.Ack(ctx, id, "w2"), errs.ErrJobNotActive)
	require.NoError(t, q.Ack(ctx, id, "w1"))
	require.ErrorIs(t, q.Ack(ctx, id, "w1"), errs.ErrJobNotActive)

	done, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, done.State)
	require.NotNil(t, done.FinishedAt)

	again, err := q.Enqueue(ctx, "task-created-2", createdPayload(2), policy)
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
}

func TestNackBacksOffThenDeadLetters(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()
	boom := errors.New("script failed")

	id, err := q.Enqueue(ctx, "task-created-3", createdPayload(3), policy)
	require.NoError(t, err)

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		job, err := q.Claim(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)

		res, err := q.Nack(ctx, id, "w1", boom, false)
		require.NoError(t, err)
		assert.False(t, res.Dead)
		assert.Equal(t, i+1, res.Attempts)
		assert.Equal(t, want, res.Delay)

		// not due yet
		moved, err := q.MoveDueDelayedToReadyAtomic(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, moved)

		clk.Advance(want)
		moved, err = q.MoveDueDelayedToReadyAtomic(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)
	}

	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	res, err := q.Nack(ctx, id, "w1", boom, false)
	require.NoError(t, err)
	assert.True(t, res.Dead)
	assert.Equal(t, 3, res.Attempts)

	dead, err := q.ListDLQ(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, domain.JobFailed, dead[0].State)
	assert.Equal(t, "script failed", dead[0].LastError)
	assert.Equal(t, 3, dead[0].Attempts)

	// dedup key is released once the job is terminal
	_, err = q.Enqueue(ctx, "task-created-3", createdPayload(3), policy)
	require.NoError(t, err)
}

func TestNackPermanentGoesStraightToDLQ(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "task-created-4", createdPayload(4), policy)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)

	res, err := q.Nack(ctx, id, "w1", errs.ErrEntityNotFound, true)
	require.NoError(t, err)
	assert.True(t, res.Dead)
	assert.Equal(t, 1, res.Attempts)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.JobFailed])
	assert.Zero(t, stats[domain.JobActive])
}

func TestRequeueStalledKeepsAttempts(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "task-created-5", createdPayload(5), policy)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)

	clk.Advance(20 * time.Second)
	require.NoError(t, q.Extend(ctx, id, "w1"))
	require.ErrorIs(t, q.Extend(ctx, id, "w2"), errs.ErrJobNotActive)

	clk.Advance(20 * time.Second)
	n, err := q.RequeueStalled(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(11 * time.Second)
	n, err = q.RequeueStalled(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, job.Stalled)
	assert.Equal(t, domain.JobQueued, job.State)
	assert.Zero(t, job.Attempts)

	// the stalled owner can no longer complete it
	require.ErrorIs(t, q.Ack(ctx, id, "w1"), errs.ErrJobNotActive)

	again, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, again)
	require.NoError(t, q.Ack(ctx, id, "w2"))
}

func TestReplayDLQ(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	for _, key := range []string{"task-created-6", "task-created-7"} {
		id, err := q.Enqueue(ctx, key, createdPayload(6), policy)
		require.NoError(t, err)
		_, err = q.Claim(ctx, "w1")
		require.NoError(t, err)
		_, err = q.Nack(ctx, id, "w1", errors.New("x"), true)
		require.NoError(t, err)
	}

	// a fresh job already covers task-created-7
	_, err := q.Enqueue(ctx, "task-created-7", createdPayload(7), policy)
	require.NoError(t, err)

	moved, err := q.ReplayDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[domain.JobFailed])
	assert.Equal(t, int64(2), stats[domain.JobQueued])

	replayed := map[string]domain.Job{}
	for i := 0; i < 2; i++ {
		job, err := q.Claim(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		replayed[job.DedupKey] = *job
	}
	require.Contains(t, replayed, "task-created-6")
	assert.Zero(t, replayed["task-created-6"].Attempts)
	assert.Empty(t, replayed["task-created-6"].LastError)
}

func TestCompletedIsCappedAndPurged(t *testing.T) {
	q, clk, rdb := newTestQueue(t)
	ctx := context.Background()

	var ids []string
	for i := int64(1); i <= 3; i++ {
		id, err := q.Enqueue(ctx, fmt.Sprintf("task-created-%d", i), createdPayload(i), policy)
		require.NoError(t, err)
		_, err = q.Claim(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, id, "w1"))
		ids = append(ids, id)
		clk.Advance(time.Second)
	}

	n, err := rdb.ZCard(ctx, CompletedKey("test")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = q.Get(ctx, ids[0])
	require.ErrorIs(t, err, errs.ErrJobNotFound)

	clk.Advance(25 * time.Hour)
	purged, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, err = q.Get(ctx, ids[2])
	require.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestNamedSharesConnection(t *testing.T) {
	q, _, _ := newTestQueue(t)
	other := q.Named("other")
	assert.Equal(t, "other", other.Name())

	ctx := context.Background()
	_, err := other.Enqueue(ctx, "x", createdPayload(1), policy)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[domain.JobQueued])
}
