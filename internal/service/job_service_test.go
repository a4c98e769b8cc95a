package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
)

type fakeEnqueuer struct {
	mu     sync.Mutex
	keys   map[string]string
	policy domain.RetryPolicy
	err    error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, key string, _ domain.JobPayload, p domain.RetryPolicy) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	f.policy = p
	if id, ok := f.keys[key]; ok {
		return id, errs.ErrDuplicateJob
	}
	id := "job-" + key
	f.keys[key] = id
	return id, nil
}

var testPolicy = domain.RetryPolicy{Attempts: 3, BackoffBase: 2 * time.Second}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "task-created-42", DedupKey("task", domain.ActionCreated, 42))
}

func TestEnqueueChangeDuplicateIsSuccess(t *testing.T) {
	q := &fakeEnqueuer{}
	s := NewJobService(q, testPolicy, zap.NewNop(), nil)
	p := domain.JobPayload{Entity: "task", EntityID: 42, Action: domain.ActionCreated, CompanyID: 1}

	first, err := s.EnqueueChange(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "task-created-42", first.DedupKey)
	assert.Equal(t, testPolicy, q.policy)

	second, err := s.EnqueueChange(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestEnqueueChangeValidates(t *testing.T) {
	s := NewJobService(&fakeEnqueuer{}, testPolicy, zap.NewNop(), nil)

	_, err := s.EnqueueChange(context.Background(), domain.JobPayload{Entity: "task", Action: "deleted", EntityID: 1})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Action", verrs[0].Field())

	_, err = s.EnqueueChange(context.Background(), domain.JobPayload{Entity: "task", Action: domain.ActionCreated})
	require.ErrorAs(t, err, &verrs)
}

func TestEnqueueChangeRejectsUnknownEntity(t *testing.T) {
	q := &fakeEnqueuer{}
	s := NewJobService(q, testPolicy, zap.NewNop(), nil)

	_, err := s.EnqueueChange(context.Background(), domain.JobPayload{Entity: "invoice", EntityID: 42, Action: domain.ActionCreated})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Entity", verrs[0].Field())
	assert.Equal(t, "oneof", verrs[0].Tag())
	assert.Empty(t, q.policy)
}

func TestEnqueueChangePropagatesBackendErrors(t *testing.T) {
	s := NewJobService(&fakeEnqueuer{err: errors.New("redis down")}, testPolicy, zap.NewNop(), nil)
	_, err := s.EnqueueChange(context.Background(), domain.JobPayload{Entity: "task", EntityID: 1, Action: domain.ActionCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task-created-1")
}
