package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
)

// Enqueuer 队列写入端
type Enqueuer interface {
	Enqueue(ctx context.Context, dedupKey string, payload domain.JobPayload, policy domain.RetryPolicy) (string, error)
}

// JobService 变更监听器与同步写路径共用的入队入口
type JobService struct {
	q        Enqueuer
	policy   domain.RetryPolicy
	validate *validator.Validate
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewJobService(q Enqueuer, policy domain.RetryPolicy, log *zap.Logger, m *metrics.Metrics) *JobService {
	return &JobService{
		q:        q,
		policy:   policy,
		validate: validator.New(),
		log:      log,
		metrics:  m,
	}
}

// DedupKey 例如 "task-created-42"
func DedupKey(entity, action string, id int64) string {
	return fmt.Sprintf("%s-%s-%d", entity, action, id)
}

type EnqueueResult struct {
	JobID     string `json:"job_id"`
	DedupKey  string `json:"dedup_key"`
	Duplicate bool   `json:"duplicate"`
}

// EnqueueChange 校验并入队；去重键已有未完成任务时视为成功
func (s *JobService) EnqueueChange(ctx context.Context, p domain.JobPayload) (EnqueueResult, error) {
	if err := s.validate.Struct(p); err != nil {
		return EnqueueResult{}, err
	}

	key := DedupKey(p.Entity, p.Action, p.EntityID)
	id, err := s.q.Enqueue(ctx, key, p, s.policy)
	switch {
	case errors.Is(err, errs.ErrDuplicateJob):
		// 多实例同时收到同一变更时的正常情况
		s.metrics.Enqueued(metrics.ResultDuplicate)
		logger.Info(ctx, s.log, "job already outstanding",
			zap.String("dedup_key", key),
			zap.String("job_id", id),
		)
		return EnqueueResult{JobID: id, DedupKey: key, Duplicate: true}, nil
	case err != nil:
		s.metrics.Enqueued(metrics.ResultError)
		return EnqueueResult{}, fmt.Errorf("enqueue %s: %w", key, err)
	}

	s.metrics.Enqueued(metrics.ResultEnqueued)
	logger.Debug(ctx, s.log, "job enqueued",
		zap.String("dedup_key", key),
		zap.String("job_id", id),
	)
	return EnqueueResult{JobID: id, DedupKey: key}, nil
}
