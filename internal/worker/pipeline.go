package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/events"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/notify"
)

var tracer = otel.Tracer("worker/pipeline")

type TaskStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Task, error)
}

type WatcherStore interface {
	Replace(ctx context.Context, w domain.Watcher) error
	DeleteRoleExcept(ctx context.Context, taskID int64, role domain.WatcherType, keep string) (int64, error)
}

type ScriptRunner interface {
	ExecuteCreationScripts(ctx context.Context, t *domain.Task) error
}

type DiscussionPublisher interface {
	Create(ctx context.Context, ev events.CreateEvent)
}

type ChangeBroadcaster interface {
	Broadcast(ctx context.Context, ev domain.ChangeEvent)
}

// Pipeline 单个任务的副作用流水线
type Pipeline struct {
	tasks       TaskStore
	watchers    WatcherStore
	notifier    notify.Sender
	discussions DiscussionPublisher
	scripts     ScriptRunner
	broadcaster ChangeBroadcaster
	log         *zap.Logger
	now         func() time.Time
}

type PipelineDeps struct {
	Tasks       TaskStore
	Watchers    WatcherStore
	Notifier    notify.Sender
	Discussions DiscussionPublisher
	Scripts     ScriptRunner
	Broadcaster ChangeBroadcaster
}

func NewPipeline(deps PipelineDeps, log *zap.Logger) *Pipeline {
	return &Pipeline{
		tasks:       deps.Tasks,
		watchers:    deps.Watchers,
		notifier:    deps.Notifier,
		discussions: deps.Discussions,
		scripts:     deps.Scripts,
		broadcaster: deps.Broadcaster,
		log:         log,
		now:         time.Now,
	}
}

// Process 执行一个任务
//
// created：重新读取实体 → 同步关注人 → 通知负责人 → 创建讨论串 → 自定义脚本 → 实时推送
// updated：暂不处理
//
// 非 task 实体与实体不存在返回 errs.Permanent；脚本失败原样返回以触发重试；其余副作用失败只记录
func (p *Pipeline) Process(ctx context.Context, job *domain.Job) (domain.ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.action", job.Payload.Action),
		attribute.Int64("entity.id", job.Payload.EntityID),
		attribute.Int("job.attempts", job.Attempts),
	)

	start := p.now()
	var err error
	switch {
	case job.Payload.Entity != domain.EntityTask:
		err = errs.Permanent(fmt.Errorf("unsupported entity %q", job.Payload.Entity))
	case job.Payload.Action == domain.ActionCreated:
		err = p.created(ctx, job.Payload)
	case job.Payload.Action == domain.ActionUpdated:
		logger.Debug(ctx, p.log, "updated action has no side effects", zap.Int64("entity_id", job.Payload.EntityID))
	default:
		err = errs.Permanent(fmt.Errorf("unknown action %q", job.Payload.Action))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ProcessResult{EntityID: job.Payload.EntityID}, err
	}

	return domain.ProcessResult{
		Success:          true,
		EntityID:         job.Payload.EntityID,
		ProcessingTimeMs: p.now().Sub(start).Milliseconds(),
	}, nil
}

func (p *Pipeline) created(ctx context.Context, payload domain.JobPayload) error {
	task, err := p.tasks.GetByID(ctx, payload.EntityID)
	if errors.Is(err, errs.ErrEntityNotFound) {
		return errs.Permanent(fmt.Errorf("%s %d: %w", payload.Entity, payload.EntityID, err))
	}
	if err != nil {
		return fmt.Errorf("fetch %s %d: %w", payload.Entity, payload.EntityID, err)
	}
	if task.CompanyID == 0 {
		task.CompanyID = payload.CompanyID
	}

	p.syncWatchers(ctx, task)
	p.notifyAssignee(ctx, task)
	p.createDiscussion(ctx, payload.Entity, task)

	if err := p.scripts.ExecuteCreationScripts(ctx, task); err != nil {
		return err
	}

	p.broadcaster.Broadcast(ctx, domain.ChangeEvent{
		Entity:          payload.Entity,
		Action:          domain.ChangeCreate,
		EntityID:        task.ID,
		Snapshot:        task,
		AffectedUserIDs: participants(task),
		Timestamp:       p.now().UTC(),
	})
	return nil
}

// participants 创建人与负责人，去重
func participants(t *domain.Task) []string {
	ids := []string{t.CreatedBy}
	if a := t.Assignee(); a != "" && a != t.CreatedBy {
		ids = append(ids, a)
	}
	return ids
}

// WatcherSet 创建人总是 CREATOR；负责人存在且不同于创建人时为 ASSIGNEE
func WatcherSet(t *domain.Task) []domain.Watcher {
	set := []domain.Watcher{{TaskID: t.ID, AccountID: t.CreatedBy, Type: domain.WatcherCreator}}
	if a := t.Assignee(); a != "" && a != t.CreatedBy {
		set = append(set, domain.Watcher{TaskID: t.ID, AccountID: a, Type: domain.WatcherAssignee})
	}
	return set
}

func (p *Pipeline) syncWatchers(ctx context.Context, t *domain.Task) {
	for _, w := range WatcherSet(t) {
		if err := p.watchers.Replace(ctx, w); err != nil {
			logger.Warn(ctx, p.log, "failed to sync watcher",
				zap.Int64("task_id", t.ID),
				zap.String("account_id", w.AccountID),
				zap.String("type", string(w.Type)),
				zap.Error(err),
			)
		}
	}

	// 负责人变更后，旧负责人不再保留 ASSIGNEE
	removed, err := p.watchers.DeleteRoleExcept(ctx, t.ID, domain.WatcherAssignee, t.Assignee())
	if err != nil {
		logger.Warn(ctx, p.log, "failed to drop stale assignee watchers", zap.Int64("task_id", t.ID), zap.Error(err))
	} else if removed > 0 {
		logger.Info(ctx, p.log, "stale assignee watchers removed", zap.Int64("task_id", t.ID), zap.Int64("count", removed))
	}
}

func (p *Pipeline) notifyAssignee(ctx context.Context, t *domain.Task) {
	assignee := t.Assignee()
	if assignee == "" || assignee == t.CreatedBy {
		return
	}
	err := p.notifier.Send(ctx, notify.Notification{
		CompanyID:    t.CompanyID,
		ActorID:      t.CreatedBy,
		RecipientIDs: []string{assignee},
		Title:        t.Title,
		TypeKey:      notify.TypeTaskAssigned,
		EntityID:     t.ID,
	})
	if err != nil {
		logger.Warn(ctx, p.log, "failed to notify assignee",
			zap.Int64("task_id", t.ID),
			zap.String("assignee", assignee),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) createDiscussion(ctx context.Context, entity string, t *domain.Task) {
	p.discussions.Create(ctx, events.CreateEvent{
		Ref: events.Ref{
			Module:    entity,
			TargetID:  strconv.FormatInt(t.ID, 10),
			CompanyID: t.CompanyID,
			ActorID:   t.CreatedBy,
		},
		Title:    t.Title,
		Watchers: participants(t),
	})
}
