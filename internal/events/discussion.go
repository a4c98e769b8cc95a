package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/composer"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

const (
	ActivityCreated = "created the discussion"
	ActivityUpdated = "updated"
	ActivityComment = "commented"
	openingMessage  = "Discussion created"
)

// DiscussionStore 讨论串存储
type DiscussionStore interface {
	CreateMessage(ctx context.Context, companyID int64, m domain.DiscussionMessage) (int64, error)
	Title(ctx context.Context, discussionID string) (string, error)
	SyncWatchers(ctx context.Context, discussionID string, accountIDs []string) error
}

// DiscussionHandler 把事件落成讨论串里的消息
type DiscussionHandler struct {
	store DiscussionStore
	log   *zap.Logger
}

func NewDiscussionHandler(store DiscussionStore, log *zap.Logger) *DiscussionHandler {
	return &DiscussionHandler{store: store, log: log}
}

// Register 订阅全部四类事件
func (h *DiscussionHandler) Register(d *Dispatcher) {
	for _, k := range []Kind{KindCreate, KindMessage, KindUpdate, KindAction} {
		d.Subscribe(k, h)
	}
}

func (h *DiscussionHandler) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CreateEvent:
		return h.create(ctx, e)
	case MessageEvent:
		activity := e.Activity
		if activity == "" {
			activity = ActivityComment
		}
		return h.post(ctx, e.Ref, e.Content, activity)
	case UpdateEvent:
		return h.post(ctx, e.Ref, composer.Compose(e.Module, e.Changes), ActivityUpdated)
	case ActionEvent:
		return h.post(ctx, e.Ref, composer.Wrap(e.Module, composer.FormatAction(e.Action, e.Details)), e.Action)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

// create 无租户上下文时静默跳过
func (h *DiscussionHandler) create(ctx context.Context, e CreateEvent) error {
	thread := e.Thread()
	if e.CompanyID == 0 {
		logger.Debug(ctx, h.log, "skipping discussion creation",
			zap.String("discussion_id", thread),
			zap.Error(errs.ErrNoTenant),
		)
		return nil
	}

	_, err := h.store.CreateMessage(ctx, e.CompanyID, domain.DiscussionMessage{
		DiscussionID: thread,
		Module:       e.Module,
		TargetID:     e.TargetID,
		Title:        e.Title,
		Content:      composer.Wrap(e.Module, openingMessage),
		Activity:     ActivityCreated,
		ActorID:      e.ActorID,
	})
	if err != nil {
		return fmt.Errorf("create discussion %s: %w", thread, err)
	}

	if watchers := uniqueIDs(e.Watchers); len(watchers) > 0 {
		if err := h.store.SyncWatchers(ctx, thread, watchers); err != nil {
			return fmt.Errorf("sync watchers of %s: %w", thread, err)
		}
	}
	logger.Info(ctx, h.log, "discussion created", zap.String("discussion_id", thread))
	return nil
}

// post 追加消息，沿用已有讨论串的标题
func (h *DiscussionHandler) post(ctx context.Context, ref Ref, content, activity string) error {
	thread := ref.Thread()
	title, err := h.store.Title(ctx, thread)
	if err != nil {
		return fmt.Errorf("load title of %s: %w", thread, err)
	}
	if title == "" {
		title = thread
	}
	_, err = h.store.CreateMessage(ctx, ref.CompanyID, domain.DiscussionMessage{
		DiscussionID: thread,
		Module:       ref.Module,
		TargetID:     ref.TargetID,
		Title:        title,
		Content:      content,
		Activity:     activity,
		ActorID:      ref.ActorID,
	})
	if err != nil {
		return fmt.Errorf("post to %s: %w", thread, err)
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
