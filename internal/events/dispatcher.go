// Package events 进程内事件分发：变更调用点只发布事件，下游（讨论串等）各自订阅
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

type Kind string

const (
	KindCreate  Kind = "create"
	KindMessage Kind = "message"
	KindUpdate  Kind = "update"
	KindAction  Kind = "action"
)

// Ref 事件作用对象
type Ref struct {
	Module       string `json:"module" binding:"required"`
	TargetID     string `json:"target_id" binding:"required"`
	DiscussionID string `json:"discussion_id,omitempty"`
	CompanyID    int64  `json:"company_id"`
	ActorID      string `json:"actor_id"`
}

// Thread 讨论串 id，未显式指定时为 {MODULE}-{targetId}
func (r Ref) Thread() string {
	if r.DiscussionID != "" {
		return r.DiscussionID
	}
	return DiscussionID(r.Module, r.TargetID)
}

func DiscussionID(module, targetID string) string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(module), targetID)
}

type Event interface {
	Kind() Kind
	Target() Ref
}

type CreateEvent struct {
	Ref
	Title    string   `json:"title"`
	Watchers []string `json:"watchers"`
}

type MessageEvent struct {
	Ref
	Content  string `json:"content" binding:"required"`
	Activity string `json:"activity"`
}

// ChangeContext 变更后的实体快照与受众，供实时推送派生事件
type ChangeContext struct {
	Snapshot        *domain.Task `json:"snapshot,omitempty"`
	PreviousLane    string       `json:"previous_lane,omitempty"`
	AffectedUserIDs []string     `json:"affected_user_ids,omitempty"`
}

type UpdateEvent struct {
	Ref
	ChangeContext
	Changes []domain.FieldChange `json:"changes" binding:"dive"`
}

type ActionEvent struct {
	Ref
	ChangeContext
	Action  string         `json:"action" binding:"required"`
	Details map[string]any `json:"details"`
}

func (CreateEvent) Kind() Kind  { return KindCreate }
func (MessageEvent) Kind() Kind { return KindMessage }
func (UpdateEvent) Kind() Kind  { return KindUpdate }
func (ActionEvent) Kind() Kind  { return KindAction }

func (e CreateEvent) Target() Ref  { return e.Ref }
func (e MessageEvent) Target() Ref { return e.Ref }
func (e UpdateEvent) Target() Ref  { return e.Ref }
func (e ActionEvent) Target() Ref  { return e.Ref }

// Handler 事件订阅者
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher 同步调用订阅者；订阅者的错误与 panic 只记录，绝不返回给发布方
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind][]Handler), log: log}
}

func (d *Dispatcher) Subscribe(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Publish 发布事件
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	hs := d.handlers[ev.Kind()]
	d.mu.RUnlock()

	for _, h := range hs {
		d.invoke(ctx, h, ev)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev Event) {
	ref := ev.Target()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, d.log, "event handler panicked",
				zap.String("kind", string(ev.Kind())),
				zap.String("discussion_id", ref.Thread()),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h.Handle(ctx, ev); err != nil {
		logger.Error(ctx, d.log, "event handler failed",
			zap.String("kind", string(ev.Kind())),
			zap.String("discussion_id", ref.Thread()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) Create(ctx context.Context, ev CreateEvent)   { d.Publish(ctx, ev) }
func (d *Dispatcher) Message(ctx context.Context, ev MessageEvent) { d.Publish(ctx, ev) }
func (d *Dispatcher) Update(ctx context.Context, ev UpdateEvent)   { d.Publish(ctx, ev) }
func (d *Dispatcher) Action(ctx context.Context, ev ActionEvent)   { d.Publish(ctx, ev) }
