package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

const EventApprovalProcessed = "approval-processed"

// DerivedPayload 派生事件只携带标识
type DerivedPayload struct {
	ID        int64     `json:"id"`
	Entity    string    `json:"entity"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster 把 ChangeEvent 扇出给客户端；失败只记录
type Broadcaster struct {
	emitter Emitter
	log     *zap.Logger
}

func NewBroadcaster(emitter Emitter, log *zap.Logger) *Broadcaster {
	return &Broadcaster{emitter: emitter, log: log}
}

// Broadcast affectedUserIds 非空时定向投递，否则广播
// 派生事件与通用事件使用同一受众
func (b *Broadcaster) Broadcast(ctx context.Context, ev domain.ChangeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.emit(ctx, ev.AffectedUserIDs, ev.Entity+"-"+ev.Action, ev)

	derived := DerivedPayload{ID: ev.EntityID, Entity: ev.Entity, Timestamp: ev.Timestamp}
	for _, name := range DerivedEvents(ev) {
		b.emit(ctx, ev.AffectedUserIDs, name, derived)
	}
}

// DerivedEvents 按事件内容派生的附加事件名
func DerivedEvents(ev domain.ChangeEvent) []string {
	if ev.Action != domain.ChangeUpdate || ev.Snapshot == nil {
		return nil
	}
	var out []string
	if ev.Snapshot.BoardLane == domain.LaneDone && ev.PreviousLane != domain.LaneDone {
		out = append(out, ev.Entity+"-completed")
	}
	if ev.Snapshot.Type == domain.TaskTypeApproval {
		out = append(out, EventApprovalProcessed)
	}
	return out
}

func (b *Broadcaster) emit(ctx context.Context, audience []string, event string, payload any) {
	var err error
	if len(audience) > 0 {
		err = b.emitter.EmitToClients(ctx, audience, event, payload)
	} else {
		err = b.emitter.EmitToAll(ctx, event, payload)
	}
	if err != nil {
		logger.Warn(ctx, b.log, "realtime delivery failed",
			zap.String("event", event),
			zap.Int("targets", len(audience)),
			zap.Error(err),
		)
	}
}
