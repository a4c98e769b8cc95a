package realtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/events"
)

// ChangeBridge 订阅更新/动作事件，转成 ChangeEvent 交给 Broadcaster
type ChangeBridge struct {
	b   *Broadcaster
	now func() time.Time
}

func NewChangeBridge(b *Broadcaster) *ChangeBridge {
	return &ChangeBridge{b: b, now: func() time.Time { return time.Now().UTC() }}
}

func (cb *ChangeBridge) Register(d *events.Dispatcher) {
	d.Subscribe(events.KindUpdate, cb)
	d.Subscribe(events.KindAction, cb)
}

// Handle 推送 {entity}-update 及派生事件，受众与快照取自事件的 ChangeContext
func (cb *ChangeBridge) Handle(ctx context.Context, ev events.Event) error {
	var cc events.ChangeContext
	switch e := ev.(type) {
	case events.UpdateEvent:
		cc = e.ChangeContext
	case events.ActionEvent:
		cc = e.ChangeContext
	default:
		return nil
	}

	ref := ev.Target()
	id, err := strconv.ParseInt(ref.TargetID, 10, 64)
	if err != nil {
		if cc.Snapshot == nil {
			return fmt.Errorf("target id %q is not numeric", ref.TargetID)
		}
		id = cc.Snapshot.ID
	}

	cb.b.Broadcast(ctx, domain.ChangeEvent{
		Entity:          strings.ToLower(ref.Module),
		Action:          domain.ChangeUpdate,
		EntityID:        id,
		Snapshot:        cc.Snapshot,
		PreviousLane:    cc.PreviousLane,
		AffectedUserIDs: cc.AffectedUserIDs,
		Timestamp:       cb.now(),
	})
	return nil
}
