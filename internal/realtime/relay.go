package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

// envelope Redis 频道上的跨进程帧；Targets 为空时表示广播
type envelope struct {
	Targets []string        `json:"targets,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisEmitter worker 进程没有 websocket 连接，通过 Redis 频道交给 API 进程推送
type RedisEmitter struct {
	rdb     *redis.Client
	channel string
}

func NewRedisEmitter(rdb *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{rdb: rdb, channel: channel}
}

func (e *RedisEmitter) publish(ctx context.Context, targets []string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	b, err := json.Marshal(envelope{Targets: targets, Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return e.rdb.Publish(ctx, e.channel, b).Err()
}

func (e *RedisEmitter) EmitToClients(ctx context.Context, accountIDs []string, event string, payload any) error {
	if len(accountIDs) == 0 {
		return nil
	}
	return e.publish(ctx, accountIDs, event, payload)
}

func (e *RedisEmitter) EmitToAll(ctx context.Context, event string, payload any) error {
	return e.publish(ctx, nil, event, payload)
}

// Relay 订阅频道并转交本进程的 Hub
type Relay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewRelay(rdb *redis.Client, channel string, hub *Hub, log *zap.Logger) *Relay {
	return &Relay{rdb: rdb, channel: channel, hub: hub, log: log}
}

// Run 阻塞直到 ctx 取消
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	logger.Info(ctx, r.log, "realtime relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, msg.Payload)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logger.Warn(ctx, r.log, "malformed realtime envelope", zap.Error(err))
		return
	}
	frame, err := json.Marshal(Message{Event: env.Event, Payload: env.Payload})
	if err != nil {
		logger.Warn(ctx, r.log, "encode realtime frame", zap.Error(err))
		return
	}
	if len(env.Targets) > 0 {
		r.hub.SendTo(env.Targets, frame)
		return
	}
	r.hub.SendAll(frame)
}
