// Package realtime 实时推送：websocket 连接管理、跨进程转发与事件扇出
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongDelay  = 60 * time.Second
	pingPeriod = pongDelay * 9 / 10
	sendBuffer = 64
)

// Emitter 推送目标：指定账号或全部连接
type Emitter interface {
	EmitToClients(ctx context.Context, accountIDs []string, event string, payload any) error
	EmitToAll(ctx context.Context, event string, payload any) error
}

// Message 下发给客户端的帧
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	accountID string
	send      chan []byte
}

// Hub 本进程内的连接表，按账号索引；一个账号可有多个连接
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*client]struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{}), done: make(chan struct{}), log: log}
}

// Close 通知所有 Serve 发送 going away 并断开；之后接入的连接立即关闭
// 被 hijack 的连接不受 http.Server.Shutdown 管理，需在关停时调用
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) add(accountID string) *client {
	c := &client{accountID: accountID, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[accountID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[accountID] = set
	}
	set[c] = struct{}{}
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.accountID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.accountID)
		}
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// deliver 非阻塞写入；缓冲已满的慢客户端丢弃本帧
func (h *Hub) deliver(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		h.log.Warn("dropping frame for slow client", zap.String("account_id", c.accountID))
		return false
	}
}

// SendTo 投递给指定账号的所有连接，返回成功投递数
func (h *Hub) SendTo(accountIDs []string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for c := range h.clients[id] {
			if h.deliver(c, frame) {
				n++
			}
		}
	}
	return n
}

func (h *Hub) SendAll(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		for c := range set {
			if h.deliver(c, frame) {
				n++
			}
		}
	}
	return n
}

func encodeFrame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Payload: raw})
}

func (h *Hub) EmitToClients(_ context.Context, accountIDs []string, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.SendTo(accountIDs, frame)
	return nil
}

func (h *Hub) EmitToAll(_ context.Context, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.SendAll(frame)
	return nil
}

// Serve 接管连接直到对端断开、ctx 取消或 Hub 关闭
// 通过 ping/pong 发现已离开的客户端；客户端上行消息被丢弃
func (h *Hub) Serve(ctx context.Context, socket *websocket.Conn, accountID string) {
	select {
	case <-h.done:
		goingAway(socket)
		socket.Close()
		return
	default:
	}

	c := h.add(accountID)
	defer h.remove(c)
	defer socket.Close()

	socket.SetReadDeadline(time.Now().Add(pongDelay))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(pongDelay))
		return nil
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := socket.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			goingAway(socket)
			return
		case <-closed:
			return
		case frame := <-c.send:
			socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("websocket write failed", zap.String("account_id", accountID), zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := socket.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				h.log.Debug("failed to write ping", zap.String("account_id", accountID), zap.Error(err))
				return
			}
		}
	}
}

func goingAway(socket *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
