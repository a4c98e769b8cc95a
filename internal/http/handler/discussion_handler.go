package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gtplusnet/ante-official-sub001/internal/events"
)

// EventPublisher 事件分发入口；订阅者的失败不会返回给调用方
type EventPublisher interface {
	Message(ctx context.Context, ev events.MessageEvent)
	Update(ctx context.Context, ev events.UpdateEvent)
	Action(ctx context.Context, ev events.ActionEvent)
}

// DiscussionHandler 写路径在变更提交后上报讨论事件
type DiscussionHandler struct {
	events EventPublisher
}

func NewDiscussionHandler(p EventPublisher) *DiscussionHandler {
	return &DiscussionHandler{events: p}
}

func accepted(c *gin.Context, ref events.Ref) {
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "discussion_id": ref.Thread()})
}

// POST /api/v1/discussions/update
func (h *DiscussionHandler) Update(c *gin.Context) {
	var ev events.UpdateEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": FormatValidationError(err)})
		return
	}
	h.events.Update(c.Request.Context(), ev)
	accepted(c, ev.Ref)
}

// POST /api/v1/discussions/action
func (h *DiscussionHandler) Action(c *gin.Context) {
	var ev events.ActionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": FormatValidationError(err)})
		return
	}
	h.events.Action(c.Request.Context(), ev)
	accepted(c, ev.Ref)
}

// POST /api/v1/discussions/message
func (h *DiscussionHandler) Message(c *gin.Context) {
	var ev events.MessageEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": FormatValidationError(err)})
		return
	}
	h.events.Message(c.Request.Context(), ev)
	accepted(c, ev.Ref)
}
