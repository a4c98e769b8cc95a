package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

// QueueOps 运维接口需要的队列操作
type QueueOps interface {
	ListDLQ(ctx context.Context, start, stop int64) ([]domain.Job, error)
	ReplayDLQ(ctx context.Context, count int) (int, error)
	Stats(ctx context.Context) (map[domain.JobState]int64, error)
}

// QueueResolver 按名称取队列
type QueueResolver func(name string) QueueOps

type QueueHandler struct {
	resolve QueueResolver
}

func NewQueueHandler(resolve QueueResolver) *QueueHandler {
	return &QueueHandler{resolve: resolve}
}

// GET /api/v1/queues/:name/dlq
func (h *QueueHandler) ListDLQ(c *gin.Context) {
	name := c.Param("name")
	countStr := c.Query("count")
	count := int64(50)
	if countStr != "" {
		if v, err := strconv.Atoi(countStr); err == nil && v > 0 {
			count = int64(v)
		}
	}
	items, err := h.resolve(name).ListDLQ(c.Request.Context(), 0, count-1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list dlq failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "count": len(items), "items": items})
}

// POST /api/v1/queues/:name/dlq/replay
type ReplayDLQRequest struct {
	Count int `json:"count"`
}

func (h *QueueHandler) ReplayDLQ(c *gin.Context) {
	name := c.Param("name")
	var req ReplayDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		req.Count = 1
	}
	moved, err := h.resolve(name).ReplayDLQ(c.Request.Context(), req.Count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay dlq failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "moved": moved})
}

// GET /api/v1/queues/:name/stats
func (h *QueueHandler) Stats(c *gin.Context) {
	name := c.Param("name")
	stats, err := h.resolve(name).Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue stats failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "states": stats})
}
