package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gtplusnet/ante-official-sub001/internal/worker"
)

// WorkerLister 列出心跳仍有效的 worker
type WorkerLister func(ctx context.Context) ([]worker.WorkerInfo, error)

type WorkerHandler struct {
	list WorkerLister
}

func NewWorkerHandler(list WorkerLister) *WorkerHandler {
	return &WorkerHandler{list: list}
}

// GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	workers, err := h.list(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list workers failed", "detail": err.Error()})
		return
	}
	if workers == nil {
		workers = []worker.WorkerInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}
