package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

type RunLister interface {
	ListByJob(ctx context.Context, jobID string) ([]domain.JobRun, error)
}

// RunHandler 查询任务的执行历史
type RunHandler struct {
	runs RunLister
	log  *zap.Logger
}

func NewRunHandler(runs RunLister, log *zap.Logger) *RunHandler {
	return &RunHandler{runs: runs, log: log}
}

// GET /api/v1/jobs/:id/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	runs, err := h.runs.ListByJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error("list job runs failed", zap.String("job_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list job runs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(runs), "runs": runs})
}
