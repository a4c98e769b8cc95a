package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
	"github.com/gtplusnet/ante-official-sub001/internal/service"
)

type ChangeEnqueuer interface {
	EnqueueChange(ctx context.Context, p domain.JobPayload) (service.EnqueueResult, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// JobHandler 同步写路径在事务提交后调用的入队接口
type JobHandler struct {
	svc  ChangeEnqueuer
	jobs JobReader
	log  *zap.Logger
}

func NewJobHandler(svc ChangeEnqueuer, jobs JobReader, log *zap.Logger) *JobHandler {
	return &JobHandler{svc: svc, jobs: jobs, log: log}
}

// 请求体：入队一次实体变更
type EnqueueJobRequest struct {
	Entity    string          `json:"entity" binding:"required"`
	EntityID  int64           `json:"entity_id" binding:"required,gt=0"`
	Action    string          `json:"action"`
	CompanyID int64           `json:"company_id"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// POST /api/v1/jobs
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": FormatValidationError(err)})
		return
	}
	if req.Action == "" {
		req.Action = domain.ActionCreated
	}

	res, err := h.svc.EnqueueChange(c.Request.Context(), domain.JobPayload{
		Entity:    req.Entity,
		EntityID:  req.EntityID,
		Action:    req.Action,
		CompanyID: req.CompanyID,
		Snapshot:  req.Snapshot,
	})
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": FormatValidationError(err)})
		return
	case err != nil:
		h.log.Error("enqueue job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue job failed"})
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, errs.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.log.Error("get job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
