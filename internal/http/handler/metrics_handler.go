package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const janitorLastRunKey = "metrics:janitor:last"

type MetricsHandler struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewMetricsHandler(rdb *redis.Client, log *zap.Logger) *MetricsHandler {
	return &MetricsHandler{rdb: rdb, log: log}
}

// GET /api/v1/metrics/janitor
func (h *MetricsHandler) GetJanitorMetrics(c *gin.Context) {
	last, err := h.rdb.HGetAll(c.Request.Context(), janitorLastRunKey).Result()
	if err != nil {
		h.log.Error("failed to get janitor metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"last": last, // time, purged, owner
	})
}
