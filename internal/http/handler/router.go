package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Routes 各组处理器；为 nil 的组不注册
type Routes struct {
	Health      *HealthHandler
	Jobs        *JobHandler
	Runs        *RunHandler
	Queues      *QueueHandler
	Workers     *WorkerHandler
	Metrics     *MetricsHandler
	Discussions *DiscussionHandler
	WS          *WSHandler
	Prometheus  http.Handler
}

func NewRouter(r Routes) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	// 健康与就绪
	if r.Health != nil {
		engine.GET("/healthz", r.Health.Healthz)
		engine.GET("/readyz", r.Health.Readyz)
	}
	if r.Prometheus != nil {
		engine.GET("/metrics", gin.WrapH(r.Prometheus))
	}
	if r.WS != nil {
		engine.GET("/ws", r.WS.Connect)
	}

	api := engine.Group("/api/v1")
	if r.Jobs != nil {
		api.POST("/jobs", r.Jobs.Enqueue)
		api.GET("/jobs/:id", r.Jobs.Get)
	}
	if r.Runs != nil {
		api.GET("/jobs/:id/runs", r.Runs.ListRuns)
	}
	if r.Discussions != nil {
		api.POST("/discussions/update", r.Discussions.Update)
		api.POST("/discussions/action", r.Discussions.Action)
		api.POST("/discussions/message", r.Discussions.Message)
	}
	if r.Queues != nil {
		api.GET("/queues/:name/dlq", r.Queues.ListDLQ)
		api.POST("/queues/:name/dlq/replay", r.Queues.ReplayDLQ)
		api.GET("/queues/:name/stats", r.Queues.Stats)
	}
	if r.Workers != nil {
		api.GET("/workers", r.Workers.ListWorkers)
	}
	if r.Metrics != nil {
		api.GET("/metrics/janitor", r.Metrics.GetJanitorMetrics)
	}
	return engine
}
