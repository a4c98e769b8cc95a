// Package metrics 流水线的 Prometheus 指标
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

const namespace = "pipeline"

// Enqueue / process 结果标签
const (
	ResultEnqueued  = "enqueued"
	ResultDuplicate = "duplicate"
	ResultError     = "error"

	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
	OutcomeLost      = "lost"
)

// Metrics 所有方法对 nil 接收者安全，测试中可直接传 nil
type Metrics struct {
	enqueued      *prometheus.CounterVec
	processed     *prometheus.CounterVec
	duration      prometheus.Histogram
	stalled       prometheus.Counter
	notifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Enqueue attempts by result.",
		}, []string{"result"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Processed jobs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Pipeline run time per job.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		stalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_stalled_total",
			Help:      "Jobs returned to the ready list after their stall deadline.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_notifications_total",
			Help:      "Change feed notifications by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.enqueued, m.processed, m.duration, m.stalled, m.notifications)
	return m
}

// NewRegistry 带 Go 运行时与进程指标的独立 registry
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) Enqueued(result string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(result).Inc()
}

func (m *Metrics) Processed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) Stalled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stalled.Add(float64(n))
}

func (m *Metrics) Notification(operation, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(operation, result).Inc()
}

// StatsSource 队列深度来源
type StatsSource interface {
	Name() string
	Stats(ctx context.Context) (map[domain.JobState]int64, error)
}

// QueueDepthCollector 抓取时实时读取队列各状态数量
type QueueDepthCollector struct {
	src  StatsSource
	desc *prometheus.Desc
}

func NewQueueDepthCollector(src StatsSource) *QueueDepthCollector {
	return &QueueDepthCollector{
		src: src,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Jobs per state.",
			[]string{"queue", "state"}, nil,
		),
	}
}

func (c *QueueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *QueueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := c.src.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for state, n := range stats {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), c.src.Name(), string(state))
	}
}
