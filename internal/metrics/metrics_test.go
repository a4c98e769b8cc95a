package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Enqueued(ResultEnqueued)
	m.Enqueued(ResultDuplicate)
	m.Enqueued(ResultDuplicate)
	m.Processed(OutcomeCompleted, 10*time.Millisecond)
	m.Stalled(2)
	m.Stalled(0)
	m.Notification(domain.OpInsert, ResultEnqueued)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues(ResultEnqueued)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.enqueued.WithLabelValues(ResultDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stalled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues(domain.OpInsert, ResultEnqueued)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Enqueued(ResultError)
		m.Processed(OutcomeDead, time.Second)
		m.Stalled(1)
		m.Notification(domain.OpUpdate, ResultError)
	})
}

type fakeStats struct {
	stats map[domain.JobState]int64
	err   error
}

func (f fakeStats) Name() string { return "entity-pipeline" }

func (f fakeStats) Stats(context.Context) (map[domain.JobState]int64, error) {
	return f.stats, f.err
}

func TestQueueDepthCollector(t *testing.T) {
	c := NewQueueDepthCollector(fakeStats{stats: map[domain.JobState]int64{
		domain.JobQueued: 3,
		domain.JobFailed: 1,
	}})

	expected := `
# HELP pipeline_queue_depth Jobs per state.
# TYPE pipeline_queue_depth gauge
pipeline_queue_depth{queue="entity-pipeline",state="failed"} 1
pipeline_queue_depth{queue="entity-pipeline",state="queued"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestQueueDepthCollectorError(t *testing.T) {
	c := NewQueueDepthCollector(fakeStats{err: errors.New("redis down")})
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	_, err := reg.Gather()
	assert.Error(t, err)
}
