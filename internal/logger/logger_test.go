package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "local")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zap.DebugLevel))

	l, err = New("warn", "prod")
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zap.InfoLevel))

	_, err = New("loud", "local")
	require.Error(t, err)
}

func TestTraceFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := zap.New(core)

	Info(context.Background(), l, "no span")
	require.Len(t, logs.All()[0].Context, 0)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	Error(ctx, l, "with span", zap.String("k", "v"))

	fields := logs.All()[1].ContextMap()
	require.Equal(t, "v", fields["k"])
	require.Equal(t, spanCtx.TraceID().String(), fields["trace_id"])
	require.Equal(t, spanCtx.SpanID().String(), fields["span_id"])
}
