package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(ErrorLevel, &bytes.Buffer{}))
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestShutdownOTel_NilProviders(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NewLogger(ErrorLevel, &bytes.Buffer{})))
}

func TestShutdownOTel_TracerOnly(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	err := ShutdownOTel(context.Background(), &OTelProviders{TracerProvider: tp}, NewLogger(ErrorLevel, &bytes.Buffer{}))
	assert.NoError(t, err)
}

func TestOTelConfig_Sampler(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{"unset samples everything", 0, "AlwaysOnSampler"},
		{"full ratio", 1, "AlwaysOnSampler"},
		{"partial ratio", 0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := OTelConfig{SampleRatio: tt.ratio}.Sampler().Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
	})

	t.Run("recording span", func(t *testing.T) {
		buf.Reset()
		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "callback")
		UpdateLoggerWithTraceContext(ctx, logger).Info("traced")
		span.End()

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, span.SpanContext().TraceID().String(), entries[0]["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entries[0]["span_id"])
		assert.Len(t, recorder.Ended(), 1)
	})

	t.Run("non-recording span", func(t *testing.T) {
		buf.Reset()
		ctx := trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})
		assert.Same(t, logger, UpdateLoggerWithTraceContext(ctx, logger))
	})
}
