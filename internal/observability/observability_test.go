package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInitLoggerLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	InitLogger("svc", "production", "warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	InitLogger("svc", "production", "nonsense")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestLoggerFromContextAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := base.WithContext(context.Background())

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	l := LoggerFromContext(ctx, zerolog.Nop())
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`)
	assert.Contains(t, buf.String(), `"span_id":"00f067aa0ba902b7"`)
}

func TestLoggerFromContextWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	l := LoggerFromContext(ctx, zerolog.Nop())
	l.Info().Msg("plain")
	assert.Contains(t, buf.String(), "plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestLoggerFromContextFallsBackToBase(t *testing.T) {
	var buf bytes.Buffer
	l := LoggerFromContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("from base")
	assert.Contains(t, buf.String(), "from base")

	var quiet bytes.Buffer
	nop := LoggerFromContext(context.Background(), zerolog.New(&quiet).Level(zerolog.Disabled))
	nop.Info().Msg("dropped")
	assert.Empty(t, quiet.String())
}

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown := SetupTracing("svc")
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
