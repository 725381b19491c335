package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	t.Setenv("LLM_COUNCIL_OTEL_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), "llm-council")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	t.Setenv("LLM_COUNCIL_OTEL_ENDPOINT", "http://127.0.0.1:4318")
	t.Setenv("LLM_COUNCIL_OTEL_ENABLED", "false")
	shutdown, err = Setup(context.Background(), "llm-council")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInstallRecordsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	recorder := tracetest.NewSpanRecorder()
	shutdown, err := install(context.Background(), "llm-council-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "council.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "council.run", spans[0].Name())
}
