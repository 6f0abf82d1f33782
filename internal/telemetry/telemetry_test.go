package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/webthumb/internal/config"
)

func TestSetupWithoutProjectSamplesLocally(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	p, err := setup(ctx, config.TelemetryConfig{ServiceName: "webthumb-test", SampleRatio: 1}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(ctx, "render")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}

func TestSetupZeroRatioDropsSpans(t *testing.T) {
	ctx := context.Background()

	p, err := setup(ctx, config.TelemetryConfig{ServiceName: "webthumb-test"}, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer.Tracer("test").Start(ctx, "render")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestShutdownNil(t *testing.T) {
	t.Parallel()

	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
