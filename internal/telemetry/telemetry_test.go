package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/config"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), config.Config{ServiceName: "railzway-connect"}, zap.NewNop())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop-span")
	require.False(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerBounds(t *testing.T) {
	require.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewWithEndpointSamplesSpans(t *testing.T) {
	cfg := config.Config{
		ServiceName:          "railzway-connect",
		Environment:          "test",
		TelemetryEndpoint:    "127.0.0.1:1",
		TelemetryInsecure:    true,
		TelemetrySampleRatio: 1,
	}
	p, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	exp, err := newExporter(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, exp)

	_, span := p.Tracer().Start(context.Background(), "sampled-span")
	require.True(t, span.SpanContext().IsSampled())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
	_ = exp.Shutdown(ctx)
}
