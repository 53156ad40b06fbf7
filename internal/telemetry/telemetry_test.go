package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "getoc-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)

	// Noop provider should have nil TracerProvider and MeterProvider
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	assert.NoError(t, provider.Shutdown(ctx))
}

func TestInit_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "getoc-test",
		Environment: "test",
		Enabled:     true,
		Exporter:    telemetry.ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	_, span := provider.Tracer.Start(ctx, "download.fetch")
	span.End()

	require.NoError(t, provider.Shutdown(ctx))
	assert.Contains(t, buf.String(), "download.fetch")
}

func TestInit_SampleRatio(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "getoc-test",
		Enabled:     true,
		Exporter:    telemetry.ExporterStdout,
		SampleRatio: 0.000001,
		Writer:      &buf,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, span := provider.Tracer.Start(ctx, "platform.Resolve")
		span.End()
	}
	require.NoError(t, provider.Shutdown(ctx))
	assert.NotContains(t, buf.String(), "platform.Resolve")
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "getoc-test",
		Enabled:     true,
		Exporter:    "carrier-pigeon",
	})
	assert.Error(t, err)
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestTracer_ReturnsGlobalTracer(t *testing.T) {
	assert.NotNil(t, telemetry.Tracer("test-tracer"))
}

func TestMeter_ReturnsGlobalMeter(t *testing.T) {
	assert.NotNil(t, telemetry.Meter("test-meter"))
}
