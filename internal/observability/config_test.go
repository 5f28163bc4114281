package observability

import (
	"testing"

	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigPrefersDeploymentOverrides(t *testing.T) {
	cfg := config.Config{
		AppName:      "quotaguard-scheduler",
		AppVersion:   "0.1.0",
		Environment:  "development",
		OTLPEndpoint: " collector:4317 ",
		Telemetry: config.TelemetryConfig{
			Environment:   "production",
			Version:       "1.4.2",
			LogLevel:      "warn",
			Enabled:       true,
			Protocol:      "http/protobuf",
			SamplingRatio: 3,
		},
	}

	got := NewConfig(cfg)
	assert.Equal(t, "quotaguard-scheduler", got.ServiceName)
	assert.Equal(t, "production", got.Environment)
	assert.Equal(t, "1.4.2", got.Version)
	assert.Equal(t, "json", got.LogFormat)
	assert.Equal(t, "collector:4317", got.Endpoint)
	assert.Equal(t, 1.0, got.SamplingRatio)
	assert.False(t, got.Debug())

	tc := got.tracing()
	assert.Equal(t, "http/protobuf", tc.ExporterProtocol)
	assert.Equal(t, "1.4.2", tc.ServiceVersion)
	assert.True(t, got.metrics().Enabled)
}

func TestNewConfigFallsBackToApplicationValues(t *testing.T) {
	got := NewConfig(config.Config{Environment: "test", Telemetry: config.TelemetryConfig{SamplingRatio: -1}})

	require.Equal(t, defaultServiceName, got.ServiceName)
	require.Equal(t, "test", got.Environment)
	require.Equal(t, "info", got.LogLevel)
	require.Equal(t, "grpc", got.Protocol)
	require.Zero(t, got.SamplingRatio)
	require.True(t, got.Debug())

	lc := got.logger()
	require.True(t, lc.IncludeStackOnError)
	require.True(t, lc.IncludeCaller)
}

func TestDebugFollowsLogLevel(t *testing.T) {
	got := NewConfig(config.Config{
		Environment: "production",
		Telemetry:   config.TelemetryConfig{LogLevel: "debug"},
	})
	assert.True(t, got.Debug())
}
