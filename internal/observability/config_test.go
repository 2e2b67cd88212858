package observability

import (
	"testing"

	"github.com/smallbiznis/boxoffice/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.2.0",
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			OtelEnabled:   true,
			OTLPEndpoint:  "collector:4318",
			OTLPProtocol:  "http/protobuf",
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "boxoffice", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigDisablesExportWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "test",
		Telemetry:   config.TelemetryConfig{OtelEnabled: true, OTLPProtocol: "carrier-pigeon"},
	})

	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}
