package observability

import (
	"strings"

	"github.com/smallbiznis/boxoffice/internal/config"
)

var protocols = map[string]string{
	"grpc":          "grpc",
	"http":          "http",
	"http/protobuf": "http",
}

// Config is the resolved telemetry setup shared by the logger, tracer and meters.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig normalizes the telemetry section of the application config.
// Unknown protocols fall back to grpc and the sampling ratio is clamped to [0, 1].
func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry

	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "boxoffice"
	}
	protocol, ok := protocols[t.OTLPProtocol]
	if !ok {
		protocol = "grpc"
	}
	ratio := t.SamplingRatio
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	level := t.LogLevel
	if level == "" {
		level = "info"
	}

	return Config{
		ServiceName:          name,
		Environment:          cfg.Environment,
		Version:              cfg.AppVersion,
		LogLevel:             level,
		LogFormat:            t.LogFormat,
		OtelEnabled:          t.OtelEnabled && t.OTLPEndpoint != "",
		OtelExporterEndpoint: t.OTLPEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug is true for debug logging or any non-production style environment.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
