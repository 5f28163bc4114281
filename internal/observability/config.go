package observability

import (
	"strings"

	"github.com/smallbiznis/quotaguard/internal/config"
)

const defaultServiceName = "quotaguard"

// Config is the resolved telemetry identity shared by the logger, tracer
// and meter of one binary.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	ExportEnabled bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func NewConfig(cfg config.Config) Config {
	t := cfg.Telemetry
	out := Config{
		ServiceName:   firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:   firstNonEmpty(t.Environment, cfg.Environment),
		Version:       firstNonEmpty(t.Version, cfg.AppVersion),
		LogLevel:      firstNonEmpty(t.LogLevel, "info"),
		LogFormat:     firstNonEmpty(t.LogFormat, "json"),
		ExportEnabled: t.Enabled,
		Endpoint:      strings.TrimSpace(cfg.OTLPEndpoint),
		Protocol:      firstNonEmpty(t.Protocol, "grpc"),
		SamplingRatio: t.SamplingRatio,
	}
	switch {
	case out.SamplingRatio < 0:
		out.SamplingRatio = 0
	case out.SamplingRatio > 1:
		out.SamplingRatio = 1
	}
	return out
}

// Debug enables verbose request logging and stack traces.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || config.IsDevelopmentEnv(c.Environment)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
