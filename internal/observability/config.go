package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/tally/internal/config"
)

// Config is the observability view of the process configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "tally"
	}

	protocol := strings.ToLower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = strings.ToLower(traces)
	}

	return Config{
		ServiceName:       serviceName,
		Environment:       envOr("DEPLOYMENT_ENV", cfg.Environment),
		Version:           envOr("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:          strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envOr("LOG_FORMAT", "json")),
		OtelEnabled:       envBool("OTEL_ENABLED", false),
		OtelEndpoint:      envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelProtocol:      protocol,
		OtelSamplingRatio: envFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug is true for debug log level or any non-production environment name.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func envBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func envFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
