package config

import (
	"time"

	"github.com/rajarshidattapy/BlendAI/assets"
	"github.com/rajarshidattapy/BlendAI/internal/database"
)

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Edit:      DefaultEditConfig(),
		Backends:  DefaultBackendsConfig(),
		History:   DefaultHistoryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  database.DefaultConfig(),
		Assets:    assets.DefaultConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8486,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        256,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultEditConfig returns the default edit pipeline bounds.
func DefaultEditConfig() EditConfig {
	return EditConfig{
		AttemptTimeout:   30 * time.Second,
		MaxContextTokens: 2048,
		HistoryDepth:     4,
	}
}

// DefaultBackendsConfig returns the default backend registrations.
// OpenRouter leads; Gemini is the fallback.
func DefaultBackendsConfig() BackendsConfig {
	return BackendsConfig{
		OpenRouterPriority: 10,
		GeminiPriority:     5,
	}
}

// DefaultHistoryConfig returns the default history settings.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Store: "memory",
		Depth: 8,
		TTL:   24 * time.Hour,
	}
}

// DefaultRedisConfig returns the default redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "blendai",
		SampleRate:  1.0,
	}
}
