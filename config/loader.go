// Package config loads the sidecar configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("blendai.yaml").
//	    WithEnvPrefix("BLENDAI").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rajarshidattapy/BlendAI/assets"
	"github.com/rajarshidattapy/BlendAI/internal/database"
	"github.com/rajarshidattapy/BlendAI/providers"
)

// Config is the complete sidecar configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Edit      EditConfig      `yaml:"edit" env:"EDIT"`
	Backends  BackendsConfig  `yaml:"backends" env:"BACKENDS"`
	History   HistoryConfig   `yaml:"history" env:"HISTORY"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  database.Config `yaml:"database" env:"DATABASE"`
	Assets    assets.Config   `yaml:"assets" env:"ASSETS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxConns        int           `yaml:"max_conns" env:"MAX_CONNS"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	APIKey          string        `yaml:"api_key" env:"API_KEY"`
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// EditConfig bounds one edit request through the pipeline.
type EditConfig struct {
	AttemptTimeout   time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	MaxContextTokens int           `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	HistoryDepth     int           `yaml:"history_depth" env:"HISTORY_DEPTH"`
}

// BackendsConfig names the model backends to register at startup.
type BackendsConfig struct {
	OpenRouter         providers.OpenRouterConfig `yaml:"openrouter" env:"OPENROUTER"`
	OpenRouterPriority int                        `yaml:"openrouter_priority" env:"OPENROUTER_PRIORITY"`
	Gemini             providers.GeminiConfig     `yaml:"gemini" env:"GEMINI"`
	GeminiPriority     int                        `yaml:"gemini_priority" env:"GEMINI_PRIORITY"`
}

// HistoryConfig controls per-session interaction history.
type HistoryConfig struct {
	// Store is "memory" or "redis".
	Store string        `yaml:"store" env:"STORE"`
	Depth int           `yaml:"depth" env:"DEPTH"`
	TTL   time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config. Precedence: defaults, then YAML, then env.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the stock env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "BLENDAI"}
}

// WithConfigPath sets the YAML file to read. A missing file is not an
// error; defaults and env still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load assembles the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			// Nested configs owned by other packages carry only yaml tags;
			// derive the env segment from the yaml name so they still
			// participate in overrides.
			envTag = yamlEnvKey(fieldType)
		}
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func yamlEnvKey(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" || tag == "-" {
		return ""
	}
	return strings.ToUpper(tag)
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads the config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Edit.MaxContextTokens <= 0 {
		errs = append(errs, "max_context_tokens must be positive")
	}
	if c.Assets.MaxAssetSize < 0 {
		errs = append(errs, "max_asset_size must not be negative")
	}
	if c.History.Store != "memory" && c.History.Store != "redis" {
		errs = append(errs, fmt.Sprintf("unknown history store %q", c.History.Store))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
