// blendaid is the BlendAI sidecar daemon. It exposes the prompt-to-command
// pipeline and the asset cache over HTTP for the host tool's addon.
//
// Usage:
//
//	blendaid serve                        # start the daemon
//	blendaid serve --config blendai.yaml  # with a config file
//	blendaid version                      # show version info
//	blendaid health                       # probe a running daemon
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rajarshidattapy/BlendAI/assets"
	"github.com/rajarshidattapy/BlendAI/config"
	"github.com/rajarshidattapy/BlendAI/history"
	"github.com/rajarshidattapy/BlendAI/internal/database"
	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/internal/telemetry"
	"github.com/rajarshidattapy/BlendAI/llm"
	"github.com/rajarshidattapy/BlendAI/providers/gemini"
	"github.com/rajarshidattapy/BlendAI/providers/openrouter"
	"github.com/rajarshidattapy/BlendAI/translate"
)

// Version info, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting blendaid",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("blendai", promReg, logger)

	deps, err := buildPipeline(cfg, collector, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	deps.Collector = collector
	deps.PromRegistry = promReg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, deps, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("blendaid stopped")
}

// buildPipeline constructs the registry, router, translator, and fetcher
// from config.
func buildPipeline(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (Deps, error) {
	registry := llm.NewRegistry()

	if cfg.Backends.OpenRouter.APIKey != "" {
		desc := llm.BackendDescriptor{
			ID:           "openrouter",
			Provider:     openrouter.New(cfg.Backends.OpenRouter, logger),
			Endpoint:     cfg.Backends.OpenRouter.BaseURL,
			Capabilities: []llm.Capability{llm.CapStructuredOutput, llm.CapFree},
			Priority:     cfg.Backends.OpenRouterPriority,
		}
		if err := registry.Register(desc); err != nil {
			return Deps{}, err
		}
		logger.Info("backend registered", zap.String("id", "openrouter"))
	}
	if cfg.Backends.Gemini.APIKey != "" {
		desc := llm.BackendDescriptor{
			ID:           "gemini",
			Provider:     gemini.New(cfg.Backends.Gemini, logger),
			Endpoint:     cfg.Backends.Gemini.BaseURL,
			Capabilities: []llm.Capability{llm.CapStructuredOutput, llm.CapVision},
			Priority:     cfg.Backends.GeminiPriority,
		}
		if err := registry.Register(desc); err != nil {
			return Deps{}, err
		}
		logger.Info("backend registered", zap.String("id", "gemini"))
	}
	if registry.Len() == 0 {
		logger.Warn("no backend API keys configured, /v1/edit will fail")
	}

	historyStore := buildHistory(cfg, logger)

	router := llm.NewRouter(registry, llm.RouterOptions{
		AttemptTimeout:   cfg.Edit.AttemptTimeout,
		MaxContextTokens: cfg.Edit.MaxContextTokens,
		HistoryDepth:     cfg.Edit.HistoryDepth,
		History:          historyStore,
		Metrics:          collector,
		Logger:           logger,
	})

	translator := translate.New(translate.WithMetrics(collector), translate.WithLogger(logger))

	db, err := database.Open(cfg.Database)
	if err != nil {
		return Deps{}, fmt.Errorf("open asset index database: %w", err)
	}
	index, err := assets.NewIndex(db)
	if err != nil {
		return Deps{}, err
	}
	fetcher, err := assets.NewFetcher(cfg.Assets, index,
		assets.WithMetrics(collector),
		assets.WithLogger(logger),
	)
	if err != nil {
		return Deps{}, err
	}

	return Deps{
		Registry:   registry,
		Router:     router,
		Translator: translator,
		Fetcher:    fetcher,
	}, nil
}

// buildHistory picks the interaction history store. Redis failures fall
// back to the in-process store; losing history never blocks edits.
func buildHistory(cfg *config.Config, logger *zap.Logger) history.Store {
	if cfg.History.Store != "redis" {
		return history.NewMemoryStore(cfg.History.Depth)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory history", zap.Error(err))
		return history.NewMemoryStore(cfg.History.Depth)
	}
	logger.Info("redis history store connected", zap.String("addr", cfg.Redis.Addr))
	return history.NewRedisStore(client, "", cfg.History.Depth, cfg.History.TTL, logger)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8486", "Daemon address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("blendaid %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`blendaid - BlendAI sidecar daemon

Usage:
  blendaid <command> [options]

Commands:
  serve     Start the daemon
  version   Show version information
  health    Check daemon health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  blendaid serve
  blendaid serve --config /etc/blendai/blendai.yaml
  blendaid health --addr http://localhost:8486`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
