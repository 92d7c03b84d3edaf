package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/rajarshidattapy/BlendAI/assets"
	"github.com/rajarshidattapy/BlendAI/config"
	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/llm"
	"github.com/rajarshidattapy/BlendAI/translate"
	"github.com/rajarshidattapy/BlendAI/types"
)

// Server is the sidecar the host addon talks to. It runs the routing and
// translation stages and the asset cache; the addon applies the returned
// command batch natively, since it owns the live scene.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *llm.Registry
	router     *llm.Router
	translator *translate.Translator
	fetcher    *assets.Fetcher
	collector  *metrics.Collector
	promReg    *prometheus.Registry

	httpServer  *http.Server
	stopCleanup context.CancelFunc
}

// NewServer wires the pipeline stages into an HTTP surface.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		registry:   deps.Registry,
		router:     deps.Router,
		translator: deps.Translator,
		fetcher:    deps.Fetcher,
		collector:  deps.Collector,
		promReg:    deps.PromRegistry,
	}
}

// Deps carries the constructed pipeline stages into the server.
type Deps struct {
	Registry     *llm.Registry
	Router       *llm.Router
	Translator   *translate.Translator
	Fetcher      *assets.Fetcher
	Collector    *metrics.Collector
	PromRegistry *prometheus.Registry
}

// editResponse is the wire shape of a successful /v1/edit call.
type editResponse struct {
	Backend  string                `json:"backend"`
	Model    string                `json:"model,omitempty"`
	Commands types.CommandSequence `json:"commands"`
}

type errorResponse struct {
	Error    string                 `json:"error"`
	Message  string                 `json:"message"`
	Rule     string                 `json:"rule,omitempty"`
	Backend  string                 `json:"backend,omitempty"`
	Attempts []types.BackendAttempt `json:"attempts,omitempty"`
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/edit", s.handleEdit)
	mux.HandleFunc("POST /v1/assets", s.handleAssets)
	mux.HandleFunc("GET /v1/backends", s.handleBackends)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ready", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	skipAuth := []string{"/healthz", "/ready", "/version", "/metrics"}
	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.stopCleanup = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(cleanupCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
	}
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuth, s.logger))
	} else {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKey, skipAuth))
	}
	return Chain(mux, middlewares...)
}

// Run serves until the context is cancelled, then drains connections
// within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if s.cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.Server.MaxConns)
	}

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server started",
			zap.String("addr", addr),
			zap.Int("max_conns", s.cfg.Server.MaxConns))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if s.stopCleanup != nil {
			s.stopCleanup()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req types.EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidRequest, "undecodable request body").WithCause(err))
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidRequest, "prompt is required"))
		return
	}

	comp, err := s.router.Route(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	seq, err := s.translator.Translate(comp, req.Context)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, editResponse{
		Backend:  comp.Backend,
		Model:    comp.Model,
		Commands: seq,
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	var req types.AssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidRequest, "undecodable request body").WithCause(err))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidRequest, "url is required"))
		return
	}

	asset, err := s.fetcher.Fetch(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	type backendInfo struct {
		ID           string           `json:"id"`
		Endpoint     string           `json:"endpoint,omitempty"`
		Capabilities []llm.Capability `json:"capabilities,omitempty"`
		Priority     int              `json:"priority"`
	}
	descs := s.registry.List()
	out := make([]backendInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, backendInfo{
			ID:           d.ID,
			Endpoint:     d.Endpoint,
			Capabilities: d.Capabilities,
			Priority:     d.Priority,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": out})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"backends": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// statusFor maps pipeline error codes onto HTTP statuses. Model-output
// rejections are the caller's 422, upstream trouble is a 502.
func statusFor(err error) int {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnknownBackend:
		return http.StatusNotFound
	case types.ErrDuplicateBackend:
		return http.StatusConflict
	case types.ErrMalformedCompletion, types.ErrUnknownTarget, types.ErrInvalidParameter:
		return http.StatusUnprocessableEntity
	case types.ErrUnsupportedScheme, types.ErrContentTypeMismatch:
		return http.StatusUnprocessableEntity
	case types.ErrAssetTooLarge:
		return http.StatusRequestEntityTooLarge
	case types.ErrAllBackendsExhausted, types.ErrTransferFailed, types.ErrUpstreamError, types.ErrModelOverloaded:
		return http.StatusBadGateway
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: "internal", Message: err.Error()}
	var apiErr *types.Error
	if errors.As(err, &apiErr) {
		resp.Error = string(apiErr.Code)
		resp.Message = apiErr.Message
		resp.Rule = apiErr.Rule
		resp.Backend = apiErr.Backend
		resp.Attempts = apiErr.Attempts
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
