package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/history"
	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/types"
)

// Router dispatches one EditRequest to a backend and falls back across the
// registry on failure. Every call is a fresh dispatch: completions are
// user-specific and never cached.
type Router struct {
	registry *Registry
	prompts  promptBuilder
	history  history.Store
	metrics  *metrics.Collector
	logger   *zap.Logger

	attemptTimeout time.Duration
}

// RouterOptions configures a Router. Zero values fall back to defaults.
type RouterOptions struct {
	// AttemptTimeout bounds each backend attempt (30s default). A
	// request-level timeout, when set, takes precedence.
	AttemptTimeout time.Duration

	// MaxContextTokens bounds the serialized scene context folded into
	// the system prompt (2048 default).
	MaxContextTokens int

	// HistoryDepth is how many past interactions are replayed into the
	// prompt (4 default). Ignored when History is nil.
	HistoryDepth int

	History history.Store
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

func normalizeRouterOptions(opts RouterOptions) RouterOptions {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 2048
	}
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = 4
	}
	return opts
}

// NewRouter creates a Router over the given registry.
func NewRouter(registry *Registry, opts RouterOptions) *Router {
	opts = normalizeRouterOptions(opts)
	return &Router{
		registry: registry,
		prompts: promptBuilder{
			maxContextTokens: opts.MaxContextTokens,
			historyDepth:     opts.HistoryDepth,
		},
		history:        opts.History,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With(zap.String("component", "router")),
		attemptTimeout: opts.AttemptTimeout,
	}
}

// Route selects backends per policy and returns the first successful raw
// completion. The preferred backend, when registered, is tried first; the
// rest follow registry order. Each backend is attempted at most once. When
// every candidate fails, the error is AllBackendsExhausted carrying the
// ordered per-backend reasons.
func (r *Router) Route(ctx context.Context, req *types.EditRequest) (*types.RawCompletion, error) {
	tracer := otel.Tracer("blendai/llm")
	ctx, span := tracer.Start(ctx, "router.route")
	defer span.End()

	candidates := r.candidates(req.PreferredBackend)
	span.SetAttributes(attribute.Int("llm.candidates", len(candidates)))
	if len(candidates) == 0 {
		return nil, types.NewError(types.ErrAllBackendsExhausted, "no backends registered")
	}

	dispatchID := uuid.NewString()
	system := r.prompts.buildSystem(req, r.recall(ctx, req.SessionID))
	creq := &CompleteRequest{
		System:  system,
		Prompt:  req.Prompt,
		Timeout: r.attemptTimeout,
	}
	if req.Timeout > 0 {
		creq.Timeout = req.Timeout
	}

	attempts := make([]types.BackendAttempt, 0, len(candidates))
	for _, desc := range candidates {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, creq.Timeout)
		comp, err := desc.Provider.Complete(attemptCtx, creq)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			if r.metrics != nil {
				r.metrics.RecordBackendRequest(desc.ID, "success", elapsed)
			}
			span.SetAttributes(attribute.String("llm.backend", desc.ID))
			r.logger.Debug("backend dispatch succeeded",
				zap.String("dispatch_id", dispatchID),
				zap.String("backend", desc.ID),
				zap.Duration("latency", elapsed),
			)
			comp.Backend = desc.ID
			r.remember(ctx, req, comp)
			return comp, nil
		}

		if r.metrics != nil {
			r.metrics.RecordBackendRequest(desc.ID, "error", elapsed)
		}
		r.logger.Warn("backend dispatch failed",
			zap.String("dispatch_id", dispatchID),
			zap.String("backend", desc.ID),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		attempts = append(attempts, types.BackendAttempt{Backend: desc.ID, Reason: err.Error()})

		// The caller gave up; do not burn the remaining candidates.
		if ctx.Err() != nil {
			break
		}
	}

	exhausted := types.NewError(types.ErrAllBackendsExhausted,
		fmt.Sprintf("all %d candidate backends failed", len(attempts)))
	exhausted.Attempts = attempts
	if ctx.Err() != nil {
		exhausted.Cause = ctx.Err()
	}
	return nil, exhausted
}

// candidates returns the registry's routing order with the preferred
// backend moved to the front when it exists.
func (r *Router) candidates(preferred string) []BackendDescriptor {
	ordered := r.registry.List()
	if preferred == "" {
		return ordered
	}
	head, err := r.registry.Get(preferred)
	if err != nil {
		// Unknown preference degrades to registry order.
		return ordered
	}
	out := make([]BackendDescriptor, 0, len(ordered))
	out = append(out, head)
	for _, d := range ordered {
		if d.ID != preferred {
			out = append(out, d)
		}
	}
	return out
}

func (r *Router) recall(ctx context.Context, session string) []history.Entry {
	if r.history == nil || session == "" {
		return nil
	}
	entries, err := r.history.Recent(ctx, session, r.prompts.historyDepth)
	if err != nil {
		r.logger.Warn("history recall failed", zap.String("session", session), zap.Error(err))
		return nil
	}
	return entries
}

func (r *Router) remember(ctx context.Context, req *types.EditRequest, comp *types.RawCompletion) {
	if r.history == nil || req.SessionID == "" {
		return
	}
	err := r.history.Append(ctx, req.SessionID, history.Entry{
		Prompt:   req.Prompt,
		Response: comp.Content,
		Backend:  comp.Backend,
		At:       time.Now(),
	})
	if err != nil {
		r.logger.Warn("history append failed", zap.String("session", req.SessionID), zap.Error(err))
	}
}
