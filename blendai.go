// Package blendai wires the AI editing pipeline into one client: prompt
// routing across model backends, strict translation of model output into
// scene commands, all-or-nothing application against the host scene, and
// content-addressed asset import.
//
// Usage:
//
//	client, err := blendai.New(mutator,
//	    blendai.WithBackend(llm.BackendDescriptor{ID: "openrouter", Provider: p, Priority: 10}),
//	)
//	report, err := client.Edit(ctx, types.EditRequest{Prompt: "remove the sprinkles", Context: scene})
package blendai

import (
	"context"

	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/assets"
	"github.com/rajarshidattapy/BlendAI/history"
	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/llm"
	"github.com/rajarshidattapy/BlendAI/scene"
	"github.com/rajarshidattapy/BlendAI/translate"
	"github.com/rajarshidattapy/BlendAI/types"
)

// EditResult is the outcome of one full edit: the commands that were
// applied and which backend produced them.
type EditResult struct {
	Backend  string                `json:"backend"`
	Model    string                `json:"model,omitempty"`
	Commands types.CommandSequence `json:"commands"`
	Report   *scene.ApplyReport    `json:"report"`
}

// Client is the top-level pipeline facade.
type Client struct {
	registry   *llm.Registry
	router     *llm.Router
	translator *translate.Translator
	applier    *scene.Applier
	fetcher    *assets.Fetcher
	logger     *zap.Logger

	routerOpts llm.RouterOptions
	backends   []llm.BackendDescriptor
	metrics    *metrics.Collector
	historySt  history.Store
}

// Option configures the Client.
type Option func(*Client)

// WithBackend registers a model backend at construction.
func WithBackend(desc llm.BackendDescriptor) Option {
	return func(c *Client) { c.backends = append(c.backends, desc) }
}

// WithFetcher attaches an asset fetcher, enabling ImportAsset.
func WithFetcher(f *assets.Fetcher) Option {
	return func(c *Client) { c.fetcher = f }
}

// WithHistory attaches a per-session interaction history store.
func WithHistory(s history.Store) Option {
	return func(c *Client) { c.historySt = s }
}

// WithMetrics attaches a metrics collector threaded through every stage.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRouterOptions overrides routing bounds (attempt timeout, context
// token budget, history depth).
func WithRouterOptions(opts llm.RouterOptions) Option {
	return func(c *Client) { c.routerOpts = opts }
}

// New creates a Client over the host's scene Mutator.
func New(mutator scene.Mutator, opts ...Option) (*Client, error) {
	c := &Client{
		registry: llm.NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, desc := range c.backends {
		if err := c.registry.Register(desc); err != nil {
			return nil, err
		}
	}

	c.routerOpts.History = c.historySt
	c.routerOpts.Metrics = c.metrics
	c.routerOpts.Logger = c.logger
	c.router = llm.NewRouter(c.registry, c.routerOpts)

	translateOpts := []translate.Option{translate.WithLogger(c.logger)}
	applierOpts := []scene.ApplierOption{scene.WithLogger(c.logger)}
	if c.metrics != nil {
		translateOpts = append(translateOpts, translate.WithMetrics(c.metrics))
		applierOpts = append(applierOpts, scene.WithMetrics(c.metrics))
	}
	c.translator = translate.New(translateOpts...)
	c.applier = scene.NewApplier(mutator, applierOpts...)

	return c, nil
}

// RegisterBackend adds a backend after construction.
func (c *Client) RegisterBackend(desc llm.BackendDescriptor) error {
	return c.registry.Register(desc)
}

// Backends lists registrations in routing order.
func (c *Client) Backends() []llm.BackendDescriptor {
	return c.registry.List()
}

// Edit runs one instruction through route, translate, and apply. Errors
// from any stage are terminal for the request; a failed apply leaves the
// scene as it was.
func (c *Client) Edit(ctx context.Context, req types.EditRequest) (*EditResult, error) {
	comp, err := c.router.Route(ctx, &req)
	if err != nil {
		return nil, err
	}

	seq, err := c.translator.Translate(comp, req.Context)
	if err != nil {
		return nil, err
	}

	report, err := c.applier.Apply(ctx, seq)
	if err != nil {
		return nil, err
	}

	return &EditResult{
		Backend:  comp.Backend,
		Model:    comp.Model,
		Commands: seq,
		Report:   report,
	}, nil
}

// ImportAsset fetches a remote asset into the cache and imports it into
// the scene.
func (c *Client) ImportAsset(ctx context.Context, req types.AssetRequest) (*types.ObjectHandle, error) {
	if c.fetcher == nil {
		return nil, types.NewError(types.ErrTransferFailed, "no fetcher configured")
	}
	return c.fetcher.ImportURL(ctx, req)
}

// FetchAsset fetches a remote asset into the cache without importing it.
func (c *Client) FetchAsset(ctx context.Context, req types.AssetRequest) (*types.CachedAsset, error) {
	if c.fetcher == nil {
		return nil, types.NewError(types.ErrTransferFailed, "no fetcher configured")
	}
	return c.fetcher.Fetch(ctx, req)
}
