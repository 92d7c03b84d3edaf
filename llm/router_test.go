package llm

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/history"
	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/types"
)

type scriptedProvider struct {
	name   string
	err    error
	reply  string
	calls  atomic.Int32
	gotReq atomic.Pointer[CompleteRequest]
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompleteRequest) (*types.RawCompletion, error) {
	p.calls.Add(1)
	p.gotReq.Store(req)
	if p.err != nil {
		return nil, p.err
	}
	return &types.RawCompletion{Content: p.reply, Model: "test-model", CreatedAt: time.Now()}, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: p.err == nil}, nil
}

func (p *scriptedProvider) Name() string { return p.name }

func newTestRouter(t *testing.T, providers map[string]*scriptedProvider, priorities map[string]int, opts RouterOptions) *Router {
	t.Helper()
	reg := NewRegistry()
	// Deterministic registration order for tie-breaks.
	ordered := []string{"a", "b", "c", "d"}
	for _, id := range ordered {
		p, ok := providers[id]
		if !ok {
			continue
		}
		err := reg.Register(BackendDescriptor{ID: id, Provider: p, Priority: priorities[id]})
		if err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return NewRouter(reg, opts)
}

func TestRouter_FirstSuccessShortCircuits(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", reply: `[]`}
	pb := &scriptedProvider{name: "b", reply: `[]`}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa, "b": pb},
		map[string]int{"a": 10, "b": 5},
		RouterOptions{},
	)

	comp, err := router.Route(context.Background(), &types.EditRequest{Prompt: "remove the sprinkles"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if comp.Backend != "a" {
		t.Fatalf("expected backend a, got %s", comp.Backend)
	}
	if pb.calls.Load() != 0 {
		t.Fatalf("lower-priority backend must not be dispatched after a success")
	}
}

func TestRouter_FallsBackInPriorityOrder(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", err: types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)}
	pb := &scriptedProvider{name: "b", err: types.NewError(types.ErrUpstreamTimeout, "slow").WithRetryable(true)}
	pc := &scriptedProvider{name: "c", reply: `[]`}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa, "b": pb, "c": pc},
		map[string]int{"a": 10, "b": 5, "c": 1},
		RouterOptions{},
	)

	comp, err := router.Route(context.Background(), &types.EditRequest{Prompt: "add a cube"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if comp.Backend != "c" {
		t.Fatalf("expected backend c after fallback, got %s", comp.Backend)
	}
	if pa.calls.Load() != 1 || pb.calls.Load() != 1 {
		t.Fatalf("each failed backend must be attempted exactly once, got a=%d b=%d",
			pa.calls.Load(), pb.calls.Load())
	}
}

func TestRouter_PreferredBackendFirst(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", reply: `[]`}
	pb := &scriptedProvider{name: "b", reply: `[]`}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa, "b": pb},
		map[string]int{"a": 10, "b": 1},
		RouterOptions{},
	)

	comp, err := router.Route(context.Background(), &types.EditRequest{
		Prompt:           "add a cube",
		PreferredBackend: "b",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if comp.Backend != "b" {
		t.Fatalf("preferred backend should win, got %s", comp.Backend)
	}
	if pa.calls.Load() != 0 {
		t.Fatalf("higher-priority backend must not be tried when preferred succeeds")
	}
}

func TestRouter_UnknownPreferredDegradesToListOrder(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", reply: `[]`}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa},
		map[string]int{"a": 1},
		RouterOptions{},
	)

	comp, err := router.Route(context.Background(), &types.EditRequest{
		Prompt:           "add a cube",
		PreferredBackend: "nonexistent",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if comp.Backend != "a" {
		t.Fatalf("expected fallback to registry order, got %s", comp.Backend)
	}
}

func TestRouter_AllBackendsExhausted(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", err: types.NewError(types.ErrUpstreamError, "a down")}
	pb := &scriptedProvider{name: "b", err: types.NewError(types.ErrRateLimited, "b throttled")}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa, "b": pb},
		map[string]int{"a": 2, "b": 1},
		RouterOptions{},
	)

	_, err := router.Route(context.Background(), &types.EditRequest{Prompt: "add a cube"})
	if !types.IsCode(err, types.ErrAllBackendsExhausted) {
		t.Fatalf("expected AllBackendsExhausted, got %v", err)
	}
	serr := err.(*types.Error)
	if len(serr.Attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(serr.Attempts))
	}
	if serr.Attempts[0].Backend != "a" || serr.Attempts[1].Backend != "b" {
		t.Fatalf("attempts must keep dispatch order, got %+v", serr.Attempts)
	}
	if !strings.Contains(serr.Attempts[1].Reason, "throttled") {
		t.Fatalf("attempt reason lost: %+v", serr.Attempts[1])
	}
}

func TestRouter_EmptyRegistry(t *testing.T) {
	t.Parallel()

	router := NewRouter(NewRegistry(), RouterOptions{Logger: zap.NewNop()})
	_, err := router.Route(context.Background(), &types.EditRequest{Prompt: "anything"})
	if !types.IsCode(err, types.ErrAllBackendsExhausted) {
		t.Fatalf("expected AllBackendsExhausted on empty registry, got %v", err)
	}
}

func TestRouter_PromptCarriesSceneAndHistory(t *testing.T) {
	t.Parallel()

	pa := &scriptedProvider{name: "a", reply: `[{"op":"remove_object","target":"sprinkles_choc"}]`}
	store := history.NewMemoryStore(4)
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa},
		map[string]int{"a": 1},
		RouterOptions{History: store, Metrics: metrics.NewCollector("blendai", prometheus.NewRegistry(), zap.NewNop())},
	)

	req := &types.EditRequest{
		Prompt:    "remove the sprinkles",
		SessionID: "sess-1",
		Context: &types.SceneContext{Objects: []types.SceneObject{
			{Name: "sprinkles_choc", Kind: "MESH"},
			{Name: "donut_base", Kind: "MESH"},
		}},
	}
	if _, err := router.Route(context.Background(), req); err != nil {
		t.Fatalf("route: %v", err)
	}

	sent := pa.gotReq.Load()
	if sent == nil {
		t.Fatal("provider never saw a request")
	}
	if !strings.Contains(sent.System, "sprinkles_choc") || !strings.Contains(sent.System, "donut_base") {
		t.Fatalf("system prompt must list scene objects:\n%s", sent.System)
	}

	// Second call in the same session replays the first interaction.
	if _, err := router.Route(context.Background(), req); err != nil {
		t.Fatalf("route 2: %v", err)
	}
	sent = pa.gotReq.Load()
	if !strings.Contains(sent.System, "Previous interactions") ||
		!strings.Contains(sent.System, "remove the sprinkles") {
		t.Fatalf("system prompt must replay history:\n%s", sent.System)
	}
}

func TestRouter_ContextCancelStopsPass(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pa := &scriptedProvider{name: "a", err: types.NewError(types.ErrUpstreamError, "down")}
	pb := &scriptedProvider{name: "b", reply: `[]`}
	router := newTestRouter(t,
		map[string]*scriptedProvider{"a": pa, "b": pb},
		map[string]int{"a": 2, "b": 1},
		RouterOptions{},
	)

	cancel()
	_, err := router.Route(ctx, &types.EditRequest{Prompt: "add a cube"})
	if !types.IsCode(err, types.ErrAllBackendsExhausted) {
		t.Fatalf("expected AllBackendsExhausted, got %v", err)
	}
	if pb.calls.Load() != 0 {
		t.Fatalf("remaining candidates must be skipped after cancellation")
	}
}
