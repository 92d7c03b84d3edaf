package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajarshidattapy/BlendAI/llm"
	"github.com/rajarshidattapy/BlendAI/providers"
	"github.com/rajarshidattapy/BlendAI/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.OpenRouterConfig{
		APIKey:  "sk-or-test",
		BaseURL: srv.URL,
	}, nil)
}

func TestCompleteSendsAttributionHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotReferer, gotTitle, gotPath string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "gen-1",
			"model": "google/gemini-pro",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "[]"}},
			},
		})
	})

	comp, err := p.Complete(context.Background(), &llm.CompleteRequest{Prompt: "add a cube"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-or-test", gotAuth)
	assert.Equal(t, "https://blendai.app", gotReferer)
	assert.Equal(t, "BlendAI", gotTitle)
	assert.Equal(t, "/api/v1/chat/completions", gotPath)
	assert.Equal(t, "[]", comp.Content)
}

func TestCompleteDefaultsModelAndBounds(t *testing.T) {
	t.Parallel()

	var got orRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"model": got.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	})

	_, err := p.Complete(context.Background(), &llm.CompleteRequest{
		System: "you translate prompts",
		Prompt: "add a cube",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
	assert.Equal(t, 2048, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestCompleteRequestModelOverridesConfig(t *testing.T) {
	t.Parallel()

	var got orRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})
	p.cfg.Model = "mistralai/mistral-7b-instruct"

	_, err := p.Complete(context.Background(), &llm.CompleteRequest{
		Prompt: "hi",
		Model:  "openchat/openchat-3.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "openchat/openchat-3.5", got.Model)
}

func TestCompleteMapsStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"rate_limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"quota", http.StatusPaymentRequired, types.ErrQuotaExceeded, false},
		{"bad_request", http.StatusBadRequest, types.ErrInvalidRequest, false},
		{"bad_gateway", http.StatusBadGateway, types.ErrUpstreamError, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": tc.status, "message": "upstream said no"},
				})
			})

			_, err := p.Complete(context.Background(), &llm.CompleteRequest{Prompt: "hi"})
			require.Error(t, err)
			var apiErr *types.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.wantCode, apiErr.Code)
			assert.Equal(t, tc.retryable, apiErr.Retryable)
			assert.Equal(t, "openrouter", apiErr.Backend)
			assert.Contains(t, apiErr.Message, "upstream said no")
		})
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := p.Complete(context.Background(), &llm.CompleteRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestCompleteTimeout(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, &llm.CompleteRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Latency, time.Duration(0))
}

func TestHealthCheckUnhealthy(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
