// Package openrouter adapts the OpenRouter chat-completions API to the
// llm.Provider interface.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/llm"
	"github.com/rajarshidattapy/BlendAI/providers"
	"github.com/rajarshidattapy/BlendAI/types"
)

// DefaultModel is what dispatches use when neither the request nor the
// config names a model.
const DefaultModel = "google/gemini-pro"

// FreeModels are the no-cost model tier OpenRouter exposes; useful as
// fallback models when the account has no credit.
var FreeModels = []string{
	"google/gemini-pro",
	"mistralai/mistral-7b-instruct",
	"meta-llama/llama-2-13b-chat",
	"openchat/openchat-3.5",
	"upstage/solar-10.7b-instruct",
	"tiiuae/falcon-7b-instruct",
}

// Provider implements llm.Provider against OpenRouter. OpenRouter speaks
// the OpenAI chat-completions dialect with two extra attribution headers
// (HTTP-Referer and X-Title).
type Provider struct {
	cfg    providers.OpenRouterConfig
	client *http.Client
	logger *zap.Logger
}

// New creates an OpenRouter Provider.
func New(cfg providers.OpenRouterConfig, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai"
	}
	if cfg.Referer == "" {
		cfg.Referer = "https://blendai.app"
	}
	if cfg.Title == "" {
		cfg.Title = "BlendAI"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openrouter")),
	}
}

func (p *Provider) Name() string { return "openrouter" }

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orRequest struct {
	Model       string      `json:"model"`
	Messages    []orMessage `json:"messages"`
	Temperature float32     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

type orResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int       `json:"index"`
		Message orMessage `json:"message"`
	} `json:"choices"`
}

type orErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", p.cfg.Referer)
	req.Header.Set("X-Title", p.cfg.Title)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.CompleteRequest) (*types.RawCompletion, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	body := orRequest{
		Model:       providers.ChooseModel(req, p.cfg.Model, DefaultModel),
		Temperature: temperature,
		MaxTokens:   providers.ChooseMaxTokens(req, 2048),
	}
	if req.System != "" {
		body.Messages = append(body.Messages, orMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, orMessage{Role: "user", Content: req.Prompt})

	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/api/v1/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapError(resp.StatusCode, readErrMsg(resp.Body), p.Name())
	}

	var orResp orResponse
	if err := json.NewDecoder(resp.Body).Decode(&orResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "undecodable completion body").
			WithCause(err).WithHTTPStatus(resp.StatusCode).WithRetryable(true).WithBackend(p.Name())
	}
	if len(orResp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "completion carried no choices").
			WithHTTPStatus(resp.StatusCode).WithRetryable(true).WithBackend(p.Name())
	}

	return &types.RawCompletion{
		Model:     orResp.Model,
		Content:   strings.TrimSpace(orResp.Choices[0].Message.Content),
		CreatedAt: time.Now(),
	}, nil
}

// HealthCheck implements llm.Provider with a models listing probe.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/api/v1/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("openrouter health check failed: status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body))
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp orErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}

func transportError(ctx context.Context, err error, backend string) *types.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").
			WithCause(err).WithRetryable(true).WithBackend(backend)
	}
	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithRetryable(true).WithBackend(backend)
}

func mapError(status int, msg string, backend string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status).WithBackend(backend)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status).WithBackend(backend)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithBackend(backend)
	case http.StatusPaymentRequired:
		return types.NewError(types.ErrQuotaExceeded, msg).WithHTTPStatus(status).WithBackend(backend)
	case http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithBackend(backend)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true).WithBackend(backend)
	default:
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithBackend(backend)
	}
}
