// Package providers holds shared configuration and helpers for the
// concrete backend adapters.
package providers

import "time"

// OpenRouterConfig configures the OpenRouter adapter.
type OpenRouterConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Referer string        `json:"referer,omitempty" yaml:"referer,omitempty"`
	Title   string        `json:"title,omitempty" yaml:"title,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiConfig configures the Google Gemini adapter.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
