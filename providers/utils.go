package providers

import "github.com/rajarshidattapy/BlendAI/llm"

// ChooseModel selects the model to use based on priority:
// request model, then config model, then the provider default.
func ChooseModel(req *llm.CompleteRequest, configModel string, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}

// ChooseMaxTokens returns the request's token cap or the default when the
// request leaves it unset.
func ChooseMaxTokens(req *llm.CompleteRequest, fallback int) int {
	if req != nil && req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return fallback
}
