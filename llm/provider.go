package llm

import (
	"context"
	"time"

	"github.com/rajarshidattapy/BlendAI/types"
)

// Capability flags a backend feature the router may filter on.
type Capability string

const (
	// CapStructuredOutput marks backends that reliably emit the strict
	// command JSON without free-form prose around it.
	CapStructuredOutput Capability = "structured_output"

	// CapVision marks backends that accept image context.
	CapVision Capability = "vision"

	// CapFree marks backends routed through a no-cost model tier.
	CapFree Capability = "free"
)

// CompleteRequest is the transport-level request one backend adapter
// receives. The router assembles it from an EditRequest; adapters never
// see scene semantics.
type CompleteRequest struct {
	System      string        `json:"system,omitempty"`
	Prompt      string        `json:"prompt"`
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// HealthStatus is the result of a lightweight backend probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider is the fixed capability interface every model backend
// implements. Providers are selected at runtime from the Registry; the
// router treats them as interchangeable.
type Provider interface {
	// Complete issues one synchronous completion request.
	Complete(ctx context.Context, req *CompleteRequest) (*types.RawCompletion, error)

	// HealthCheck performs a lightweight probe, used for diagnostics only.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's identifier.
	Name() string
}

// BackendDescriptor describes one configured backend. Immutable after
// registration.
type BackendDescriptor struct {
	ID            string       `json:"id"`
	Provider      Provider     `json:"-"`
	Endpoint      string       `json:"endpoint,omitempty"`
	CredentialRef string       `json:"credential_ref,omitempty"`
	Capabilities  []Capability `json:"capabilities,omitempty"`
	Priority      int          `json:"priority"`
}

// HasCapability reports whether the descriptor declares the capability.
func (d BackendDescriptor) HasCapability(c Capability) bool {
	for _, got := range d.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}
