package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection reset")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithBackend("openrouter")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.Backend != "openrouter" {
		t.Fatalf("expected backend to be recorded, got %q", err.Backend)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_IsCode(t *testing.T) {
	t.Parallel()

	err := NewError(ErrUnknownTarget, "no such object").WithRule("target-exists")
	if !IsCode(err, ErrUnknownTarget) {
		t.Fatalf("expected IsCode to match")
	}
	if IsCode(err, ErrInvalidParameter) {
		t.Fatalf("expected IsCode mismatch for other code")
	}
	if IsCode(errors.New("plain"), ErrUnknownTarget) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestSceneContext_Has(t *testing.T) {
	t.Parallel()

	ctx := &SceneContext{Objects: []SceneObject{
		{Name: "sprinkles_choc", Kind: "MESH"},
		{Name: "donut_base", Kind: "MESH"},
	}}

	if !ctx.Has("sprinkles_choc") {
		t.Fatalf("expected sprinkles_choc in context")
	}
	if ctx.Has("sprinkles_vanilla") {
		t.Fatalf("did not expect sprinkles_vanilla in context")
	}

	var empty *SceneContext
	if empty.Has("anything") {
		t.Fatalf("nil context has nothing")
	}
	if got := ctx.Names(); len(got) != 2 || got[0] != "sprinkles_choc" {
		t.Fatalf("unexpected names: %v", got)
	}
}
