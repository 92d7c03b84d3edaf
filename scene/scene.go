// Package scene applies validated command sequences to a host scene with
// all-or-nothing semantics.
package scene

import (
	"context"

	"github.com/rajarshidattapy/BlendAI/types"
)

// Mutator is the host-side mutation surface. Implementations live outside
// this core (a Blender bridge, a test double). Undo is best-effort
// compensation and must be idempotent when called for a mutation that
// never took effect.
type Mutator interface {
	Mutate(ctx context.Context, cmd types.EditCommand) error
	Undo(ctx context.Context, cmd types.EditCommand) error
}

// Importer is the host-side asset import surface.
type Importer interface {
	ImportFile(ctx context.Context, path, contentType string) (*types.ObjectHandle, error)
}

// ApplyReport describes the outcome of one batch.
type ApplyReport struct {
	// Applied counts commands that took effect. After a failed batch the
	// applied prefix has been compensated, so the scene change is zero.
	Applied int `json:"applied"`

	// Undone counts compensations that succeeded during rollback. Equal to
	// Applied on a clean rollback; smaller when an undo itself failed.
	Undone int `json:"undone"`
}
