package scene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/types"
)

// Applier executes command sequences against one Mutator. The host treats
// mutation as single-threaded, so a mutex serializes batches: never more
// than one Mutate or Undo call is in flight per Applier.
type Applier struct {
	mu      sync.Mutex
	mutator Mutator
	metrics *metrics.Collector
	logger  *zap.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) ApplierOption {
	return func(a *Applier) { a.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) ApplierOption {
	return func(a *Applier) { a.logger = l }
}

// NewApplier creates an Applier bound to one scene's Mutator.
func NewApplier(mutator Mutator, opts ...ApplierOption) *Applier {
	a := &Applier{mutator: mutator, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "scene"))
	return a
}

// Apply executes the sequence in order, stopping at the first failure.
// On failure every already-applied command is compensated in reverse
// order, then a PartialFailure error reports the applied and undone
// counts. A half-applied edit is worse than no edit, so the batch either
// lands whole or not at all.
func (a *Applier) Apply(ctx context.Context, seq types.CommandSequence) (*ApplyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	applied := 0
	for i, cmd := range seq {
		if err := ctx.Err(); err != nil {
			report := a.rollback(ctx, seq[:applied])
			a.record("cancelled", report, start)
			return report, partialFailure(report, fmt.Errorf("batch cancelled before command %d: %w", i, err))
		}
		if err := a.mutator.Mutate(ctx, cmd); err != nil {
			a.logger.Warn("mutation failed, rolling back batch",
				zap.Int("index", i),
				zap.String("op", string(cmd.Op)),
				zap.String("target", cmd.Target),
				zap.Error(err))
			report := a.rollback(ctx, seq[:applied])
			a.record("partial_failure", report, start)
			return report, partialFailure(report, fmt.Errorf("command %d (%s %s): %w", i, cmd.Op, cmd.Target, err))
		}
		applied++
	}

	report := &ApplyReport{Applied: applied}
	a.record("success", report, start)
	return report, nil
}

// rollback compensates the applied prefix in reverse order. Undo failures
// are logged and skipped; stopping early would strand even more state.
// Cancellation of the batch context must not abort compensation, so undo
// runs on a detached context.
func (a *Applier) rollback(ctx context.Context, applied types.CommandSequence) *ApplyReport {
	undoCtx := context.WithoutCancel(ctx)
	report := &ApplyReport{Applied: len(applied)}
	for i := len(applied) - 1; i >= 0; i-- {
		cmd := applied[i]
		if err := a.mutator.Undo(undoCtx, cmd); err != nil {
			a.logger.Error("compensating undo failed",
				zap.Int("index", i),
				zap.String("op", string(cmd.Op)),
				zap.String("target", cmd.Target),
				zap.Error(err))
			continue
		}
		report.Undone++
	}
	return report
}

func (a *Applier) record(outcome string, report *ApplyReport, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordApply(outcome, report.Applied, report.Undone, time.Since(start))
	}
}

func partialFailure(report *ApplyReport, cause error) *types.Error {
	return types.NewError(types.ErrPartialFailure,
		fmt.Sprintf("applied %d commands, undone %d", report.Applied, report.Undone)).
		WithCause(cause)
}
