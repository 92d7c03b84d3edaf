package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajarshidattapy/BlendAI/types"
)

// fakeMutator records calls and fails Mutate at a chosen index.
type fakeMutator struct {
	mu       sync.Mutex
	mutated  []types.EditCommand
	undone   []types.EditCommand
	failAt   int // -1 never fails
	undoErrs map[string]error
}

func newFakeMutator(failAt int) *fakeMutator {
	return &fakeMutator{failAt: failAt, undoErrs: map[string]error{}}
}

func (m *fakeMutator) Mutate(ctx context.Context, cmd types.EditCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt >= 0 && len(m.mutated) == m.failAt {
		return errors.New("target vanished")
	}
	m.mutated = append(m.mutated, cmd)
	return nil
}

func (m *fakeMutator) Undo(ctx context.Context, cmd types.EditCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.undoErrs[cmd.Target]; ok {
		return err
	}
	m.undone = append(m.undone, cmd)
	return nil
}

func removeCmd(target string) types.EditCommand {
	return types.EditCommand{Op: types.OpRemoveObject, Target: target}
}

func TestApplySuccess(t *testing.T) {
	t.Parallel()

	m := newFakeMutator(-1)
	a := NewApplier(m)

	report, err := a.Apply(context.Background(), types.CommandSequence{
		removeCmd("sprinkles_choc"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, report.Undone)
	require.Len(t, m.mutated, 1)
	assert.Empty(t, m.undone)
}

func TestApplyEmptySequence(t *testing.T) {
	t.Parallel()

	a := NewApplier(newFakeMutator(-1))
	report, err := a.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
}

func TestApplyRollsBackInReverseOrder(t *testing.T) {
	t.Parallel()

	m := newFakeMutator(2)
	a := NewApplier(m)

	seq := types.CommandSequence{removeCmd("a"), removeCmd("b"), removeCmd("c")}
	report, err := a.Apply(context.Background(), seq)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPartialFailure))
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2, report.Undone)

	require.Len(t, m.undone, 2)
	assert.Equal(t, "b", m.undone[0].Target)
	assert.Equal(t, "a", m.undone[1].Target)
}

func TestApplyUndoFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	m := newFakeMutator(2)
	m.undoErrs["b"] = errors.New("undo refused")
	a := NewApplier(m)

	seq := types.CommandSequence{removeCmd("a"), removeCmd("b"), removeCmd("c")}
	report, err := a.Apply(context.Background(), seq)
	require.Error(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Undone)
	// The failed undo of "b" must not stop compensation of "a".
	require.Len(t, m.undone, 1)
	assert.Equal(t, "a", m.undone[0].Target)
}

func TestApplyCancelledContextRollsBack(t *testing.T) {
	t.Parallel()

	m := newFakeMutator(-1)
	a := NewApplier(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := a.Apply(ctx, types.CommandSequence{removeCmd("a")})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPartialFailure))
	assert.Equal(t, 0, report.Applied)
	assert.Empty(t, m.mutated)
}

func TestApplySerializesBatches(t *testing.T) {
	t.Parallel()

	var active, maxActive int
	var mu sync.Mutex
	m := &trackingMutator{enter: func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
	}, leave: func() {
		mu.Lock()
		active--
		mu.Unlock()
	}}
	a := NewApplier(m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Apply(context.Background(), types.CommandSequence{removeCmd("a"), removeCmd("b")})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "mutation calls overlapped")
}

type trackingMutator struct {
	enter, leave func()
}

func (m *trackingMutator) Mutate(ctx context.Context, cmd types.EditCommand) error {
	m.enter()
	defer m.leave()
	return nil
}

func (m *trackingMutator) Undo(ctx context.Context, cmd types.EditCommand) error { return nil }

// stateMutator tracks a set of present objects so rollback equivalence
// can be checked against real state, not call counts. Like a real host
// it rejects removing an absent object or re-adding an existing one, so
// Undo is an exact inverse of every mutation that succeeded.
type stateMutator struct {
	objects map[string]bool
	failAt  int
	calls   int
}

func (m *stateMutator) Mutate(ctx context.Context, cmd types.EditCommand) error {
	if m.calls == m.failAt {
		return errors.New("host error")
	}
	m.calls++
	switch cmd.Op {
	case types.OpAddObject:
		if m.objects[cmd.Target] {
			return errors.New("object already exists")
		}
		m.objects[cmd.Target] = true
	case types.OpRemoveObject:
		if !m.objects[cmd.Target] {
			return errors.New("no such object")
		}
		delete(m.objects, cmd.Target)
	}
	return nil
}

func (m *stateMutator) Undo(ctx context.Context, cmd types.EditCommand) error {
	switch cmd.Op {
	case types.OpAddObject:
		delete(m.objects, cmd.Target)
	case types.OpRemoveObject:
		m.objects[cmd.Target] = true
	}
	return nil
}

func snapshot(objects map[string]bool) map[string]bool {
	out := make(map[string]bool, len(objects))
	for k, v := range objects {
		out[k] = v
	}
	return out
}

// After a PartialFailure the scene must be equivalent to its pre-batch
// state; after a Success exactly the whole batch is visible.
func TestApplyRollbackEquivalence(t *testing.T) {
	t.Parallel()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genCmd := gen.OneGenOf(
		gen.Identifier().Map(func(name string) types.EditCommand {
			return types.EditCommand{Op: types.OpAddObject, Target: "new_" + name, Primitive: "cube"}
		}),
		gen.Identifier().Map(func(name string) types.EditCommand {
			return types.EditCommand{Op: types.OpRemoveObject, Target: "new_" + name}
		}),
	)

	sameObjects := func(a, b map[string]bool) bool {
		if len(a) != len(b) {
			return false
		}
		for k := range a {
			if !b[k] {
				return false
			}
		}
		return true
	}

	properties.Property("a batch either lands whole or leaves the scene untouched", prop.ForAll(
		func(cmds []types.EditCommand, failAt int) bool {
			m := &stateMutator{objects: map[string]bool{"donut": true}, failAt: failAt}
			before := snapshot(m.objects)

			// Expected outcome of a fully successful batch, replayed against
			// the same host rules.
			want := snapshot(before)
			wholeBatchValid := true
			for _, cmd := range cmds {
				switch cmd.Op {
				case types.OpAddObject:
					if want[cmd.Target] {
						wholeBatchValid = false
					}
					want[cmd.Target] = true
				case types.OpRemoveObject:
					if !want[cmd.Target] {
						wholeBatchValid = false
					}
					delete(want, cmd.Target)
				}
				if !wholeBatchValid {
					break
				}
			}

			a := NewApplier(m)
			report, err := a.Apply(context.Background(), types.CommandSequence(cmds))

			if err != nil {
				if !types.IsCode(err, types.ErrPartialFailure) {
					return false
				}
				if report.Undone != report.Applied {
					return false
				}
				return sameObjects(m.objects, before)
			}
			return wholeBatchValid && failAt >= len(cmds) &&
				report.Applied == len(cmds) && sameObjects(m.objects, want)
		},
		gen.SliceOf(genCmd),
		gen.IntRange(0, 12),
	))

	properties.TestingRun(t)
}

func TestPartialFailureMessageCarriesCounts(t *testing.T) {
	t.Parallel()

	m := newFakeMutator(1)
	a := NewApplier(m)

	_, err := a.Apply(context.Background(), types.CommandSequence{removeCmd("a"), removeCmd("b")})
	require.Error(t, err)
	var apiErr *types.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fmt.Sprintf("applied %d commands, undone %d", 1, 1), apiErr.Message)
	assert.ErrorContains(t, apiErr.Cause, "command 1")
}
