package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rajarshidattapy/BlendAI/types"
)

// Registry is a thread-safe registry of configured backends. Lookups are
// read-mostly; registration is rare and exclusive with reads.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]registryEntry
	nextSeq  int
}

type registryEntry struct {
	desc BackendDescriptor
	seq  int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]registryEntry),
	}
}

// Register adds a backend descriptor. Descriptors are immutable once
// registered; re-registering an existing id fails with DuplicateBackend.
func (r *Registry) Register(desc BackendDescriptor) error {
	if desc.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "backend id must not be empty")
	}
	if desc.Provider == nil {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("backend %q has no provider", desc.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[desc.ID]; exists {
		return types.NewError(types.ErrDuplicateBackend,
			fmt.Sprintf("backend %q is already registered", desc.ID)).WithBackend(desc.ID)
	}
	r.backends[desc.ID] = registryEntry{desc: desc, seq: r.nextSeq}
	r.nextSeq++
	return nil
}

// Get retrieves a descriptor by id, failing with UnknownBackend if absent.
func (r *Registry) Get(id string) (BackendDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[id]
	if !ok {
		return BackendDescriptor{}, types.NewError(types.ErrUnknownBackend,
			fmt.Sprintf("backend %q is not registered", id)).WithBackend(id)
	}
	return e.desc, nil
}

// List returns backends ordered by descending priority, ties broken by
// registration order. When capabilities are given, only backends declaring
// all of them are returned.
func (r *Registry) List(caps ...Capability) []BackendDescriptor {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.backends))
	for _, e := range r.backends {
		if !hasAll(e.desc, caps) {
			continue
		}
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].desc.Priority != entries[j].desc.Priority {
			return entries[i].desc.Priority > entries[j].desc.Priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]BackendDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.desc)
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

func hasAll(desc BackendDescriptor, caps []Capability) bool {
	for _, c := range caps {
		if !desc.HasCapability(c) {
			return false
		}
	}
	return true
}
