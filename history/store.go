// Package history keeps a bounded per-session record of prompt/response
// pairs. The router folds recent entries back into the system prompt so a
// follow-up instruction like "make it bigger" has something to refer to.
package history

import (
	"context"
	"sync"
	"time"
)

// Entry is one prompt/response pair.
type Entry struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Backend  string    `json:"backend,omitempty"`
	At       time.Time `json:"at"`
}

// Store records and recalls session history. Implementations must be safe
// for concurrent use.
type Store interface {
	// Append records an entry for the session.
	Append(ctx context.Context, session string, e Entry) error

	// Recent returns up to n entries for the session, oldest first.
	Recent(ctx context.Context, session string, n int) ([]Entry, error)
}

// memoryStore is the default in-process Store: a capped ring per session.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
	cap      int
}

// NewMemoryStore creates an in-memory Store keeping at most capPerSession
// entries per session (8 when zero or negative).
func NewMemoryStore(capPerSession int) Store {
	if capPerSession <= 0 {
		capPerSession = 8
	}
	return &memoryStore{
		sessions: make(map[string][]Entry),
		cap:      capPerSession,
	}
}

func (s *memoryStore) Append(_ context.Context, session string, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.sessions[session], e)
	if len(entries) > s.cap {
		entries = entries[len(entries)-s.cap:]
	}
	s.sessions[session] = entries
	return nil
}

func (s *memoryStore) Recent(_ context.Context, session string, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[session]
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out, nil
}
