package agent

import (
	"errors"
	"sync"

	"goprof/instrument"
	"goprof/internal/coordinator"
)

// ErrAttached is returned when a second controller tries to attach.
var ErrAttached = errors.New("a controller is already attached")

// Substitution swaps the instrumentation hooks for the lifetime of a session.
type Substitution struct {
	mu       sync.Mutex
	attached bool
	prev     instrument.Hooks
	store    *coordinator.Store
}

// Attach records the installed hooks, installs active and takes ownership of store.
func (s *Substitution) Attach(store *coordinator.Store, active instrument.Hooks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return ErrAttached
	}
	s.store = store
	s.prev = instrument.Install(active)
	s.attached = true
	return nil
}

// Detach restores the recorded hooks and tears the store down. Detaching
// twice is a no-op.
func (s *Substitution) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return
	}
	instrument.Restore(s.prev)
	s.store.Close()
	s.prev, s.store = nil, nil
	s.attached = false
}

// Store returns the live store, or nil when detached.
func (s *Substitution) Store() *coordinator.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Attached reports whether active hooks are installed.
func (s *Substitution) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}
