// Package coordinator arbitrates which instrumented caller may own the
// profiling slot and under which label.
package coordinator

import (
	"errors"
	"strconv"
	"sync"
)

var (
	// ErrDisallowed means no code profiling is armed.
	ErrDisallowed = errors.New("code profiling not armed")
	// ErrInvalidLabel means the store is armed for other labels.
	ErrInvalidLabel = errors.New("label not armed")
	// ErrNeverStarted is returned to a caller releasing a slot it does not own.
	ErrNeverStarted = errors.New("profiling never started for caller")
	// ErrClosed is returned after the store was torn down on detach.
	ErrClosed = errors.New("coordinator closed")
	// ErrBadLabel wraps label syntax errors.
	ErrBadLabel = errors.New("bad label")
)

// Caller identifies one entry into an instrumentation point.
type Caller uint64

func (c Caller) String() string {
	return "caller-" + strconv.FormatUint(uint64(c), 10)
}

// Grant is the outcome of a successful Request.
type Grant struct {
	// Pseudo grants only measure elapsed time; the slot belongs to someone else.
	Pseudo bool
	Label  string
}

// Snapshot is a copy of the store state.
type Snapshot struct {
	Armed      bool
	Owner      Caller
	Labels     []string
	Transition bool
	Closed     bool
}

// Store is the shared arbitration state. Mutual exclusion of the slot is
// carried by owner: armed is cleared whenever owner is set.
type Store struct {
	mu         sync.Mutex
	armed      bool
	owner      Caller
	labels     map[string]struct{}
	transition bool
	closed     bool
}

// New returns a disarmed store.
func New(transition bool) *Store {
	return &Store{labels: make(map[string]struct{}), transition: transition}
}

// Arm replaces the pending label set and arms the store. An empty set arms
// every label.
func (s *Store) Arm(labels []string) error {
	clean, err := NormalizeLabels(labels)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.labels = make(map[string]struct{}, len(clean))
	for _, l := range clean {
		s.labels[l] = struct{}{}
	}
	s.armed = true
	return nil
}

// Request asks for the slot on behalf of caller.
func (s *Store) Request(caller Caller, label string) (Grant, error) {
	if label != NoLabel {
		clean, err := NormalizeLabel(label)
		if err != nil {
			return Grant{}, ErrInvalidLabel
		}
		label = clean
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Grant{}, ErrClosed
	}
	if !s.armed {
		if s.transition && label != NoLabel {
			if _, ok := s.labels[label]; ok {
				delete(s.labels, label)
				return Grant{Pseudo: true, Label: label}, nil
			}
		}
		return Grant{}, ErrDisallowed
	}

	_, match := s.labels[label]
	if !match && len(s.labels) > 0 && label != NoLabel {
		return Grant{}, ErrInvalidLabel
	}
	s.owner = caller
	s.armed = false
	if s.transition {
		delete(s.labels, label)
	}
	return Grant{Label: label}, nil
}

// Release gives the slot back. Only the current owner may release.
func (s *Store) Release(caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if caller == 0 || s.owner != caller {
		return ErrNeverStarted
	}
	s.owner = 0
	s.armed = false
	return nil
}

// ForceRelease clears the owner regardless of who holds the slot and returns it.
func (s *Store) ForceRelease() (Caller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.owner
	s.owner = 0
	s.armed = false
	return prev, prev != 0
}

// Consume removes label from the pending set. Only one-shot grants still
// hold it: in transition mode Request removes the label itself.
func (s *Store) Consume(label string) {
	s.mu.Lock()
	delete(s.labels, label)
	s.mu.Unlock()
}

// Rearm arms the store again for the remaining labels. It refuses when the
// slot is owned or nothing is pending, since an empty set would arm every label.
func (s *Store) Rearm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.owner != 0 || len(s.labels) == 0 {
		return false
	}
	s.armed = true
	return true
}

// Disarm drops the pending labels. An owned slot stays owned.
func (s *Store) Disarm() {
	s.mu.Lock()
	s.armed = false
	s.labels = make(map[string]struct{})
	s.mu.Unlock()
}

// SetTransition switches label-transition mode.
func (s *Store) SetTransition(on bool) {
	s.mu.Lock()
	s.transition = on
	s.mu.Unlock()
}

// Pending reports whether the store waits for a caller.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Snapshot returns a copy of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Armed:      s.armed,
		Owner:      s.owner,
		Labels:     sortedKeys(s.labels),
		Transition: s.transition,
		Closed:     s.closed,
	}
}

// Close tears the store down. Every later call fails with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.armed = false
	s.owner = 0
	s.labels = make(map[string]struct{})
	s.mu.Unlock()
}
