// Package backend adapts the Go runtime profilers to one start/stop/analyze
// contract. A session owns exactly one Adapter at a time.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/pprof/profile"
)

// Kind selects a profiler implementation.
type Kind string

const (
	// KindCPU samples on-CPU stacks.
	KindCPU Kind = "cpu"
	// KindWall samples goroutine stacks to measure cumulative wall time.
	KindWall Kind = "wall"
	// KindBlock counts contention events.
	KindBlock Kind = "block"
)

// Sort orders report rows.
type Sort string

const (
	SortTime        Sort = "time"
	SortCalls       Sort = "calls"
	SortName        Sort = "name"
	SortAccumulated Sort = "accumulated"
	SortOwn         Sort = "own"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrBadSort        = errors.New("sort key not supported by backend")
	ErrNoLiveFilter   = errors.New("backend does not support live filter changes")
	ErrBadFilter      = errors.New("invalid filter")
	ErrSlotBusy       = errors.New("profiling slot busy")
	ErrNotRunning     = errors.New("backend not running")
	ErrRunning        = errors.New("backend already running")
	ErrDead           = errors.New("backend is down")
)

// Caps describes what a backend supports.
type Caps struct {
	LiveFilter  bool
	Labels      bool
	Sorts       []Sort
	DefaultSort Sort
}

var capsByKind = map[Kind]Caps{
	KindCPU:   {LiveFilter: true, Labels: true, Sorts: []Sort{SortTime, SortCalls, SortName}, DefaultSort: SortTime},
	KindWall:  {Labels: true, Sorts: []Sort{SortAccumulated, SortOwn}, DefaultSort: SortAccumulated},
	KindBlock: {Sorts: []Sort{SortTime, SortCalls, SortName}, DefaultSort: SortTime},
}

// Kinds lists the available backends.
func Kinds() []Kind { return []Kind{KindCPU, KindWall, KindBlock} }

// ParseKind validates a backend name.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := capsByKind[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, raw)
	}
	return k, nil
}

// CapsOf returns the capabilities of k.
func CapsOf(k Kind) Caps { return capsByKind[k] }

// ParseSort validates raw against k. An empty key yields the default.
func ParseSort(k Kind, raw string) (Sort, error) {
	caps, ok := capsByKind[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, k)
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return caps.DefaultSort, nil
	}
	for _, s := range caps.Sorts {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s does not sort by %q", ErrBadSort, k, raw)
}

// Profiler is one native profiler. Implementations are driven from a single
// goroutine and need no locking of their own.
type Profiler interface {
	Kind() Kind
	Start(scope Scope) error
	Stop() (*profile.Profile, error)
}

// Factory builds a profiler. fail reports an asynchronous fault that must
// take the owning adapter down.
type Factory func(fail func(error)) Profiler

// NewProfiler returns the runtime profiler for k.
func NewProfiler(k Kind) (Factory, error) {
	switch k {
	case KindCPU:
		return func(func(error)) Profiler { return newCPUProfiler() }, nil
	case KindWall:
		return func(fail func(error)) Profiler { return newWallProfiler(defaultWallInterval, fail) }, nil
	case KindBlock:
		return func(func(error)) Profiler { return newBlockProfiler() }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, k)
}
