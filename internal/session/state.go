// Package session runs the profiling session state machine. One Session
// exists per attachment and is the only mutator of its state.
package session

import (
	"errors"
	"time"

	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/registry"
	"goprof/internal/results"
)

// State is the coarse session state.
type State string

const (
	StateWaiting   State = "waiting"
	StateProfiling State = "profiling"
)

// Mode tells what a profiling session traces.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeCode   Mode = "code"
)

var (
	ErrTerminated       = errors.New("session terminated")
	ErrWrongState       = errors.New("request not valid in this state")
	ErrAlreadyProfiling = errors.New("already profiling")
	ErrNotProfiling     = errors.New("not profiling")
	ErrCodePending      = errors.New("code profiling already pending")
	ErrCodeMode         = errors.New("session is profiling a code region")
	ErrNoTargets        = errors.New("no profiling target configured")
	ErrNotOwner         = errors.New("caller does not own the profiling session")
	ErrBackendDown      = errors.New("backend unavailable")
)

// NoteKind distinguishes notifications.
type NoteKind string

const (
	NoteStateChanged     NoteKind = "state_changed"
	NoteRejected         NoteKind = "rejected"
	NoteTimeExceeded     NoteKind = "time_exceeded"
	NoteStartWaitExpired NoteKind = "start_wait_expired"
	NoteBackendRestarted NoteKind = "backend_restarted"
	NoteBackendCrashed   NoteKind = "backend_crashed"
	NoteTargetDown       NoteKind = "target_down"
	NoteResultReady      NoteKind = "result_ready"
	NoteCodeArmed        NoteKind = "code_armed"
	NoteReleased         NoteKind = "released"
	NoteTerminated       NoteKind = "terminated"
	NoteWarning          NoteKind = "warning"
)

// Note is one notification to the controller or a manager.
type Note struct {
	Kind    NoteKind
	State   State
	Mode    Mode
	Message string
	Label   string
	Result  *results.Record
	At      time.Time
}

// Snapshot is the full session state as served by GetState.
type Snapshot struct {
	ID            string
	State         State
	Mode          Mode
	Backend       backend.Kind
	Sort          backend.Sort
	Filter        backend.Filter
	TargetSpec    string
	Targets       []registry.ProcID
	ResultsDir    string
	NextIndex     int64
	MaxDuration   time.Duration
	StartWait     time.Duration
	CodePending   bool
	QueuedResults int
	StartedAt     time.Time
	Coordinator   coordinator.Snapshot
}
