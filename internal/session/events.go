package session

import (
	"context"
	"time"

	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/registry"
	"goprof/internal/results"
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evReset
	evAnalyze
	evUpdateFilter
	evArm
	evCodeStart
	evCodeStop
	evCallerCrashed
	evPseudoStart
	evPseudoStop
	evDuration
	evStartWait
	evKeepalive
	evBackendDied
	evTargetDied
	evLinkUp
	evLinkDown
	evTouch
	evGetState
	evGetResults
	evPing
	evSetTransition
	evSetMaxDuration
	evSetStartWait
)

var eventNames = map[eventKind]string{
	evStart:          "start",
	evStop:           "stop",
	evReset:          "reset",
	evAnalyze:        "analyze",
	evUpdateFilter:   "update_filter",
	evArm:            "arm_code",
	evCodeStart:      "code_start",
	evCodeStop:       "code_stop",
	evCallerCrashed:  "caller_crashed",
	evPseudoStart:    "pseudo_start",
	evPseudoStop:     "pseudo_stop",
	evDuration:       "duration_timeout",
	evStartWait:      "start_wait_timeout",
	evKeepalive:      "keepalive_expired",
	evBackendDied:    "backend_died",
	evTargetDied:     "target_died",
	evLinkUp:         "link_up",
	evLinkDown:       "link_down",
	evTouch:          "touch",
	evGetState:       "get_state",
	evGetResults:     "get_results",
	evPing:           "ping",
	evSetTransition:  "set_label_transition",
	evSetMaxDuration: "set_max_duration",
	evSetStartWait:   "set_start_wait",
}

func (k eventKind) String() string { return eventNames[k] }

// internal reports events the session raises itself; they are never rejected.
func (k eventKind) internal() bool {
	switch k {
	case evDuration, evStartWait, evKeepalive, evBackendDied, evTargetDied, evTouch, evLinkUp, evLinkDown:
		return true
	}
	return false
}

type event struct {
	kind     eventKind
	ctx      context.Context
	gen      uint64
	caller   coordinator.Caller
	label    string
	labels   []string
	manager  chan<- Note
	filter   backend.Filter
	flag     bool
	dur      time.Duration
	target   registry.ProcID
	reason   string
	released chan struct{}
	reply    chan reply
	out      reply
}

type reply struct {
	err     error
	snap    Snapshot
	records []results.Record
}
