package app

import (
	"time"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/internal/agent"
)

// Target is a discovered program running an agent.
type Target = agent.Target

// Coordinator mirrors the arming state of the agent.
type Coordinator struct {
	Armed      bool
	Owner      uint64
	Labels     []string
	Transition bool
}

// ProcessStats describes the resource usage of the target program.
type ProcessStats struct {
	PID        int
	Name       string
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
}

// State mirrors the session snapshot served by the agent.
type State struct {
	SessionID     string
	State         string
	Mode          string
	Backend       string
	Module        string
	Function      string
	Sort          string
	TargetSpec    string
	Targets       []uint64
	ResultsDir    string
	NextIndex     int64
	MaxDuration   time.Duration
	StartWait     time.Duration
	CodePending   bool
	QueuedResults int
	StartedAt     time.Time
	Coordinator   Coordinator
	Process       *ProcessStats
}

// Result is one profiling report.
type Result struct {
	Kind    string
	Label   string
	Path    string
	Backend string
	Text    string
	Created time.Time
}

// Event is one session notification.
type Event struct {
	Kind    string
	State   string
	Mode    string
	Message string
	Label   string
	Result  *Result
	At      time.Time
}

func stateFromProto(p *goprofv1.StateResponse) State {
	s := State{
		SessionID:     p.SessionId,
		State:         p.GetState(),
		Mode:          p.Mode,
		Backend:       p.Backend,
		Module:        p.Module,
		Function:      p.Function,
		Sort:          p.Sort,
		TargetSpec:    p.TargetSpec,
		Targets:       append([]uint64(nil), p.Targets...),
		ResultsDir:    p.ResultsDir,
		NextIndex:     p.NextIndex,
		MaxDuration:   time.Duration(p.MaxDurationMs) * time.Millisecond,
		StartWait:     time.Duration(p.StartWaitMs) * time.Millisecond,
		CodePending:   p.CodePending,
		QueuedResults: int(p.QueuedResults),
		StartedAt:     fromMillis(p.StartedAtMs),
	}
	if c := p.GetCoordinator(); c != nil {
		s.Coordinator = Coordinator{
			Armed:      c.Armed,
			Owner:      c.Owner,
			Labels:     append([]string(nil), c.Labels...),
			Transition: c.Transition,
		}
	}
	if ps := p.Process; ps != nil {
		s.Process = &ProcessStats{
			PID:        int(ps.Pid),
			Name:       ps.Name,
			CPUPercent: ps.CpuPercent,
			RSSBytes:   ps.RssBytes,
			Goroutines: int(ps.Goroutines),
		}
	}
	return s
}

func resultFromProto(r *goprofv1.ResultRecord) Result {
	return Result{
		Kind:    r.Kind,
		Label:   r.Label,
		Path:    r.Path,
		Backend: r.Backend,
		Text:    r.Text,
		Created: fromMillis(r.CreatedAtMs),
	}
}

func eventFromProto(e *goprofv1.Event) Event {
	ev := Event{
		Kind:    e.Kind,
		State:   e.State,
		Mode:    e.Mode,
		Message: e.Message,
		Label:   e.Label,
		At:      fromMillis(e.AtUnixMs),
	}
	if e.Result != nil {
		r := resultFromProto(e.Result)
		ev.Result = &r
	}
	return ev
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
