package agent

import (
	"time"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/internal/results"
	"goprof/internal/session"
)

func toStateResponse(s session.Snapshot) *goprofv1.StateResponse {
	resp := &goprofv1.StateResponse{
		SessionId:     s.ID,
		State:         string(s.State),
		Mode:          string(s.Mode),
		Backend:       string(s.Backend),
		Module:        s.Filter.Module,
		Function:      s.Filter.Function,
		Sort:          string(s.Sort),
		TargetSpec:    s.TargetSpec,
		ResultsDir:    s.ResultsDir,
		NextIndex:     s.NextIndex,
		MaxDurationMs: s.MaxDuration.Milliseconds(),
		StartWaitMs:   s.StartWait.Milliseconds(),
		CodePending:   s.CodePending,
		QueuedResults: int32(s.QueuedResults),
		StartedAtMs:   unixMillis(s.StartedAt),
		Coordinator: &goprofv1.CoordinatorState{
			Armed:      s.Coordinator.Armed,
			Owner:      uint64(s.Coordinator.Owner),
			Labels:     s.Coordinator.Labels,
			Transition: s.Coordinator.Transition,
		},
	}
	for _, id := range s.Targets {
		resp.Targets = append(resp.Targets, uint64(id))
	}
	return resp
}

func toResultRecord(r results.Record) *goprofv1.ResultRecord {
	return &goprofv1.ResultRecord{
		Kind:        string(r.Kind),
		Label:       r.Label,
		Path:        r.Path,
		Backend:     r.Backend,
		Text:        r.Text,
		CreatedAtMs: unixMillis(r.Created),
	}
}

func toEvent(n session.Note) *goprofv1.Event {
	ev := &goprofv1.Event{
		Kind:     string(n.Kind),
		State:    string(n.State),
		Mode:     string(n.Mode),
		Message:  n.Message,
		Label:    n.Label,
		AtUnixMs: unixMillis(n.At),
	}
	if n.Result != nil {
		ev.Result = toResultRecord(*n.Result)
	}
	return ev
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
