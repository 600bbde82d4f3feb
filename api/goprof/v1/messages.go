// Package goprofv1 holds the wire types and the gRPC service description of
// the goprof session endpoint.
package goprofv1

// AttachRequest configures the session created on attach. Zero values fall
// back to the agent configuration.
type AttachRequest struct {
	Backend         string `json:"backend,omitempty"`
	Targets         string `json:"targets,omitempty"`
	Module          string `json:"module,omitempty"`
	Function        string `json:"function,omitempty"`
	Sort            string `json:"sort,omitempty"`
	ResultsDir      string `json:"results_dir,omitempty"`
	MaxDurationMs   int64  `json:"max_duration_ms,omitempty"`
	StartWaitMs     int64  `json:"start_wait_ms,omitempty"`
	SetOnSpawn      bool   `json:"set_on_spawn,omitempty"`
	LabelTransition bool   `json:"label_transition,omitempty"`
}

func (x *AttachRequest) GetBackend() string {
	if x == nil {
		return ""
	}
	return x.Backend
}

func (x *AttachRequest) GetTargets() string {
	if x == nil {
		return ""
	}
	return x.Targets
}

type AttachResponse struct {
	SessionId string `json:"session_id"`
}

func (x *AttachResponse) GetSessionId() string {
	if x == nil {
		return ""
	}
	return x.SessionId
}

type FilterRequest struct {
	Module   string `json:"module"`
	Function string `json:"function"`
}

type ArmRequest struct {
	Labels       []string `json:"labels,omitempty"`
	KeepSettings bool     `json:"keep_settings,omitempty"`
}

func (x *ArmRequest) GetLabels() []string {
	if x == nil {
		return nil
	}
	return x.Labels
}

type DurationRequest struct {
	Millis int64 `json:"millis"`
}

func (x *DurationRequest) GetMillis() int64 {
	if x == nil {
		return 0
	}
	return x.Millis
}

// CoordinatorState mirrors the instrumentation coordinator store.
type CoordinatorState struct {
	Armed      bool     `json:"armed"`
	Owner      uint64   `json:"owner,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Transition bool     `json:"transition"`
}

// ProcessStats describes the target process itself.
type ProcessStats struct {
	Pid        int32   `json:"pid"`
	Name       string  `json:"name,omitempty"`
	CpuPercent float64 `json:"cpu_percent"`
	RssBytes   uint64  `json:"rss_bytes"`
	Goroutines int32   `json:"goroutines"`
}

type StateResponse struct {
	SessionId     string            `json:"session_id"`
	State         string            `json:"state"`
	Mode          string            `json:"mode"`
	Backend       string            `json:"backend"`
	Module        string            `json:"module"`
	Function      string            `json:"function"`
	Sort          string            `json:"sort"`
	TargetSpec    string            `json:"target_spec,omitempty"`
	Targets       []uint64          `json:"targets,omitempty"`
	ResultsDir    string            `json:"results_dir"`
	NextIndex     int64             `json:"next_index"`
	MaxDurationMs int64             `json:"max_duration_ms"`
	StartWaitMs   int64             `json:"start_wait_ms"`
	CodePending   bool              `json:"code_pending"`
	QueuedResults int32             `json:"queued_results"`
	StartedAtMs   int64             `json:"started_at_ms,omitempty"`
	Coordinator   *CoordinatorState `json:"coordinator,omitempty"`
	Process       *ProcessStats     `json:"process,omitempty"`
}

func (x *StateResponse) GetState() string {
	if x == nil {
		return ""
	}
	return x.State
}

func (x *StateResponse) GetCoordinator() *CoordinatorState {
	if x == nil {
		return nil
	}
	return x.Coordinator
}

type ResultRecord struct {
	Kind        string `json:"kind"`
	Label       string `json:"label,omitempty"`
	Path        string `json:"path,omitempty"`
	Backend     string `json:"backend"`
	Text        string `json:"text"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type ResultsResponse struct {
	Results []*ResultRecord `json:"results,omitempty"`
}

func (x *ResultsResponse) GetResults() []*ResultRecord {
	if x == nil {
		return nil
	}
	return x.Results
}

// Event is pushed on the Watch stream for every session notification.
type Event struct {
	Kind     string        `json:"kind"`
	State    string        `json:"state"`
	Mode     string        `json:"mode"`
	Message  string        `json:"message,omitempty"`
	Label    string        `json:"label,omitempty"`
	Result   *ResultRecord `json:"result,omitempty"`
	AtUnixMs int64         `json:"at_unix_ms"`
}

func (x *Event) GetKind() string {
	if x == nil {
		return ""
	}
	return x.Kind
}
