package registry

import (
	"strconv"
	"time"
)

// ProcID is the handle of a task spawned through the registry.
type ProcID uint64

// String renders the handle literal accepted by the resolver.
func (id ProcID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// ProcMeta holds user-defined labels.
type ProcMeta struct {
	Tags   []string `json:"tags,omitempty"`   // arbitrary labels
	Groups []string `json:"groups,omitempty"` // process groups, resolvable by name
}

// Proc holds a task entry. It is immutable outside registry methods.
type Proc struct {
	ID        ProcID    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Parent    ProcID    `json:"parent,omitempty"`
	Lineage   string    `json:"lineage"`
	Alive     bool      `json:"alive"`
	Restarts  int       `json:"restarts,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
	Meta      ProcMeta  `json:"meta"`
}

// SpawnOptions configures a new task.
type SpawnOptions struct {
	// Name registers the task under a unique name while it is alive.
	Name   string
	Tags   []string
	Groups []string
	// Restart respawns the task under the same name when it panics.
	Restart bool
}

// ListFilter allows narrowing the registry query.
type ListFilter struct {
	TagsAny   []string // include if has ANY of these tags
	GroupsAny []string // include if in ANY of these groups
	AliveOnly bool
	IDs       []ProcID
	Names     []string
}
