package backend

import (
	"strconv"
	"strings"
	"sync/atomic"

	"goprof/internal/registry"
)

// CallerLabel carries the caller id of an active instrumentation point.
const CallerLabel = "goprof.caller"

// Scope selects the samples that belong to a session.
type Scope struct {
	Describe string
	// Match receives the pprof labels of one sample. Nil matches everything.
	Match func(labels map[string][]string) bool
}

// Matches applies the scope to one sample's labels.
func (s Scope) Matches(labels map[string][]string) bool {
	return s.Match == nil || s.Match(labels)
}

// AllScope matches every sample.
func AllScope() Scope { return Scope{Describe: "all"} }

// TaskSet is a task selection that can grow while a profile is running,
// for instance when a named task is restarted under a new id.
type TaskSet struct {
	spawned bool
	ids     atomic.Pointer[map[string]struct{}]
}

// NewTaskSet returns a set holding ids.
func NewTaskSet(ids []registry.ProcID, spawned bool) *TaskSet {
	t := &TaskSet{spawned: spawned}
	empty := map[string]struct{}{}
	t.ids.Store(&empty)
	t.Add(ids...)
	return t
}

// Add extends the set.
func (t *TaskSet) Add(ids ...registry.ProcID) {
	for {
		old := t.ids.Load()
		next := make(map[string]struct{}, len(*old)+len(ids))
		for k := range *old {
			next[k] = struct{}{}
		}
		for _, id := range ids {
			next[strconv.FormatUint(uint64(id), 10)] = struct{}{}
		}
		if t.ids.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Scope returns a scope reading the live set.
func (t *TaskSet) Scope(describe string) Scope {
	return Scope{
		Describe: describe,
		Match: func(labels map[string][]string) bool {
			set := *t.ids.Load()
			for _, v := range labels[registry.ProcLabel] {
				if _, ok := set[v]; ok {
					return true
				}
			}
			if !t.spawned {
				return false
			}
			for _, lineage := range labels[registry.LineageLabel] {
				for _, part := range strings.Split(strings.Trim(lineage, "/"), "/") {
					if _, ok := set[part]; ok {
						return true
					}
				}
			}
			return false
		},
	}
}

// TaskScope matches samples of the given tasks. With spawned set, tasks whose
// lineage passes through one of them match too.
func TaskScope(ids []registry.ProcID, spawned bool) Scope {
	return NewTaskSet(ids, spawned).Scope(DescribeTasks(ids, spawned))
}

// DescribeTasks renders a task selection for reports.
func DescribeTasks(ids []registry.ProcID, spawned bool) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	desc := "tasks " + strings.Join(names, ",")
	if spawned {
		desc += " (+spawned)"
	}
	return desc
}

// CallerScope matches samples taken while the given caller was inside its
// instrumented region.
func CallerScope(caller string) Scope {
	return Scope{
		Describe: "caller " + caller,
		Match: func(labels map[string][]string) bool {
			for _, v := range labels[CallerLabel] {
				if v == caller {
					return true
				}
			}
			return false
		},
	}
}
