package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Profiler labels attached to every task goroutine. Goroutines started by a
// task inherit them, so samples can be attributed to the owning task.
const (
	ProcLabel    = "goprof.proc"
	LineageLabel = "goprof.lineage"
)

// ErrNameTaken is returned when a live task already holds the requested name.
var ErrNameTaken = errors.New("name already registered")

type entry struct {
	proc   *Proc
	opts   SpawnOptions
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry is a threadsafe catalog of the tasks running inside the target.
// Secondary indexes enable cheap lookups by name, tag, group and pool.
type Registry struct {
	mu      sync.RWMutex
	nextID  ProcID
	byID    map[ProcID]*entry
	byName  map[string]ProcID
	byTag   map[string]map[ProcID]struct{}
	byGroup map[string]map[ProcID]struct{}
	pools   map[string]string
	wg      sync.WaitGroup
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nextID:  1,
		byID:    make(map[ProcID]*entry),
		byName:  make(map[string]ProcID),
		byTag:   make(map[string]map[ProcID]struct{}),
		byGroup: make(map[string]map[ProcID]struct{}),
		pools:   make(map[string]string),
	}
}

// Spawn runs fn on a new goroutine registered as a task. The task context is
// cancelled by Kill. When ctx belongs to another task the new one records it
// as its parent.
func (r *Registry) Spawn(ctx context.Context, opts SpawnOptions, fn func(context.Context)) (ProcID, error) {
	name, err := normalizeName(opts.Name)
	if err != nil {
		return 0, err
	}
	groups := make([]string, 0, len(opts.Groups))
	for _, g := range norm(opts.Groups) {
		clean, err := normalizeName(g)
		if err != nil {
			return 0, fmt.Errorf("group: %w", err)
		}
		groups = append(groups, clean)
	}
	opts.Name = name
	opts.Groups = groups
	opts.Tags = norm(opts.Tags)
	return r.spawn(ctx, opts, fn, 0)
}

func (r *Registry) spawn(ctx context.Context, opts SpawnOptions, fn func(context.Context), restarts int) (ProcID, error) {
	parent, parentLineage := parentOf(ctx)

	r.mu.Lock()
	if opts.Name != "" {
		if _, taken := r.byName[opts.Name]; taken {
			r.mu.Unlock()
			return 0, fmt.Errorf("%w: %s", ErrNameTaken, opts.Name)
		}
	}
	id := r.nextID
	r.nextID++

	lineage := parentLineage + id.String()[1:] + "/"
	if parentLineage == "" {
		lineage = "/" + lineage
	}
	taskCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		proc: &Proc{
			ID:        id,
			Name:      opts.Name,
			Parent:    parent,
			Lineage:   lineage,
			Alive:     true,
			Restarts:  restarts,
			StartedAt: now(),
			Meta:      ProcMeta{Tags: append([]string(nil), opts.Tags...), Groups: append([]string(nil), opts.Groups...)},
		},
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.byID[id] = e
	if opts.Name != "" {
		r.byName[opts.Name] = id
	}
	for _, t := range opts.Tags {
		r.indexLocked(r.byTag, t, id)
	}
	for _, g := range opts.Groups {
		r.indexLocked(r.byGroup, g, id)
	}
	r.wg.Add(1)
	r.mu.Unlock()

	labels := pprof.Labels(ProcLabel, strconv.FormatUint(uint64(id), 10), LineageLabel, lineage)
	go func() {
		defer r.wg.Done()
		panicked := false
		defer func() {
			if v := recover(); v != nil {
				panicked = true
				log.WithField("proc", id.String()).Errorf("task panicked: %v", v)
			}
			e := r.retire(id)
			// The replacement is registered before watchers of the old task
			// wake up, so a re-resolve by name finds it.
			if panicked && opts.Restart && ctx.Err() == nil {
				if newID, err := r.spawn(ctx, opts, fn, restarts+1); err != nil {
					log.WithField("proc", id.String()).Warnf("restart failed: %v", err)
				} else {
					log.WithField("proc", id.String()).Infof("restarted as %s", newID)
				}
			}
			if e != nil {
				e.cancel()
				close(e.done)
			}
		}()
		pprof.Do(taskCtx, labels, fn)
	}()
	return id, nil
}

// retire marks the task dead and frees its name. The caller closes done.
func (r *Registry) retire(id ProcID) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byID[id]
	if e == nil {
		return nil
	}
	e.proc.Alive = false
	e.proc.ExitedAt = now()
	if e.proc.Name != "" && r.byName[e.proc.Name] == id {
		delete(r.byName, e.proc.Name)
	}
	return e
}

func (r *Registry) indexLocked(idx map[string]map[ProcID]struct{}, key string, id ProcID) {
	if _, ok := idx[key]; !ok {
		idx[key] = make(map[ProcID]struct{})
	}
	idx[key][id] = struct{}{}
}

// parentOf extracts the spawning task from the goroutine labels in ctx.
func parentOf(ctx context.Context) (ProcID, string) {
	raw, ok := pprof.Label(ctx, ProcLabel)
	if !ok {
		return 0, ""
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, ""
	}
	lineage, _ := pprof.Label(ctx, LineageLabel)
	return ProcID(n), lineage
}

// Kill cancels the task context. The task exits once fn returns.
func (r *Registry) Kill(id ProcID) bool {
	r.mu.RLock()
	e := r.byID[id]
	r.mu.RUnlock()
	if e == nil {
		return false
	}
	e.cancel()
	return true
}

// Watch returns a channel closed when the task exits. Unknown tasks yield a
// closed channel.
func (r *Registry) Watch(id ProcID) <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byID[id]; e != nil {
		return e.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Whereis returns the live task registered under name.
func (r *Registry) Whereis(name string) (ProcID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.TrimSpace(name)]
	return id, ok
}

// Members returns the live tasks of a group, sorted by ID.
func (r *Registry) Members(group string) []ProcID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProcID, 0, len(r.byGroup[group]))
	for id := range r.byGroup[group] {
		if e := r.byID[id]; e != nil && e.proc.Alive {
			out = append(out, id)
		}
	}
	return sortIDs(out)
}

// Alive reports whether the task exists and has not exited.
func (r *Registry) Alive(id ProcID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.byID[id]
	return e != nil && e.proc.Alive
}

// RegisterPool declares the group holding the acceptors of a listener pool.
func (r *Registry) RegisterPool(pool, group string) error {
	pool, err := normalizeName(pool)
	if err != nil {
		return err
	}
	group, err = normalizeName(group)
	if err != nil {
		return err
	}
	if pool == "" || group == "" {
		return errors.New("pool and group must not be empty")
	}
	r.mu.Lock()
	r.pools[pool] = group
	r.mu.Unlock()
	return nil
}

// Pool returns the acceptor group registered for pool.
func (r *Registry) Pool(pool string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.pools[strings.TrimSpace(pool)]
	return g, ok
}

// Tag adds tags to the task metadata atomically.
func (r *Registry) Tag(id ProcID, add []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byID[id]
	if e == nil {
		return errNotFound(id)
	}
	have := toSet(e.proc.Meta.Tags)
	for _, t := range norm(add) {
		have[t] = struct{}{}
		r.indexLocked(r.byTag, t, id)
	}
	e.proc.Meta.Tags = setToSlice(have)
	return nil
}

// GroupAssign adds the task to groups.
func (r *Registry) GroupAssign(id ProcID, groups []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byID[id]
	if e == nil {
		return errNotFound(id)
	}
	have := toSet(e.proc.Meta.Groups)
	for _, g := range norm(groups) {
		clean, err := normalizeName(g)
		if err != nil {
			return err
		}
		have[clean] = struct{}{}
		r.indexLocked(r.byGroup, clean, id)
	}
	e.proc.Meta.Groups = setToSlice(have)
	return nil
}

// Remove deletes an exited entry. Live tasks cannot be removed.
func (r *Registry) Remove(id ProcID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byID[id]
	if e == nil || e.proc.Alive {
		return false
	}
	r.dropLocked(id, e)
	return true
}

// Prune deletes every exited entry and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, e := range r.byID {
		if e.proc.Alive {
			continue
		}
		r.dropLocked(id, e)
		count++
	}
	return count
}

func (r *Registry) dropLocked(id ProcID, e *entry) {
	delete(r.byID, id)
	for _, t := range e.proc.Meta.Tags {
		delete(r.byTag[t], id)
		if len(r.byTag[t]) == 0 {
			delete(r.byTag, t)
		}
	}
	for _, g := range e.proc.Meta.Groups {
		delete(r.byGroup[g], id)
		if len(r.byGroup[g]) == 0 {
			delete(r.byGroup, g)
		}
	}
}

// Get returns a copy of a Proc by ID.
func (r *Registry) Get(id ProcID) (Proc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.byID[id]
	if e == nil {
		return Proc{}, false
	}
	return copyProc(e.proc), true
}

// List returns matching tasks, sorted by ID asc.
func (r *Registry) List(f ListFilter) []Proc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ProcID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}

	if len(f.IDs) > 0 {
		set := make(map[ProcID]struct{}, len(f.IDs))
		for _, id := range f.IDs {
			set[id] = struct{}{}
		}
		ids = filterIDs(ids, func(id ProcID) bool {
			_, ok := set[id]
			return ok
		})
	}
	if len(f.Names) > 0 {
		names := toSet(norm(f.Names))
		ids = filterIDs(ids, func(id ProcID) bool {
			_, ok := names[r.byID[id].proc.Name]
			return ok
		})
	}
	if len(f.TagsAny) > 0 {
		ids = filterIDs(ids, func(id ProcID) bool {
			for _, t := range f.TagsAny {
				if _, ok := r.byTag[t][id]; ok {
					return true
				}
			}
			return false
		})
	}
	if len(f.GroupsAny) > 0 {
		ids = filterIDs(ids, func(id ProcID) bool {
			for _, g := range f.GroupsAny {
				if _, ok := r.byGroup[g][id]; ok {
					return true
				}
			}
			return false
		})
	}
	if f.AliveOnly {
		ids = filterIDs(ids, func(id ProcID) bool {
			return r.byID[id].proc.Alive
		})
	}

	sortIDs(ids)
	out := make([]Proc, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyProc(r.byID[id].proc))
	}
	return out
}

// Shutdown cancels every task and waits for them to exit or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, e := range r.byID {
		e.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func copyProc(p *Proc) Proc {
	cp := *p
	cp.Meta.Tags = append([]string(nil), p.Meta.Tags...)
	cp.Meta.Groups = append([]string(nil), p.Meta.Groups...)
	return cp
}

func errNotFound(id ProcID) error {
	return fmt.Errorf("proc %s not found", id)
}
