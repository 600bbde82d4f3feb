package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"goprof/internal/backend"
	"goprof/internal/registry"
)

// timerSlot holds one cancellable timer. Firings carry the generation they
// were armed with so a firing that raced with cancellation is ignored.
type timerSlot struct {
	timer *clock.Timer
	gen   uint64
}

func (s *Session) armTimer(slot *timerSlot, d time.Duration, kind eventKind) {
	s.cancelTimer(slot)
	s.timerGen++
	gen := s.timerGen
	slot.gen = gen
	slot.timer = s.clock.AfterFunc(d, func() {
		s.post(event{kind: kind, gen: gen})
	})
}

func (s *Session) cancelTimer(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.gen = 0
}

func (slot *timerSlot) current(gen uint64) bool {
	return slot.gen != 0 && slot.gen == gen
}

func (s *Session) cancelTimers() {
	s.cancelTimer(&s.durTimer)
	s.cancelTimer(&s.waitTimer)
}

// monitorSet tracks the goroutines watching profiled tasks.
type monitorSet struct {
	mu   sync.Mutex
	stop chan struct{}
	gen  uint64
	ids  map[registry.ProcID]struct{}
}

func newMonitorSet() *monitorSet {
	return &monitorSet{ids: make(map[registry.ProcID]struct{})}
}

// watch monitors ids not yet watched in the current generation.
func (s *Session) monitor(ids []registry.ProcID) {
	if s.watcher == nil {
		return
	}
	m := s.monitors
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop == nil {
		m.stop = make(chan struct{})
		m.gen++
	}
	for _, id := range ids {
		if _, ok := m.ids[id]; ok {
			continue
		}
		m.ids[id] = struct{}{}
		go s.watchTarget(id, s.watcher.Watch(id), m.stop, m.gen)
	}
}

func (s *Session) watchTarget(id registry.ProcID, exited <-chan struct{}, stop <-chan struct{}, gen uint64) {
	select {
	case <-exited:
		s.post(event{kind: evTargetDied, target: id, gen: gen})
	case <-stop:
	case <-s.done:
	}
}

func (s *Session) demonitor() {
	m := s.monitors
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.ids = make(map[registry.ProcID]struct{})
}

func (s *Session) monitorGen() uint64 {
	s.monitors.mu.Lock()
	defer s.monitors.mu.Unlock()
	if s.monitors.stop == nil {
		return 0
	}
	return s.monitors.gen
}

// setAdapter installs a backend and watches it for crashes.
func (s *Session) setAdapter(a *backend.Adapter) {
	s.backendGen++
	s.adapter = a
	gen := s.backendGen
	go func() {
		select {
		case <-a.Done():
			s.post(event{kind: evBackendDied, gen: gen})
		case <-s.done:
		}
	}()
}

func (s *Session) closeAdapter() {
	if s.adapter == nil {
		return
	}
	s.backendGen++
	s.adapter.Close()
	s.adapter = nil
}
