package session

import (
	"time"
)

const subscriberBuffer = 64

// Subscribe registers a controller listener. The channel is closed when the
// session terminates or cancel is called. Slow listeners lose notes.
func (s *Session) Subscribe() (<-chan Note, func()) {
	ch := make(chan Note, subscriberBuffer)
	s.subsMu.Lock()
	if s.subsClosed {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) note(kind NoteKind, msg string) Note {
	return Note{Kind: kind, State: s.state, Mode: s.mode, Message: msg, At: s.clock.Now()}
}

// emit delivers n to every controller listener without blocking.
func (s *Session) emit(n Note) {
	if n.At.IsZero() {
		n.At = s.clock.Now()
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			s.log.WithField("note", n.Kind).Warn("listener too slow, note dropped")
		}
	}
}

// emitManager delivers n to the manager of the current arming. Blocking
// delivery waits at most the code timeout.
func (s *Session) emitManager(n Note) {
	if s.manager == nil {
		return
	}
	if n.At.IsZero() {
		n.At = s.clock.Now()
	}
	if !s.blocking {
		select {
		case s.manager <- n:
		default:
			s.log.WithField("note", n.Kind).Warn("manager not ready, note dropped")
		}
		return
	}
	timer := time.NewTimer(s.codeLimit)
	defer timer.Stop()
	select {
	case s.manager <- n:
	case <-timer.C:
		s.log.WithField("note", n.Kind).Warn("manager delivery timed out")
	}
}

func (s *Session) emitBoth(n Note) {
	s.emit(n)
	s.emitManager(n)
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subsClosed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
