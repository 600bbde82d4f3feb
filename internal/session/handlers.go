package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/registry"
	"goprof/internal/results"
)

type handler func(s *Session, ev *event) error

type transitionKey struct {
	state State
	kind  eventKind
}

var transitions = map[transitionKey]handler{
	{StateWaiting, evStart}:           (*Session).startProfiling,
	{StateProfiling, evStart}:         reject(ErrAlreadyProfiling),
	{StateProfiling, evAnalyze}:       (*Session).analyze,
	{StateWaiting, evAnalyze}:         reject(ErrNotProfiling),
	{StateWaiting, evReset}:           (*Session).resetWaiting,
	{StateProfiling, evReset}:         (*Session).resetProfiling,
	{StateWaiting, evArm}:             (*Session).armCode,
	{StateProfiling, evArm}:           reject(ErrAlreadyProfiling),
	{StateWaiting, evCodeStart}:       (*Session).codeStart,
	{StateProfiling, evCodeStart}:     (*Session).codeStartBusy,
	{StateWaiting, evCodeStop}:        reject(ErrNotOwner),
	{StateProfiling, evCodeStop}:      (*Session).codeStop,
	{StateWaiting, evCallerCrashed}:   reject(ErrNotOwner),
	{StateProfiling, evCallerCrashed}: (*Session).callerCrashed,
	{StateProfiling, evDuration}:      (*Session).durationTimeout,
	{StateWaiting, evStartWait}:       (*Session).startWaitTimeout,
	{StateWaiting, evBackendDied}:     (*Session).backendDiedWaiting,
	{StateProfiling, evBackendDied}:   (*Session).backendDiedProfiling,
	{StateProfiling, evTargetDied}:    (*Session).targetDied,
}

var anyState = map[eventKind]handler{
	evStop:           (*Session).stop,
	evUpdateFilter:   (*Session).updateFilter,
	evPseudoStart:    (*Session).pseudoStart,
	evPseudoStop:     (*Session).pseudoStop,
	evKeepalive:      (*Session).keepaliveExpired,
	evLinkUp:         (*Session).linkUp,
	evLinkDown:       (*Session).linkDown,
	evTouch:          (*Session).touch,
	evGetState:       (*Session).getState,
	evGetResults:     (*Session).getResults,
	evPing:           func(*Session, *event) error { return nil },
	evSetTransition:  (*Session).setTransition,
	evSetMaxDuration: (*Session).setMaxDuration,
	evSetStartWait:   (*Session).setStartWait,
}

func reject(err error) handler {
	return func(*Session, *event) error { return err }
}

func (s *Session) dispatch(ev event) {
	prevState, prevMode := s.state, s.mode

	h, ok := transitions[transitionKey{s.state, ev.kind}]
	if !ok {
		h, ok = anyState[ev.kind]
	}
	var err error
	switch {
	case ok:
		err = h(s, &ev)
	case ev.kind.internal():
		s.log.WithFields(log.Fields{"event": ev.kind, "state": s.state}).Debug("event ignored")
	default:
		err = fmt.Errorf("%w: %s while %s", ErrWrongState, ev.kind, s.state)
	}

	if err != nil && !ev.kind.internal() && !errors.Is(err, ErrNotOwner) {
		s.log.WithError(err).WithField("event", ev.kind).Info("request rejected")
		n := s.note(NoteRejected, err.Error())
		n.Label = ev.label
		s.emit(n)
	}
	if !s.terminated && (s.state != prevState || s.mode != prevMode) {
		s.log.WithFields(log.Fields{"state": s.state, "mode": s.mode}).Info("state changed")
		s.emit(s.note(NoteStateChanged, fmt.Sprintf("%s -> %s", prevState, s.state)))
	}
	if ev.reply != nil {
		ev.out.err = err
		ev.reply <- ev.out
	}
}

func (s *Session) enterProfiling(mode Mode) {
	s.state = StateProfiling
	s.mode = mode
	s.startedAt = s.clock.Now()
	if s.maxDuration > 0 {
		s.armTimer(&s.durTimer, s.maxDuration, evDuration)
	}
}

func (s *Session) toWaiting() {
	s.cancelTimer(&s.durTimer)
	s.state = StateWaiting
	s.mode = ModeNormal
	s.targets = nil
	s.taskSet = nil
	s.startedAt = time.Time{}
}

func (s *Session) startProfiling(*event) error {
	if s.codePending || s.store.Pending() {
		return ErrCodePending
	}
	if !s.hasSpec {
		return ErrNoTargets
	}
	if s.adapter == nil {
		return ErrBackendDown
	}
	var ids []registry.ProcID
	if s.resolver != nil {
		ids = s.resolver.Resolve(s.spec)
	}
	if len(ids) == 0 {
		s.terminate(fmt.Sprintf("no task matches %s", s.spec))
		return nil
	}

	set := backend.NewTaskSet(ids, s.spawned)
	if err := s.adapter.Start(set.Scope(backend.DescribeTasks(ids, s.spawned)), s.filter); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	s.targets, s.taskSet = ids, set
	s.monitor(ids)
	s.enterProfiling(ModeNormal)
	return nil
}

func (s *Session) analyze(*event) error {
	if s.mode == ModeCode {
		return ErrCodeMode
	}
	s.cancelTimer(&s.durTimer)
	s.demonitor()
	rec := s.finishRun(results.KindNormal, "", false)
	s.toWaiting()
	s.publish(rec, false)
	return nil
}

// finishRun stops the backend and stores its report. It returns nil when no
// report could be produced.
func (s *Session) finishRun(kind results.Kind, label string, footer bool) *results.Record {
	if s.adapter == nil {
		return nil
	}
	text, err := s.adapter.Analyze(s.sortKey)
	if err != nil {
		s.log.WithError(err).Warn("analysis failed")
		s.emit(s.note(NoteWarning, "analysis failed: "+err.Error()))
		return nil
	}
	footerValue := ""
	if footer {
		footerValue = label
		if footerValue == "" {
			footerValue = "none"
		}
		text = results.WithLabel(text, footerValue)
	}
	path, err := s.dir.Write(string(s.kind), text, "")
	if err != nil {
		s.log.WithError(err).Warn("result not written")
		s.emit(s.note(NoteWarning, err.Error()))
		path = ""
	}
	rec := results.Record{
		Kind:    kind,
		Label:   label,
		Path:    path,
		Backend: string(s.kind),
		Text:    text,
		Created: s.clock.Now(),
	}
	s.queue.Push(rec)
	s.log.WithFields(log.Fields{"path": path, "label": label}).Info("result ready")
	return &rec
}

func (s *Session) publish(rec *results.Record, toManager bool) {
	if rec == nil {
		return
	}
	n := s.note(NoteResultReady, rec.Path)
	n.Label = rec.Label
	n.Result = rec
	if toManager {
		s.emitBoth(n)
		return
	}
	s.emit(n)
}

func (s *Session) resetWaiting(*event) error {
	s.disarm()
	return nil
}

func (s *Session) resetProfiling(*event) error {
	s.cancelTimers()
	s.demonitor()
	if s.adapter != nil {
		if err := s.adapter.Stop(); err != nil {
			s.log.WithError(err).Warn("forced backend stop failed")
		}
	}
	s.releaseCaller()
	s.disarm()
	s.toWaiting()
	return nil
}

// disarm drops the pending labels and revokes a grant whose caller has not
// started yet. A running code session keeps its owner.
func (s *Session) disarm() {
	s.store.Disarm()
	if s.code.caller == 0 {
		s.store.ForceRelease()
	}
	s.codePending = false
	s.cancelTimer(&s.waitTimer)
}

// releaseCaller frees a caller blocked inside its code region.
func (s *Session) releaseCaller() {
	if s.code.caller == 0 {
		return
	}
	s.store.ForceRelease()
	if s.code.released != nil {
		close(s.code.released)
	}
	n := s.note(NoteReleased, s.code.caller.String())
	n.Label = s.code.label
	s.emit(n)
	s.code = codeRun{}
}

func (s *Session) armCode(ev *event) error {
	if err := s.store.Arm(ev.labels); err != nil {
		return err
	}
	s.codePending = true
	s.wildcard = len(ev.labels) == 0
	s.manager = ev.manager
	if !ev.flag {
		s.filter = backend.AnyFilter
	}
	if s.startWait > 0 {
		s.armTimer(&s.waitTimer, s.startWait, evStartWait)
	}
	msg := "any label"
	if !s.wildcard {
		msg = strings.Join(ev.labels, ",")
	}
	s.emit(s.note(NoteCodeArmed, msg))
	return nil
}

func (s *Session) codeStart(ev *event) error {
	if !s.codePending || s.store.Snapshot().Owner != ev.caller {
		return ErrNotOwner
	}
	if ev.ctx != nil && ev.ctx.Err() != nil {
		s.undoGrant(ev)
		return ev.ctx.Err()
	}
	if s.adapter == nil {
		s.undoGrant(ev)
		return ErrBackendDown
	}
	if err := s.adapter.Start(backend.CallerScope(ev.caller.String()), s.filter); err != nil {
		s.undoGrant(ev)
		return fmt.Errorf("start backend: %w", err)
	}
	s.cancelTimer(&s.waitTimer)
	s.codePending = false
	// Transition grants already dropped their label in Request.
	s.store.Consume(ev.label)
	s.code = codeRun{caller: ev.caller, label: ev.label, released: ev.released}
	s.enterProfiling(ModeCode)
	return nil
}

func (s *Session) codeStartBusy(ev *event) error {
	s.undoGrant(ev)
	return ErrAlreadyProfiling
}

// undoGrant returns a slot that was granted to a caller the session could
// not profile, and arms the store again so the next caller can retry.
func (s *Session) undoGrant(ev *event) {
	if err := s.store.Release(ev.caller); err != nil {
		return
	}
	if !s.codePending {
		return
	}
	labels := s.store.Snapshot().Labels
	if !s.wildcard {
		if ev.label == coordinator.NoLabel && len(labels) == 0 {
			s.codePending = false
			return
		}
		if ev.label != coordinator.NoLabel {
			labels = append(labels, ev.label)
		}
	} else {
		labels = nil
	}
	if err := s.store.Arm(labels); err != nil {
		s.log.WithError(err).Warn("re-arm after failed code start")
		s.codePending = false
	}
}

func (s *Session) codeStop(ev *event) error {
	if s.mode != ModeCode || ev.caller != s.code.caller {
		return ErrNotOwner
	}
	s.finishCode("")
	return nil
}

func (s *Session) callerCrashed(ev *event) error {
	if s.mode != ModeCode || ev.caller != s.code.caller {
		return ErrNotOwner
	}
	s.finishCode("caller crashed: " + ev.reason)
	return nil
}

// finishCode completes the running code session of its owner.
func (s *Session) finishCode(warning string) {
	s.cancelTimer(&s.durTimer)
	kind := results.KindNormal
	if s.code.label == coordinator.NoLabel {
		kind = results.KindUnknown
	}
	rec := s.finishRun(kind, s.code.label, true)
	if err := s.store.Release(s.code.caller); err != nil {
		s.store.ForceRelease()
	}
	s.code = codeRun{}
	if s.transition && s.store.Rearm() {
		s.codePending = true
		if s.startWait > 0 {
			s.armTimer(&s.waitTimer, s.startWait, evStartWait)
		}
		s.emit(s.note(NoteCodeArmed, strings.Join(s.store.Snapshot().Labels, ",")))
	} else {
		s.disarm()
	}
	s.toWaiting()
	if warning != "" {
		s.emitBoth(s.note(NoteWarning, warning))
	}
	s.publish(rec, true)
}

func (s *Session) pseudoStart(ev *event) error {
	s.cancelTimer(&s.waitTimer)
	s.store.Consume(ev.label)
	return nil
}

func (s *Session) pseudoStop(ev *event) error {
	rec := results.Record{
		Kind:    results.KindPseudo,
		Label:   ev.label,
		Backend: string(s.kind),
		Text:    results.PseudoReport(ev.label, ev.dur),
		Created: s.clock.Now(),
	}
	s.queue.Push(rec)
	s.publish(&rec, true)
	return nil
}

func (s *Session) durationTimeout(ev *event) error {
	if !s.durTimer.current(ev.gen) {
		return nil
	}
	s.durTimer = timerSlot{}

	if s.mode == ModeNormal {
		s.demonitor()
		rec := s.finishRun(results.KindNormal, "", false)
		s.toWaiting()
		s.emit(s.note(NoteTimeExceeded, "maximum duration reached"))
		s.publish(rec, false)
		return nil
	}

	kind := results.KindNormal
	if s.code.label == coordinator.NoLabel {
		kind = results.KindUnknown
	}
	rec := s.finishRun(kind, s.code.label, true)
	s.releaseCaller()
	s.disarm()
	s.toWaiting()
	s.emitBoth(s.note(NoteTimeExceeded, "maximum duration reached"))
	s.publish(rec, true)
	return nil
}

func (s *Session) startWaitTimeout(ev *event) error {
	if !s.waitTimer.current(ev.gen) {
		return nil
	}
	s.waitTimer = timerSlot{}
	s.disarm()
	s.emitBoth(s.note(NoteStartWaitExpired, "no caller entered an armed region"))
	return nil
}

func (s *Session) backendDiedWaiting(ev *event) error {
	if ev.gen != s.backendGen {
		return nil
	}
	s.log.WithError(s.adapter.Err()).Warn("backend died, restarting")
	s.restartBackend()
	return nil
}

func (s *Session) backendDiedProfiling(ev *event) error {
	if ev.gen != s.backendGen {
		return nil
	}
	cause := s.adapter.Err()
	s.log.WithError(cause).Error("backend died while profiling")
	s.cancelTimers()
	s.demonitor()
	s.releaseCaller()
	s.disarm()
	s.toWaiting()
	msg := "backend crashed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	s.emit(s.note(NoteBackendCrashed, msg))
	if s.restartBackend() {
		s.emit(s.note(NoteBackendRestarted, string(s.kind)))
	}
	return nil
}

func (s *Session) restartBackend() bool {
	s.adapter = nil
	ctx, cancel := context.WithTimeout(context.Background(), s.codeLimit)
	defer cancel()
	a, err := backend.Restart(ctx, s.kind, s.factory)
	if err != nil {
		s.log.WithError(err).Error("backend restart failed")
		s.emit(s.note(NoteWarning, err.Error()))
		return false
	}
	s.setAdapter(a)
	return true
}

func (s *Session) targetDied(ev *event) error {
	if s.mode != ModeNormal || ev.gen != s.monitorGen() {
		return nil
	}
	var survivors []registry.ProcID
	if s.resolver != nil {
		survivors = s.resolver.Resolve(s.spec)
	}
	if len(survivors) > 0 {
		if s.taskSet != nil {
			s.taskSet.Add(survivors...)
		}
		s.targets = survivors
		s.monitor(survivors)
		s.emit(s.note(NoteTargetDown, fmt.Sprintf("task %s exited, still tracing %d", ev.target, len(survivors))))
		return nil
	}

	s.demonitor()
	rec := s.finishRun(results.KindNormal, "", false)
	s.disarm()
	s.toWaiting()
	s.emit(s.note(NoteTargetDown, fmt.Sprintf("task %s exited, no targets left", ev.target)))
	s.publish(rec, false)
	return nil
}

func (s *Session) stop(*event) error {
	s.terminate("stopped by controller")
	return nil
}

func (s *Session) keepaliveExpired(ev *event) error {
	if !s.aliveTimer.current(ev.gen) {
		return nil
	}
	s.terminate("controller keepalive expired")
	return nil
}

func (s *Session) linkUp(*event) error {
	s.links++
	s.cancelTimer(&s.aliveTimer)
	return nil
}

func (s *Session) linkDown(ev *event) error {
	if s.links > 0 {
		s.links--
	}
	if s.links > 0 {
		return nil
	}
	if ev.flag {
		s.terminate("controller link lost")
		return nil
	}
	if s.linkLimit > 0 {
		s.armTimer(&s.aliveTimer, s.linkLimit, evKeepalive)
	}
	return nil
}

func (s *Session) touch(*event) error {
	if s.links == 0 && s.linkLimit > 0 {
		s.armTimer(&s.aliveTimer, s.linkLimit, evKeepalive)
	}
	return nil
}

// terminate ends the session. The loop exits after the current event.
func (s *Session) terminate(reason string) {
	s.cancelTimers()
	s.cancelTimer(&s.aliveTimer)
	s.demonitor()
	s.releaseCaller()
	s.disarm()
	s.closeAdapter()
	s.terminated = true
	s.log.WithField("reason", reason).Info("session terminated")
	s.emitBoth(s.note(NoteTerminated, reason))
	s.closeSubscribers()
}

func (s *Session) updateFilter(ev *event) error {
	f := ev.filter
	if strings.TrimSpace(f.Module) == "" {
		f.Module = "*"
	}
	if strings.TrimSpace(f.Function) == "" {
		f.Function = "*"
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if !backend.CapsOf(s.kind).LiveFilter {
		return fmt.Errorf("%w: %s", backend.ErrNoLiveFilter, s.kind)
	}
	if s.adapter != nil {
		if err := s.adapter.SetFilter(f); err != nil {
			return err
		}
	}
	s.filter = f
	return nil
}

func (s *Session) getState(ev *event) error {
	snap := Snapshot{
		ID:            s.id,
		State:         s.state,
		Mode:          s.mode,
		Backend:       s.kind,
		Sort:          s.sortKey,
		Filter:        s.filter,
		Targets:       append([]registry.ProcID(nil), s.targets...),
		ResultsDir:    s.dir.Path(),
		NextIndex:     s.dir.Next(),
		MaxDuration:   s.maxDuration,
		StartWait:     s.startWait,
		CodePending:   s.codePending,
		QueuedResults: s.queue.Len(),
		StartedAt:     s.startedAt,
		Coordinator:   s.store.Snapshot(),
	}
	if s.hasSpec {
		snap.TargetSpec = s.spec.String()
	}
	ev.out.snap = snap
	return nil
}

func (s *Session) getResults(ev *event) error {
	ev.out.records = s.queue.Drain()
	return nil
}

func (s *Session) setTransition(ev *event) error {
	s.transition = ev.flag
	s.store.SetTransition(ev.flag)
	return nil
}

func (s *Session) setMaxDuration(ev *event) error {
	if ev.dur < 0 {
		return fmt.Errorf("max duration must not be negative")
	}
	s.maxDuration = ev.dur
	return nil
}

func (s *Session) setStartWait(ev *event) error {
	if ev.dur < 0 {
		return fmt.Errorf("start wait must not be negative")
	}
	s.startWait = ev.dur
	return nil
}
