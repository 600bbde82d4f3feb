package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"goprof/internal/app"
)

type stubController struct {
	targets  []app.Target
	state    app.State
	results  []app.Result
	attached []app.AttachParams
	started  []app.Call
}

func (s *stubController) Targets(context.Context) ([]app.Target, error) { return s.targets, nil }

func (s *stubController) Attach(_ context.Context, p app.AttachParams) (string, error) {
	s.attached = append(s.attached, p)
	return "sid", nil
}

func (s *stubController) Detach(context.Context, app.Call) error { return nil }

func (s *stubController) Start(_ context.Context, c app.Call) error {
	s.started = append(s.started, c)
	return nil
}

func (s *stubController) Analyze(context.Context, app.Call) error { return nil }

func (s *stubController) Reset(context.Context, app.Call) error {
	return errors.New("reset refused")
}

func (s *stubController) Arm(context.Context, app.ArmParams) error { return nil }

func (s *stubController) State(context.Context, app.Call) (app.State, error) { return s.state, nil }

func (s *stubController) Results(context.Context, app.Call) ([]app.Result, error) {
	return s.results, nil
}

func loaded(t *testing.T, ctrl *stubController) *Model {
	t.Helper()
	m := New(ctrl, Options{Spec: "group:web", Backend: "wall"})
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 60})
	msg := m.Init()()
	_, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatal("expected state to be loaded for the selected agent")
	}
	m.Update(cmd())
	return m
}

func TestModelShowsTargetsAndState(t *testing.T) {
	ctrl := &stubController{
		targets: []app.Target{{PID: 41, Socket: "/tmp/goprof-41.sock", Name: "shop", Alive: true}},
		state:   app.State{SessionID: "sid", State: "waiting", Mode: "normal", Backend: "cpu"},
	}
	m := loaded(t, ctrl)

	view := m.View()
	for _, want := range []string{"1 agent(s)", "[pid=41] shop (alive)", "session=sid state=waiting"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelKeysDriveSelectedAgent(t *testing.T) {
	ctrl := &stubController{
		targets: []app.Target{{PID: 41, Socket: "/tmp/goprof-41.sock", Alive: true}},
	}
	m := loaded(t, ctrl)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	if msg, ok := cmd().(actionDoneMsg); !ok || msg.text != "Attached." {
		t.Fatalf("unexpected attach result %#v", msg)
	}
	if len(ctrl.attached) != 1 || ctrl.attached[0].Targets != "group:web" || ctrl.attached[0].Backend != "wall" {
		t.Fatalf("unexpected attach params %+v", ctrl.attached)
	}
	if ctrl.attached[0].Target != "/tmp/goprof-41.sock" {
		t.Fatalf("attach went to %q", ctrl.attached[0].Target)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	cmd()
	if len(ctrl.started) != 1 {
		t.Fatal("start was not sent")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m.Update(cmd())
	if !strings.Contains(m.View(), "reset refused") {
		t.Fatalf("error not shown:\n%s", m.View())
	}
}

func TestModelShowsLatestResult(t *testing.T) {
	ctrl := &stubController{targets: []app.Target{{PID: 1, Socket: "s"}}}
	m := loaded(t, ctrl)
	m.Update(resultsMsg{results: []app.Result{{Path: "/out/profiler_cpu.3", Text: "main.work 10ms"}}})
	view := m.View()
	if !strings.Contains(view, "main.work 10ms") || !strings.Contains(view, "profiler_cpu.3") {
		t.Fatalf("result not shown:\n%s", view)
	}
}

func TestModelQuit(t *testing.T) {
	m := New(&stubController{}, Options{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit")
	}
}
