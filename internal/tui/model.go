package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"goprof/internal/app"
)

const requestTimeout = 4 * time.Second

// Controller defines the subset of app.App behaviour the TUI needs.
type Controller interface {
	Targets(context.Context) ([]app.Target, error)
	Attach(context.Context, app.AttachParams) (string, error)
	Detach(context.Context, app.Call) error
	Start(context.Context, app.Call) error
	Analyze(context.Context, app.Call) error
	Reset(context.Context, app.Call) error
	Arm(context.Context, app.ArmParams) error
	State(context.Context, app.Call) (app.State, error)
	Results(context.Context, app.Call) ([]app.Result, error)
}

// Options configures the sessions the TUI attaches.
type Options struct {
	// Spec is the target specification used on attach.
	Spec    string
	Backend string
}

// Model represents the Bubble Tea state.
type Model struct {
	controller Controller
	opts       Options

	list    list.Model
	targets []app.Target

	state     *app.State
	lastTrace string
	statusMsg string

	err     error
	loading bool

	width  int
	height int

	lastUpdated time.Time
}

// New constructs a TUI model with default styles.
func New(ctrl Controller, opts Options) *Model {
	delegate := list.NewDefaultDelegate()
	lst := list.New([]list.Item{}, delegate, 0, 0)
	lst.Title = "Agents"
	lst.SetShowHelp(false)
	lst.SetFilteringEnabled(false)
	lst.DisableQuitKeybindings()

	return &Model{
		controller: ctrl,
		opts:       opts,
		list:       lst,
		statusMsg:  "Looking for agents…",
		loading:    true,
	}
}

// Run spins up the Bubble Tea program with sensible defaults.
func Run(ctrl Controller, opts Options) error {
	m := New(ctrl, opts)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return loadTargetsCmd(m.controller)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.height > 4 {
			m.list.SetSize(msg.Width, (msg.Height-4)/2)
		}

	case targetsLoadedMsg:
		m.loading = false
		m.err = nil
		m.targets = msg.targets
		items := make([]list.Item, 0, len(msg.targets))
		for _, t := range msg.targets {
			items = append(items, targetItem{Target: t})
		}
		m.list.SetItems(items)
		m.lastUpdated = time.Now()
		if len(msg.targets) == 0 {
			m.statusMsg = "No agents found. Press r to refresh, q to quit."
		} else {
			m.statusMsg = fmt.Sprintf("%d agent(s). Press r to refresh, q to quit.", len(msg.targets))
		}
		if current := m.currentTarget(); current != nil {
			return m, loadStateCmd(m.controller, current.Socket)
		}

	case stateMsg:
		m.err = nil
		st := msg.state
		m.state = &st

	case detachedMsg:
		m.state = nil

	case actionDoneMsg:
		m.statusMsg = msg.text
		if current := m.currentTarget(); current != nil {
			return m, loadStateCmd(m.controller, current.Socket)
		}

	case resultsMsg:
		if len(msg.results) > 0 {
			last := msg.results[len(msg.results)-1]
			m.lastTrace = last.Text
			m.statusMsg = fmt.Sprintf("%d new result(s), latest %s", len(msg.results), valueOrDash(last.Path))
		}

	case errMsg:
		m.loading = false
		m.err = msg.err

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg.String()); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(key string) (tea.Cmd, bool) {
	switch key {
	case "ctrl+c", "q":
		return tea.Quit, true
	case "r":
		m.loading = true
		return loadTargetsCmd(m.controller), true
	}

	current := m.currentTarget()
	if current == nil {
		return nil, false
	}
	call := app.Call{Target: current.Socket, Timeout: requestTimeout}
	ctrl := m.controller
	switch key {
	case "a":
		params := app.AttachParams{Call: call, Targets: m.opts.Spec, Backend: m.opts.Backend}
		return actionCmd("Attached.", func(ctx context.Context) error {
			_, err := ctrl.Attach(ctx, params)
			return err
		}), true
	case "d":
		return tea.Sequence(actionCmd("Detached.", func(ctx context.Context) error {
			return ctrl.Detach(ctx, call)
		}), func() tea.Msg { return detachedMsg{} }), true
	case "s":
		return actionCmd("Profiling started.", func(ctx context.Context) error {
			return ctrl.Start(ctx, call)
		}), true
	case "z":
		return tea.Sequence(actionCmd("Analyzing…", func(ctx context.Context) error {
			return ctrl.Analyze(ctx, call)
		}), loadResultsCmd(ctrl, call)), true
	case "x":
		return actionCmd("Session reset.", func(ctx context.Context) error {
			return ctrl.Reset(ctx, call)
		}), true
	case "k":
		return actionCmd("Code profiling armed for any region.", func(ctx context.Context) error {
			return ctrl.Arm(ctx, app.ArmParams{Call: call})
		}), true
	case "g":
		return loadResultsCmd(ctrl, call), true
	case "enter":
		return loadStateCmd(ctrl, current.Socket), true
	}
	return nil, false
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	statusStyle := lipgloss.NewStyle().Bold(true)
	if len(m.targets) == 0 {
		statusStyle = statusStyle.Foreground(lipgloss.Color("203"))
	} else {
		statusStyle = statusStyle.Foreground(lipgloss.Color("42"))
	}
	b.WriteString(statusStyle.Render(m.statusMsg))
	b.WriteByte('\n')

	if m.loading {
		b.WriteString("Loading agents…\n")
	} else if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}

	if len(m.list.Items()) > 0 {
		b.WriteString(m.list.View())
		b.WriteByte('\n')
	}

	detailStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginBottom(1)
	if m.state != nil {
		b.WriteString(detailStyle.Render(describeState(*m.state)))
		b.WriteByte('\n')
	}
	if m.lastTrace != "" {
		b.WriteString(detailStyle.Render(clip(m.lastTrace, 20)))
		b.WriteByte('\n')
	}

	help := "Commands: q quit • r reload • a attach • s start • z analyze • x reset • k arm • g results • d detach"
	if !m.lastUpdated.IsZero() {
		help += fmt.Sprintf(" • last update %s", m.lastUpdated.Format(time.Kitchen))
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func describeState(st app.State) string {
	lines := []string{
		fmt.Sprintf("session=%s state=%s mode=%s backend=%s", st.SessionID, st.State, st.Mode, st.Backend),
		fmt.Sprintf("filter=%s:%s sort=%s targets=%s", st.Module, st.Function, st.Sort, valueOrDash(st.TargetSpec)),
		fmt.Sprintf("armed=%t labels=[%s] transition=%t pending=%t", st.Coordinator.Armed, strings.Join(st.Coordinator.Labels, ","), st.Coordinator.Transition, st.CodePending),
	}
	if !st.StartedAt.IsZero() {
		lines = append(lines, "profiling since "+humanize.Time(st.StartedAt))
	}
	if p := st.Process; p != nil {
		lines = append(lines, fmt.Sprintf("cpu=%.1f%% rss=%s goroutines=%d", p.CPUPercent, humanize.IBytes(p.RSSBytes), p.Goroutines))
	}
	return strings.Join(lines, "\n")
}

func clip(text string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:maxLines], "\n") + "\n…"
}

// targetItem adapts app.Target to the bubbles list item interface.
type targetItem struct {
	Target app.Target
}

func (t targetItem) Title() string {
	name := valueOrDash(t.Target.Name)
	alive := "gone"
	if t.Target.Alive {
		alive = "alive"
	}
	return fmt.Sprintf("[pid=%d] %s (%s)", t.Target.PID, name, alive)
}

func (t targetItem) Description() string {
	started := "-"
	if !t.Target.Started.IsZero() {
		started = humanize.Time(t.Target.Started)
	}
	return fmt.Sprintf("socket=%s | started %s | %s", t.Target.Socket, started, valueOrDash(t.Target.Cmdline))
}

func (t targetItem) FilterValue() string {
	return strconv.Itoa(t.Target.PID) + " " + t.Target.Name
}

func (m *Model) currentTarget() *app.Target {
	if len(m.targets) == 0 {
		return nil
	}
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.targets) {
		return nil
	}
	return &m.targets[idx]
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

type targetsLoadedMsg struct {
	targets []app.Target
}

type stateMsg struct {
	state app.State
}

type resultsMsg struct {
	results []app.Result
}

type actionDoneMsg struct{ text string }

type detachedMsg struct{}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func loadTargetsCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		targets, err := ctrl.Targets(ctx)
		if err != nil {
			return errMsg{err}
		}
		return targetsLoadedMsg{targets: targets}
	}
}

func loadStateCmd(ctrl Controller, socket string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := ctrl.State(ctx, app.Call{Target: socket, Timeout: requestTimeout})
		if err != nil {
			return errMsg{err}
		}
		return stateMsg{state: st}
	}
}

func loadResultsCmd(ctrl Controller, call app.Call) tea.Cmd {
	return func() tea.Msg {
		// the report is produced asynchronously after analyze
		time.Sleep(300 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := ctrl.Results(ctx, call)
		if err != nil {
			return errMsg{err}
		}
		return resultsMsg{results: res}
	}
}

func actionCmd(done string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{text: done}
	}
}
