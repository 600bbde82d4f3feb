package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Target is a program with a running agent.
type Target struct {
	PID     int
	Socket  string
	Name    string
	Cmdline string
	Started time.Time
	// Alive is false for sockets left behind by exited processes.
	Alive bool
}

// Discover lists the agent sockets in the runtime directory.
func Discover(ctx context.Context) ([]Target, error) {
	dir := RuntimeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []Target
	for _, e := range entries {
		pid, ok := pidFromSocket(e.Name())
		if !ok {
			continue
		}
		t := Target{PID: pid, Socket: filepath.Join(dir, e.Name())}
		alive, err := process.PidExistsWithContext(ctx, int32(pid))
		if err == nil && alive {
			t.Alive = true
			describe(ctx, &t)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func describe(ctx context.Context, t *Target) {
	p, err := process.NewProcessWithContext(ctx, int32(t.PID))
	if err != nil {
		return
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		t.Name = name
	}
	if cmd, err := p.CmdlineWithContext(ctx); err == nil {
		t.Cmdline = cmd
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		t.Started = time.UnixMilli(ms)
	}
}
