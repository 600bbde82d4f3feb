package backend

import (
	"bytes"
	"fmt"
	"runtime/pprof"

	"github.com/google/pprof/profile"
)

type cpuProfiler struct {
	buf     bytes.Buffer
	running bool
}

func newCPUProfiler() *cpuProfiler { return &cpuProfiler{} }

func (p *cpuProfiler) Kind() Kind { return KindCPU }

func (p *cpuProfiler) Start(Scope) error {
	if p.running {
		return ErrRunning
	}
	p.buf.Reset()
	if err := pprof.StartCPUProfile(&p.buf); err != nil {
		return fmt.Errorf("%w: %v", ErrSlotBusy, err)
	}
	p.running = true
	return nil
}

func (p *cpuProfiler) Stop() (*profile.Profile, error) {
	if !p.running {
		return nil, ErrNotRunning
	}
	pprof.StopCPUProfile()
	p.running = false
	if p.buf.Len() == 0 {
		return &profile.Profile{}, nil
	}
	prof, err := profile.Parse(&p.buf)
	if err != nil {
		return nil, fmt.Errorf("parse cpu profile: %w", err)
	}
	return prof, nil
}
