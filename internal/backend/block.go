package backend

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/pprof"

	"github.com/google/pprof/profile"
)

// blockProfiler counts contention events process-wide. The runtime does not
// record goroutine labels for block events, so scopes cannot narrow it.
type blockProfiler struct {
	base    *profile.Profile
	running bool
}

func newBlockProfiler() *blockProfiler { return &blockProfiler{} }

func (p *blockProfiler) Kind() Kind { return KindBlock }

func (p *blockProfiler) Start(Scope) error {
	if p.running {
		return ErrRunning
	}
	runtime.SetBlockProfileRate(1)
	base, err := snapshot("block")
	if err != nil {
		runtime.SetBlockProfileRate(0)
		return err
	}
	p.base = base
	p.running = true
	return nil
}

func (p *blockProfiler) Stop() (*profile.Profile, error) {
	if !p.running {
		return nil, ErrNotRunning
	}
	p.running = false
	cur, err := snapshot("block")
	runtime.SetBlockProfileRate(0)
	if err != nil {
		return nil, err
	}
	return delta(p.base, cur)
}

func snapshot(name string) (*profile.Profile, error) {
	prof := pprof.Lookup(name)
	if prof == nil {
		return nil, fmt.Errorf("no %s profile", name)
	}
	var buf bytes.Buffer
	if err := prof.WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("write %s profile: %w", name, err)
	}
	parsed, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse %s profile: %w", name, err)
	}
	return parsed, nil
}

// delta subtracts base from cur the way pprof -base does.
func delta(base, cur *profile.Profile) (*profile.Profile, error) {
	if base == nil || len(base.Sample) == 0 {
		return cur, nil
	}
	base = base.Copy()
	base.Scale(-1)
	merged, err := profile.Merge([]*profile.Profile{cur, base})
	if err != nil {
		return nil, fmt.Errorf("subtract base profile: %w", err)
	}
	return dropZero(merged), nil
}

func dropZero(p *profile.Profile) *profile.Profile {
	kept := p.Sample[:0]
	for _, s := range p.Sample {
		for _, v := range s.Value {
			if v != 0 {
				kept = append(kept, s)
				break
			}
		}
	}
	p.Sample = kept
	return p
}
