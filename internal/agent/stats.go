package agent

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"

	goprofv1 "goprof/api/goprof/v1"
)

// processStats samples the resource usage of the current process. Fields
// that cannot be read are left zero.
func processStats(ctx context.Context) *goprofv1.ProcessStats {
	pid := int32(os.Getpid())
	stats := &goprofv1.ProcessStats{
		Pid:        pid,
		Goroutines: int32(runtime.NumGoroutine()),
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return stats
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		stats.Name = name
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CpuPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RssBytes = mem.RSS
	}
	return stats
}
