// Package health samples host-wide CPU and memory via gopsutil and folds
// them into the broker's minimal {uptime_sec, topics, subscribers}
// health response as extra fields (spec §6 control plane, extended per
// SPEC_FULL.md §B domain stack).
package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// System is a point-in-time resource snapshot.
type System struct {
	CPUPercent    float64
	MemUsedBytes  uint64
	MemTotalBytes uint64
}

// Sampler reports the host's current CPU and memory usage. It is cheap
// enough to call once per /health request.
type Sampler struct {
	startedAt time.Time
}

func NewSampler() *Sampler {
	return &Sampler{startedAt: time.Now()}
}

// UptimeSeconds returns the process uptime since the sampler was built
// (effectively process start, since one Sampler is constructed in main).
func (s *Sampler) UptimeSeconds() int64 {
	return int64(time.Since(s.startedAt).Seconds())
}

// Sample takes a best-effort CPU/memory reading. Errors from gopsutil
// (e.g. unsupported platform) degrade to a zero-value field rather than
// failing the health check — /health must stay up even when sampling
// doesn't.
func (s *Sampler) Sample() System {
	var sys System

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sys.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys.MemUsedBytes = vm.Used
		sys.MemTotalBytes = vm.Total
	}
	return sys
}
