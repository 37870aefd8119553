package sampler

import (
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const bytesPerMB = 1024 * 1024

// SystemStats is one reading of host-wide resource usage
type SystemStats struct {
	CPUPct    float64
	MemPct    float64
	MemUsedMB float64
}

// ProcStats is one reading of a single process
type ProcStats struct {
	CPUPct float64
	RSSMB  float64
}

// SystemProbe reads host-wide CPU and memory usage.
// CPU percentages are deltas since the previous call, so Prime must be
// called once before the first Sample.
type SystemProbe interface {
	Prime() error
	Sample() (SystemStats, error)
}

// ProcessProbe reads per-process CPU and resident memory.
// ok is false when the process is gone or not readable.
type ProcessProbe interface {
	Prime(pid int) error
	Sample(pid int) (stats ProcStats, ok bool)
}

// HostProbe implements SystemProbe with gopsutil
type HostProbe struct{}

// Prime discards the first zero-interval CPU reading
func (HostProbe) Prime() error {
	_, err := cpu.Percent(0, false)
	return err
}

// Sample reads CPU utilisation since the last call and current memory usage
func (HostProbe) Sample() (SystemStats, error) {
	var stats SystemStats

	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return stats, err
	}
	if len(pcts) > 0 {
		stats.CPUPct = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return stats, err
	}
	stats.MemPct = vm.UsedPercent
	stats.MemUsedMB = round2(float64(vm.Used) / bytesPerMB)
	return stats, nil
}

// PIDProbe implements ProcessProbe with gopsutil. The handle is cached so
// CPU deltas accumulate across calls for the same pid.
type PIDProbe struct {
	mu    sync.Mutex
	procs map[int]*process.Process
}

// NewPIDProbe creates a process probe
func NewPIDProbe() *PIDProbe {
	return &PIDProbe{procs: make(map[int]*process.Process)}
}

func (p *PIDProbe) handle(pid int) (*process.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if proc, ok := p.procs[pid]; ok {
		return proc, nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	p.procs[pid] = proc
	return proc, nil
}

// Prime discards the first zero-interval CPU reading for pid
func (p *PIDProbe) Prime(pid int) error {
	proc, err := p.handle(pid)
	if err != nil {
		return err
	}
	_, err = proc.Percent(0)
	return err
}

// Sample reads CPU utilisation since the last call and RSS for pid
func (p *PIDProbe) Sample(pid int) (ProcStats, bool) {
	proc, err := p.handle(pid)
	if err != nil {
		return ProcStats{}, false
	}

	cpuPct, err := proc.Percent(0)
	if err != nil {
		return ProcStats{}, false
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return ProcStats{}, false
	}

	return ProcStats{
		CPUPct: cpuPct,
		RSSMB:  round2(float64(memInfo.RSS) / bytesPerMB),
	}, true
}
