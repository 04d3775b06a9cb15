package monitoring

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// HealthSnapshot is the body of the /health endpoint.
type HealthSnapshot struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Connections   int     `json:"connections"`
	Channels      int     `json:"channels"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	Goroutines    int     `json:"goroutines"`
}

// HealthProbe samples process-level resource usage.
type HealthProbe struct {
	startTime time.Time
	proc      *process.Process
}

func NewHealthProbe() *HealthProbe {
	p := &HealthProbe{startTime: time.Now()}
	// Best effort; CPU/memory fields stay zero when process info is
	// unavailable (restricted environments).
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}
	return p
}

// Snapshot captures current health. connections and channels come from the
// registries; resource usage from gopsutil.
func (p *HealthProbe) Snapshot(connections, channels int) HealthSnapshot {
	snap := HealthSnapshot{
		Status:        "healthy",
		UptimeSeconds: time.Since(p.startTime).Seconds(),
		Connections:   connections,
		Channels:      channels,
		Goroutines:    runtime.NumGoroutine(),
	}
	if p.proc != nil {
		if cpu, err := p.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := p.proc.MemoryInfo(); err == nil {
			snap.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
	}
	return snap
}
