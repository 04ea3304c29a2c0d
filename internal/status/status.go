// Package status reports component health and host/process resource usage.
package status

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Check returns nil when the component is healthy.
type Check func(ctx context.Context) error

type Component struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type System struct {
	Hostname string  `json:"hostname"`
	OS       string  `json:"os"`
	Arch     string  `json:"arch"`
	CPUUsage float64 `json:"cpu_usage_percent"`
	MemTotal uint64  `json:"mem_total_bytes"`
	MemUsed  uint64  `json:"mem_used_bytes"`
	MemUsage float64 `json:"mem_usage_percent"`
	DiskPath string  `json:"disk_path"`
	DiskUsed uint64  `json:"disk_used_bytes"`
	DiskFree uint64  `json:"disk_free_bytes"`
}

type Process struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

type Report struct {
	Healthy    bool        `json:"healthy"`
	Components []Component `json:"components"`
	System     System      `json:"system"`
	Process    Process     `json:"process"`
}

// Checker runs registered checks in registration order.
type Checker struct {
	diskPath string

	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

func NewChecker(diskPath string) *Checker {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Checker{diskPath: diskPath, checks: make(map[string]Check)}
}

func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// Report runs every check. Resource figures that cannot be read are left
// zero rather than failing the report.
func (c *Checker) Report(ctx context.Context) Report {
	c.mu.RLock()
	names := append([]string(nil), c.names...)
	checks := make([]Check, len(names))
	for i, n := range names {
		checks[i] = c.checks[n]
	}
	c.mu.RUnlock()

	r := Report{Healthy: true, Components: make([]Component, 0, len(names))}
	for i, name := range names {
		comp := Component{Name: name, Healthy: true}
		if err := checks[i](ctx); err != nil {
			comp.Healthy = false
			comp.Error = err.Error()
			r.Healthy = false
		}
		r.Components = append(r.Components, comp)
	}

	r.System = c.system(ctx)
	r.Process = processStats(ctx)

	return r
}

func (c *Checker) system(ctx context.Context) System {
	hostname, _ := os.Hostname()

	s := System{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		DiskPath: c.diskPath,
	}

	// interval 0 compares against the previous call instead of blocking
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUUsage = pct[0]
	}
	if m, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemTotal = m.Total
		s.MemUsed = m.Used
		s.MemUsage = m.UsedPercent
	}
	if d, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		s.DiskUsed = d.Used
		s.DiskFree = d.Free
	}

	return s
}

func processStats(ctx context.Context) Process {
	p := Process{PID: int32(os.Getpid()), Goroutines: runtime.NumGoroutine()}

	proc, err := process.NewProcessWithContext(ctx, p.PID)
	if err != nil {
		return p
	}
	if m, err := proc.MemoryInfoWithContext(ctx); err == nil {
		p.RSS = m.RSS
	}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		p.CPUPercent = pct
	}

	return p
}

// Lines renders the component list for terminals.
func (r Report) Lines() []string {
	width := 0
	for _, c := range r.Components {
		width = max(width, len(c.Name))
	}

	lines := []string{"Mira Agent Status:", strings.Repeat("-", 50)}
	for _, c := range r.Components {
		state := "● running"
		if !c.Healthy {
			state = "○ down (" + c.Error + ")"
		}
		lines = append(lines, fmt.Sprintf("%-*s %s", width, c.Name, state))
	}
	lines = append(lines, strings.Repeat("-", 50))

	return lines
}
