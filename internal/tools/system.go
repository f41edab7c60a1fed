package tools

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemStatusTool reports host load so the agent can judge whether heavy
// work is sensible right now.
type SystemStatusTool struct{}

func NewSystemStatusTool() *SystemStatusTool {
	return &SystemStatusTool{}
}

func (s *SystemStatusTool) Name() string {
	return "system_status"
}

func (s *SystemStatusTool) Description() string {
	return "Report host CPU, memory and disk usage plus the busiest processes."
}

func (s *SystemStatusTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "path", Description: "filesystem path whose disk usage to report", Default: "/"},
		{Name: "top", Type: "int", Description: "number of processes to list by CPU", Default: 5},
	}
}

func (s *SystemStatusTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	path := capability.StringParam(params, "path")
	if path == "" {
		path = "/"
	}
	top, err := intParam(params, "top", 5)
	if err != nil {
		return capability.Result{}, err
	}

	var b strings.Builder
	if info, err := host.InfoWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Host: %s (%s %s), uptime %dh\n", info.Hostname, info.Platform, info.PlatformVersion, info.Uptime/3600)
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return capability.Result{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	cpuPct := 0.0
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	fmt.Fprintf(&b, "CPU: %.1f%% across %d cores\n", cpuPct, runtime.NumCPU())

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return capability.Result{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	fmt.Fprintf(&b, "Memory: %.1f%% used (%d MiB of %d MiB)\n", vm.UsedPercent, vm.Used>>20, vm.Total>>20)

	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		fmt.Fprintf(&b, "Disk %s: %.1f%% used (%d GiB free)\n", path, du.UsedPercent, du.Free>>30)
	} else {
		fmt.Fprintf(&b, "Disk %s: unavailable (%v)\n", path, err)
	}

	if top > 0 {
		b.WriteString(topProcesses(ctx, top))
	}
	return text(strings.TrimRight(b.String(), "\n")), nil
}

func topProcesses(ctx context.Context, n int) string {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ""
	}
	type usage struct {
		name string
		pid  int32
		cpu  float64
	}
	var list []usage
	for _, p := range procs {
		pct, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		list = append(list, usage{name: name, pid: p.Pid, cpu: pct})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].cpu > list[j].cpu })
	if len(list) > n {
		list = list[:n]
	}
	var b strings.Builder
	b.WriteString("Top processes:\n")
	for _, u := range list {
		fmt.Fprintf(&b, "  %6d %-24s %.1f%%\n", u.pid, u.name, u.cpu)
	}
	return b.String()
}
