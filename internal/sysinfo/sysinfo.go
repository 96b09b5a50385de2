// ABOUTME: Host telemetry collection using gopsutil.
// ABOUTME: Produces protocol.Report samples: load, cpus, memory, disk, OS descriptor.

package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

const bytesPerGB = 1024 * 1024 * 1024

// Collector samples host metrics. Load and CPU count are required; memory
// and disk are best-effort and left absent from the report when the host
// does not expose them.
type Collector struct {
	// DiskPath is the volume measured for disk usage. Defaults to the root
	// volume, with a C: fallback for Windows hosts.
	DiskPath string
}

// NewCollector returns a Collector with platform defaults.
func NewCollector() *Collector {
	return &Collector{DiskPath: "/"}
}

// Sample collects a full telemetry report for the named agent, stamped at
// collection time.
func (c *Collector) Sample(ctx context.Context, name string) (*protocol.Report, error) {
	avg, err := c.loadAverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting load average: %w", err)
	}

	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("counting cpus: %w", err)
	}

	report := &protocol.Report{
		Name:      name,
		OS:        c.osDescriptor(ctx),
		Load:      avg,
		CPUs:      cpus,
		Timestamp: protocol.Now(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		report.MemoryTotal = gbPtr(vm.Total)
		report.MemoryUsed = gbPtr(vm.Used)
		report.MemoryPercent = floatPtr(vm.UsedPercent)
	}

	if usage, err := c.diskUsage(ctx); err == nil {
		report.DiskTotal = gbPtr(usage.Total)
		report.DiskUsed = gbPtr(usage.Used)
		report.DiskPercent = floatPtr(usage.UsedPercent)
	}

	return report, nil
}

// QuickReport collects the minimal sample (name, os, load, cpus) with an
// epoch-millisecond integer timestamp. Used as the first sample of a session.
func (c *Collector) QuickReport(ctx context.Context, name string) (*protocol.Report, error) {
	avg, err := c.loadAverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting load average: %w", err)
	}

	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("counting cpus: %w", err)
	}

	return &protocol.Report{
		Name:      name,
		OS:        c.osDescriptor(ctx),
		Load:      avg,
		CPUs:      cpus,
		Timestamp: protocol.Now().AsEpochMillis(),
	}, nil
}

// loadAverage returns the 1-minute load average. Windows has no loadavg, so
// there the normalized CPU utilization stands in for it.
func (c *Collector) loadAverage(ctx context.Context) (float64, error) {
	if runtime.GOOS == "windows" {
		percents, err := cpu.PercentWithContext(ctx, time.Second, false)
		if err != nil {
			return 0, err
		}
		if len(percents) == 0 {
			return 0, fmt.Errorf("no cpu utilization reported")
		}
		return percents[0] / 100.0, nil
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// diskUsage measures the configured volume, falling back to C: when the
// root volume is not a mount point (Windows).
func (c *Collector) diskUsage(ctx context.Context) (*disk.UsageStat, error) {
	usage, err := disk.UsageWithContext(ctx, c.DiskPath)
	if err != nil && runtime.GOOS == "windows" {
		usage, err = disk.UsageWithContext(ctx, "C:")
	}
	return usage, err
}

// osDescriptor composes arch + OS + kernel version, e.g. "x86_64Linux6.1.0".
func (c *Collector) osDescriptor(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return runtime.GOARCH + runtime.GOOS
	}
	arch := info.KernelArch
	if arch == "" {
		arch = runtime.GOARCH
	}
	return arch + titleOS(info.OS) + info.KernelVersion
}

// titleOS upper-cases the first letter of gopsutil's lower-case OS name so
// descriptors read like "Linux"/"Darwin"/"Windows".
func titleOS(os string) string {
	if os == "" {
		return runtime.GOOS
	}
	b := []byte(os)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

func gbPtr(bytes uint64) *float64 {
	v := float64(bytes) / bytesPerGB
	return &v
}

func floatPtr(v float64) *float64 { return &v }
