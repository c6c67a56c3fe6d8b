// Package hostdiag backs the CLI's "info" verb with host-side diagnostics
// (OS, CPU load, available memory) useful when a USB enumeration failure
// might be caused by host resource exhaustion rather than the probe itself.
// Grounded on the teacher's use of github.com/shirou/gopsutil/v3 for host
// diagnostics in its device-health checks.
package hostdiag

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report summarizes the host environment the probe session is running in.
type Report struct {
	OS            string
	Platform      string
	KernelVersion string
	CPUPercent    float64
	MemUsedPct    float64
	MemAvailMB    uint64
}

// Collect gathers a Report, tolerating partial failures from any individual
// gopsutil probe (a sandboxed or containerized host may deny some of them).
func Collect() (Report, error) {
	var r Report

	if info, err := host.Info(); err == nil {
		r.OS = info.OS
		r.Platform = info.Platform
		r.KernelVersion = info.KernelVersion
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemUsedPct = vm.UsedPercent
		r.MemAvailMB = vm.Available / (1024 * 1024)
	}

	return r, nil
}

// String renders the report the way a terminal diagnostic line should read.
func (r Report) String() string {
	return fmt.Sprintf("host: %s/%s (%s) cpu=%.1f%% mem=%.1f%% used, %dMB available",
		r.OS, r.Platform, r.KernelVersion, r.CPUPercent, r.MemUsedPct, r.MemAvailMB)
}
