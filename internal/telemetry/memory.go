// Package telemetry reports host and worker-process memory for the
// /api/status endpoint (spec §6.1), grounded on system_status.py's
// ctypes/proc-parsing implementation but using gopsutil/v3 for portable
// host and per-process memory queries instead of hand-rolled Windows/Linux
// branches.
package telemetry

import (
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostMemory mirrors get_memory_status()'s return shape.
type HostMemory struct {
	Total     uint64
	Available uint64
	Used      uint64
	Percent   float64
}

// ProcessMemory mirrors get_process_memory()'s return shape. Only RSS is
// filled in; Private is always 0 on every platform (matching the
// original's Linux /proc/status path, which reports rss only).
type ProcessMemory struct {
	RSS     uint64
	Private uint64
}

// GetHostMemory reports current host memory usage.
func GetHostMemory() (HostMemory, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return HostMemory{}, err
	}
	return HostMemory{
		Total:     v.Total,
		Available: v.Available,
		Used:      v.Used,
		Percent:   v.UsedPercent,
	}, nil
}

// GetProcessMemory reports the given PID's memory usage, returning a zero
// value (never an error) for pid <= 0 or a process that has already
// exited -- matching get_process_memory()'s "best effort, never raise"
// contract.
func GetProcessMemory(pid int32) ProcessMemory {
	if pid <= 0 {
		return ProcessMemory{}
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMemory{}
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return ProcessMemory{}
	}
	return ProcessMemory{RSS: info.RSS, Private: 0}
}
