package engine

import (
	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUInfo is the result of the `get_cpu_info` command (spec §6):
// physical and logical core counts, which the UI collaborator uses to
// drive its own admission policy (spec §4.6 notes admission is the
// UI's job; it needs this number from somewhere).
type CPUInfo struct {
	PhysicalCores int
	LogicalCores  int
}

// GetCPUInfo reports the host's physical and logical core counts.
func GetCPUInfo() (CPUInfo, error) {
	physical, err := cpu.Counts(false)
	if err != nil {
		return CPUInfo{}, err
	}
	logical, err := cpu.Counts(true)
	if err != nil {
		return CPUInfo{}, err
	}
	return CPUInfo{PhysicalCores: physical, LogicalCores: logical}, nil
}
