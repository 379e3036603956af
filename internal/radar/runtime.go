package radar

import "fmt"

// Limits are the runtime resource quotas applied on every sampling tick.
type Limits struct {
	MemoryMaxMB float64 // default 128
	CPUQuota    float64 // percent, default 50
}

// DefaultLimits returns the built-in quotas.
func DefaultLimits() Limits {
	return Limits{MemoryMaxMB: 128, CPUQuota: 50}
}

// Usage is one sampled observation of a child process.
type Usage struct {
	MemoryMB   float64
	CPUPercent float64
}

// Check compares a sample against the limits. A non-empty reason means the
// process must be terminated.
func (l Limits) Check(u Usage) (breach bool, reason string) {
	if u.MemoryMB > l.MemoryMaxMB {
		return true, fmt.Sprintf("Memory usage exceeded: %.0fMB > %.0fMB limit", u.MemoryMB, l.MemoryMaxMB)
	}
	if u.CPUPercent > l.CPUQuota {
		return true, fmt.Sprintf("CPU usage exceeded: %.1f%% > %.0f%% limit", u.CPUPercent, l.CPUQuota)
	}
	return false, ""
}
