// Package guardrail gates local inference on device health. It probes
// thermal state and process memory footprint, classifies overall health,
// and wraps long-running operations with a timeout that keeps re-checking
// health while the operation runs.
package guardrail

import "time"

// Thresholds control when the monitor warns, defers or aborts.
type Thresholds struct {
	// MemoryWarn is the process footprint above which inference proceeds
	// only under active monitoring.
	MemoryWarn uint64
	// MemoryCritical is the footprint above which inference is blocked.
	MemoryCritical uint64
	// OperationTimeout is the default budget for a wrapped operation.
	OperationTimeout time.Duration
	// CheckInterval is how often health is re-checked mid-operation.
	CheckInterval time.Duration
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryWarn:       300 * 1024 * 1024,
		MemoryCritical:   500 * 1024 * 1024,
		OperationTimeout: 45 * time.Second,
		CheckInterval:    5 * time.Second,
	}
}
