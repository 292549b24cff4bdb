//go:build !linux

package guardrail

import (
	"errors"
	"runtime"
)

type noopThermalProbe struct{}

// NewThermalProbe returns the platform thermal probe. Platforms without a
// sensor interface always report nominal.
func NewThermalProbe() ThermalProbe {
	return &noopThermalProbe{}
}

func (p *noopThermalProbe) ThermalState() (ThermalLevel, error) {
	return ThermalNominal, nil
}

type runtimeMemoryProbe struct{}

// NewMemoryProbe returns the platform memory probe.
func NewMemoryProbe() MemoryProbe {
	return &runtimeMemoryProbe{}
}

func (p *runtimeMemoryProbe) Footprint() (uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, nil
}

func (p *runtimeMemoryProbe) TotalRAM() (uint64, error) {
	return 0, errors.New("total RAM not available on this platform")
}

// DiskFree returns the free bytes on the filesystem holding path.
func DiskFree(path string) (uint64, error) {
	return 0, errors.New("disk stats not available on this platform")
}
