package guardrail

// ThermalLevel is the device thermal state as reported by the platform.
type ThermalLevel int

const (
	ThermalNominal ThermalLevel = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (l ThermalLevel) String() string {
	switch l {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	}
	return "unknown"
}

// ThermalProbe reports the current thermal level. Implementations must be
// safe for concurrent use.
type ThermalProbe interface {
	ThermalState() (ThermalLevel, error)
}

// MemoryProbe reports process footprint and machine totals.
type MemoryProbe interface {
	// Footprint returns the resident memory of this process in bytes.
	Footprint() (uint64, error)
	// TotalRAM returns physical memory in bytes.
	TotalRAM() (uint64, error)
}
