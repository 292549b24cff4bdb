package guardrail

import (
	"context"
	"time"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/infra/logger"
)

// HealthStatus classifies overall device readiness for local inference.
type HealthStatus int

const (
	ProceedNormally HealthStatus = iota
	ProceedWithMonitoring
	DeferInference
	BlockInference
)

func (s HealthStatus) String() string {
	switch s {
	case ProceedNormally:
		return "proceed"
	case ProceedWithMonitoring:
		return "proceed_monitored"
	case DeferInference:
		return "defer"
	case BlockInference:
		return "block"
	}
	return "unknown"
}

// Monitor combines probes and thresholds into go/no-go decisions.
type Monitor struct {
	thermal    ThermalProbe
	memory     MemoryProbe
	thresholds Thresholds
}

// NewMonitor builds a monitor over the given probes.
func NewMonitor(thermal ThermalProbe, memory MemoryProbe, thresholds Thresholds) *Monitor {
	return &Monitor{thermal: thermal, memory: memory, thresholds: thresholds}
}

// CheckThermal returns an error when the thermal state forbids inference.
// Serious and critical levels carry distinct codes because serious defers
// while critical blocks.
func (m *Monitor) CheckThermal() error {
	level, err := m.thermal.ThermalState()
	if err != nil {
		// Probe failure is not a violation; proceed and log.
		logger.Warn("thermal probe failed", "error", err)
		return nil
	}
	switch level {
	case ThermalCritical:
		return analysis.NewError(analysis.ErrCodeThermalCritical, "device thermal state critical").
			WithDetails("level", level.String())
	case ThermalSerious:
		return analysis.NewError(analysis.ErrCodeThermalSerious, "device thermal state serious").
			WithDetails("level", level.String())
	}
	return nil
}

// CheckMemory returns an error when the process footprint exceeds a
// threshold.
func (m *Monitor) CheckMemory() error {
	footprint, err := m.memory.Footprint()
	if err != nil {
		logger.Warn("memory probe failed", "error", err)
		return nil
	}
	switch {
	case footprint >= m.thresholds.MemoryCritical:
		return analysis.NewError(analysis.ErrCodeMemoryCritical, "process memory footprint critical").
			WithDetails("footprint", footprint).
			WithDetails("limit", m.thresholds.MemoryCritical)
	case footprint >= m.thresholds.MemoryWarn:
		return analysis.NewError(analysis.ErrCodeMemoryPressure, "process memory footprint elevated").
			WithDetails("footprint", footprint).
			WithDetails("limit", m.thresholds.MemoryWarn)
	}
	return nil
}

// TotalRAM exposes physical memory for viability budgeting.
func (m *Monitor) TotalRAM() (uint64, error) {
	return m.memory.TotalRAM()
}

// HealthStatus folds both checks into one readiness classification.
func (m *Monitor) HealthStatus() HealthStatus {
	thermalErr := m.CheckThermal()
	memErr := m.CheckMemory()

	if ae, ok := analysis.AsError(thermalErr); ok && ae.Code == analysis.ErrCodeThermalCritical {
		return BlockInference
	}
	if ae, ok := analysis.AsError(memErr); ok && ae.Code == analysis.ErrCodeMemoryCritical {
		return BlockInference
	}
	if thermalErr != nil {
		return DeferInference
	}
	if memErr != nil {
		return ProceedWithMonitoring
	}
	return ProceedNormally
}

// violation reports whether the current health forbids continuing a
// running operation. Only hard states abort mid-flight; elevated memory
// alone does not.
func (m *Monitor) violation() error {
	if err := m.CheckThermal(); err != nil {
		if ae, ok := analysis.AsError(err); ok && ae.Code == analysis.ErrCodeThermalCritical {
			return err
		}
	}
	if err := m.CheckMemory(); err != nil {
		if ae, ok := analysis.AsError(err); ok && ae.Code == analysis.ErrCodeMemoryCritical {
			return err
		}
	}
	return nil
}

// WithTimeout runs op under a deadline while periodically re-checking
// device health. The first of three outcomes settles the call: the
// operation finishing, the deadline firing, or a periodic check finding a
// hard violation. Losing branches cancel op through the derived context
// and return immediately; the caller is never held hostage by a runtime
// that ignores cancellation. The buffered done channel lets the
// abandoned goroutine finish without leaking. A zero d uses the default
// operation timeout.
func (m *Monitor) WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	if d <= 0 {
		d = m.thresholds.OperationTimeout
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(m.thresholds.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case <-timer.C:
			cancel()
			return analysis.NewError(analysis.ErrCodeTimeout, "operation exceeded time budget").
				WithDetails("budget", d.String())
		case <-ticker.C:
			if cause := m.violation(); cause != nil {
				cancel()
				return analysis.NewError(analysis.ErrCodeSafeguardTriggered, "operation aborted by mid-flight health check").
					WithCause(cause)
			}
		}
	}
}
