package catalog

import (
	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/infra/logger"
)

// ramBudgetPercent caps how much of physical memory a loaded model may
// plausibly claim. Models over budget are skipped before a load is even
// attempted.
const ramBudgetPercent = 45

// Selector picks a viable local model for this device, walking the
// fallback chain when the desired model cannot run.
type Selector struct {
	// Root is the model storage directory.
	Root string
	// Device is the platform device identifier matched against allow-lists.
	Device string
	// TotalRAM reports physical memory in bytes; zero disables budgeting.
	TotalRAM func() (uint64, error)
}

// Viable reports whether a single model can run here right now: device
// supported, machine RAM above the model's floor, weights on disk, and
// weight size within the memory budget.
func (s *Selector) Viable(m LocalModel) bool {
	if !m.SupportsDevice(s.Device) {
		return false
	}
	if !m.Downloaded(s.Root) {
		return false
	}

	var ram uint64
	if s.TotalRAM != nil {
		v, err := s.TotalRAM()
		if err != nil {
			logger.Warn("ram probe failed, skipping memory budget", "error", err)
		} else {
			ram = v
		}
	}
	if ram == 0 {
		return true
	}

	if uint64(m.MinRAMMB)*1024*1024 > ram {
		return false
	}
	weight, err := m.DiskWeight(s.Root)
	if err != nil {
		return false
	}
	budget := ram * ramBudgetPercent / 100
	return uint64(weight) <= budget
}

// Pick returns the first viable model starting from desired and walking
// the fallback chain in rank order. It never substitutes a degraded
// placeholder; when the chain is exhausted the caller gets a hard error
// and routes to the remote backend instead.
func (s *Selector) Pick(desired LocalModel) (LocalModel, error) {
	if s.Viable(desired) {
		return desired, nil
	}

	var tried []string
	tried = append(tried, desired.ID)
	for _, m := range All() {
		if m.ID == desired.ID {
			continue
		}
		if s.Viable(m) {
			logger.Info("falling back to alternate local model",
				"desired", desired.ID, "selected", m.ID)
			return m, nil
		}
		tried = append(tried, m.ID)
	}

	return LocalModel{}, analysis.NewError(analysis.ErrCodeModelLoadFailed, "no viable local model").
		WithDetails("tried", tried).
		WithDetails("device", s.Device)
}
