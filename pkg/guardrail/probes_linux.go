package guardrail

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// systemThermalProbe maps the hottest /sys/class/thermal zone onto the
// four-level scale using fixed temperature bands.
type systemThermalProbe struct {
	root string
}

// NewThermalProbe returns the platform thermal probe.
func NewThermalProbe() ThermalProbe {
	return &systemThermalProbe{root: "/sys/class/thermal"}
}

func (p *systemThermalProbe) ThermalState() (ThermalLevel, error) {
	zones, err := filepath.Glob(filepath.Join(p.root, "thermal_zone*", "temp"))
	if err != nil {
		return ThermalNominal, err
	}
	if len(zones) == 0 {
		// No sensors exposed, assume nominal.
		return ThermalNominal, nil
	}

	var maxMilli int64
	for _, zone := range zones {
		raw, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			continue
		}
		if v > maxMilli {
			maxMilli = v
		}
	}

	switch {
	case maxMilli >= 95000:
		return ThermalCritical, nil
	case maxMilli >= 85000:
		return ThermalSerious, nil
	case maxMilli >= 70000:
		return ThermalFair, nil
	default:
		return ThermalNominal, nil
	}
}

// procMemoryProbe reads VmRSS from /proc/self/status and MemTotal from
// /proc/meminfo.
type procMemoryProbe struct{}

// NewMemoryProbe returns the platform memory probe.
func NewMemoryProbe() MemoryProbe {
	return &procMemoryProbe{}
}

func (p *procMemoryProbe) Footprint() (uint64, error) {
	return readKBField("/proc/self/status", "VmRSS:")
}

func (p *procMemoryProbe) TotalRAM() (uint64, error) {
	return readKBField("/proc/meminfo", "MemTotal:")
}

func readKBField(path, field string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 || parts[0] != field {
			continue
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s %s: %w", path, field, err)
		}
		return v * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s: field %s not found", path, field)
}

// DiskFree returns the free bytes on the filesystem holding path.
func DiskFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
