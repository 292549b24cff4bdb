// Package catalog defines the closed set of local models the engine can
// run, their device requirements, and the selection logic that walks the
// fallback chain when the preferred model is not viable.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var manifestYAML []byte

// LocalModel describes one catalog entry. Entries are immutable values
// loaded from the embedded manifest.
type LocalModel struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Repo         string   `yaml:"repo"`
	Quant        string   `yaml:"quant"`
	ApproxSizeMB int64    `yaml:"approx_size_mb"`
	MinRAMMB     int64    `yaml:"min_ram_mb"`
	// Devices is an allow-list of device identifiers; empty means all.
	Devices      []string `yaml:"devices"`
	FallbackRank int      `yaml:"fallback_rank"`
}

type manifest struct {
	Models []LocalModel `yaml:"models"`
}

var models []LocalModel

func init() {
	var m manifest
	if err := yaml.Unmarshal(manifestYAML, &m); err != nil {
		panic(fmt.Sprintf("catalog manifest invalid: %v", err))
	}
	sort.SliceStable(m.Models, func(i, j int) bool {
		return m.Models[i].FallbackRank < m.Models[j].FallbackRank
	})
	models = m.Models
}

// All returns catalog entries in fallback order.
func All() []LocalModel {
	out := make([]LocalModel, len(models))
	copy(out, models)
	return out
}

// FromID resolves a persisted model ID string. Unknown IDs return false
// so callers can fall back to a default instead of trusting stale
// settings.
func FromID(id string) (LocalModel, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return LocalModel{}, false
}

// Default returns the first entry of the fallback chain.
func Default() LocalModel {
	return models[0]
}

// SupportsDevice reports whether the model runs on the given device
// identifier.
func (m LocalModel) SupportsDevice(device string) bool {
	if len(m.Devices) == 0 {
		return true
	}
	for _, d := range m.Devices {
		if d == device {
			return true
		}
	}
	return false
}

// Dir returns the model's weights directory under the storage root.
func (m LocalModel) Dir(root string) string {
	return filepath.Join(root, m.ID)
}

// minWeightBytes guards against truncated downloads masquerading as
// model weights.
const minWeightBytes = 10 * 1024 * 1024

// DiskWeight sums the sizes of the model's weight files on disk. Sharded
// models contribute every shard. Missing directory means zero.
func (m LocalModel) DiskWeight(root string) (int64, error) {
	entries, err := os.ReadDir(m.Dir(root))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Downloaded reports whether usable weights are on disk. State is always
// derived from the filesystem, never from remembered flags, so deletion
// behind the engine's back is picked up on the next check.
func (m LocalModel) Downloaded(root string) bool {
	total, err := m.DiskWeight(root)
	if err != nil {
		return false
	}
	return total >= minWeightBytes
}

// WeightPaths lists the model's weight files in lexical order, which for
// shard naming is also shard order.
func (m LocalModel) WeightPaths(root string) ([]string, error) {
	entries, err := os.ReadDir(m.Dir(root))
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gguf") {
			continue
		}
		paths = append(paths, filepath.Join(m.Dir(root), e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
