package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoflow/distill/pkg/analysis"
)

func writeWeights(t *testing.T, root string, m LocalModel, name string, size int) {
	t.Helper()
	dir := m.Dir(root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestManifestLoaded(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	// Fallback order is rank order.
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].FallbackRank, all[i].FallbackRank)
	}
	assert.Equal(t, all[0].ID, Default().ID)
}

func TestFromID(t *testing.T) {
	m, ok := FromID(Default().ID)
	require.True(t, ok)
	assert.Equal(t, Default().ID, m.ID)

	_, ok = FromID("model-that-never-shipped")
	assert.False(t, ok)
}

func TestSupportsDevice(t *testing.T) {
	open := LocalModel{ID: "open"}
	assert.True(t, open.SupportsDevice("anything"))

	gated := LocalModel{ID: "gated", Devices: []string{"iPhone16,1"}}
	assert.True(t, gated.SupportsDevice("iPhone16,1"))
	assert.False(t, gated.SupportsDevice("iPhone12,1"))
}

func TestDownloadedRequiresMinimumWeight(t *testing.T) {
	root := t.TempDir()
	m := LocalModel{ID: "tiny"}

	assert.False(t, m.Downloaded(root))

	// A truncated file below the floor does not count as downloaded.
	writeWeights(t, root, m, "tiny.gguf", 1024)
	assert.False(t, m.Downloaded(root))

	writeWeights(t, root, m, "tiny.gguf", minWeightBytes)
	assert.True(t, m.Downloaded(root))
}

func TestDiskWeightSumsShards(t *testing.T) {
	root := t.TempDir()
	m := LocalModel{ID: "sharded"}
	writeWeights(t, root, m, "sharded-00001-of-00002.gguf", 6*1024*1024)
	writeWeights(t, root, m, "sharded-00002-of-00002.gguf", 6*1024*1024)
	writeWeights(t, root, m, "notes.txt", 999)

	weight, err := m.DiskWeight(root)
	require.NoError(t, err)
	assert.Equal(t, int64(12*1024*1024), weight)
	assert.True(t, m.Downloaded(root))

	paths, err := m.WeightPaths(root)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "00001-of-00002")
	assert.Contains(t, paths[1], "00002-of-00002")
}

func TestSelectorPickPrefersDesired(t *testing.T) {
	root := t.TempDir()
	desired := LocalModel{ID: "desired", MinRAMMB: 1024}
	writeWeights(t, root, desired, "desired.gguf", minWeightBytes)

	s := &Selector{
		Root:     root,
		Device:   "iPhone16,1",
		TotalRAM: func() (uint64, error) { return 8 * 1024 * 1024 * 1024, nil },
	}
	picked, err := s.Pick(desired)
	require.NoError(t, err)
	assert.Equal(t, "desired", picked.ID)
}

func TestSelectorSkipsOverBudgetModel(t *testing.T) {
	root := t.TempDir()
	heavy := LocalModel{ID: "heavy", MinRAMMB: 1}
	// 30 MB of weights against 64 MB of RAM blows the 45% budget.
	writeWeights(t, root, heavy, "heavy.gguf", 30*1024*1024)

	s := &Selector{
		Root:     root,
		Device:   "dev",
		TotalRAM: func() (uint64, error) { return 64 * 1024 * 1024, nil },
	}
	assert.False(t, s.Viable(heavy))
}

func TestSelectorWalksFallbackChain(t *testing.T) {
	root := t.TempDir()
	// Desired model has no weights on disk; a catalog entry does.
	desired := LocalModel{ID: "missing", MinRAMMB: 1024}
	fallback := All()[0]
	writeWeights(t, root, fallback, "weights.gguf", minWeightBytes)

	s := &Selector{
		Root:     root,
		Device:   "iPhone16,1",
		TotalRAM: func() (uint64, error) { return 16 * 1024 * 1024 * 1024, nil },
	}
	picked, err := s.Pick(desired)
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, picked.ID)
}

func TestSelectorExhaustedChain(t *testing.T) {
	s := &Selector{
		Root:     t.TempDir(),
		Device:   "iPhone12,1",
		TotalRAM: func() (uint64, error) { return 2 * 1024 * 1024 * 1024, nil },
	}
	_, err := s.Pick(Default())
	require.Error(t, err)
	assert.True(t, analysis.IsModelUnavailable(err))
	ae, _ := analysis.AsError(err)
	assert.Equal(t, analysis.ErrCodeModelLoadFailed, ae.Code)
}
