package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoflow/distill/pkg/analysis"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "envelopes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func distillEnvelope() *analysis.Envelope {
	return &analysis.Envelope{
		Mode: analysis.ModeDistill,
		Result: analysis.Result{
			Kind: analysis.KindDistill,
			Distill: &analysis.DistillData{
				Summary:             "A short week in review.",
				ActionItems:         []string{"book dentist"},
				KeyThemes:           []string{"health"},
				ReflectionQuestions: []string{"What did you postpone?"},
			},
		},
		Model:     "cloud-v3",
		Tokens:    analysis.TokenUsage{Input: 500, Output: 120},
		LatencyMS: 4200,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "memo-1", distillEnvelope()))

	got, err := s.Get(ctx, "memo-1", analysis.ModeDistill)
	require.NoError(t, err)
	require.NotNil(t, got.Result.Distill)
	assert.Equal(t, "A short week in review.", got.Result.Distill.Summary)
	assert.Equal(t, []string{"book dentist"}, got.Result.Distill.ActionItems)
	assert.Equal(t, "cloud-v3", got.Model)
	assert.Equal(t, int64(4200), got.LatencyMS)
	assert.Equal(t, 500, got.Tokens.Input)
}

func TestStoreGetMiss(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "memo-1", analysis.ModeDistill)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorePutReplacesSameMemoAndMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := distillEnvelope()
	require.NoError(t, s.Put(ctx, "memo-1", first))

	second := distillEnvelope()
	second.Result.Distill.Summary = "Revised after transcript edit."
	second.Model = "cloud-v4"
	require.NoError(t, s.Put(ctx, "memo-1", second))

	got, err := s.Get(ctx, "memo-1", analysis.ModeDistill)
	require.NoError(t, err)
	assert.Equal(t, "Revised after transcript edit.", got.Result.Distill.Summary)
	assert.Equal(t, "cloud-v4", got.Model)

	modes, err := s.Modes(ctx, "memo-1")
	require.NoError(t, err)
	assert.Equal(t, []analysis.Mode{analysis.ModeDistill}, modes)
}

func TestStoreModesListsStoredAnalyses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary := &analysis.Envelope{
		Mode:   analysis.ModeSummary,
		Result: analysis.Result{Kind: analysis.KindSummary, Summary: &analysis.SummaryData{Summary: "short"}},
		Model:  "local-1b",
	}
	require.NoError(t, s.Put(ctx, "memo-1", distillEnvelope()))
	require.NoError(t, s.Put(ctx, "memo-1", summary))
	require.NoError(t, s.Put(ctx, "memo-2", distillEnvelope()))

	modes, err := s.Modes(ctx, "memo-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []analysis.Mode{analysis.ModeDistill, analysis.ModeSummary}, modes)
}

func TestStoreInvalidateMemo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "memo-1", distillEnvelope()))
	require.NoError(t, s.Put(ctx, "memo-2", distillEnvelope()))

	require.NoError(t, s.InvalidateMemo(ctx, "memo-1"))

	_, err := s.Get(ctx, "memo-1", analysis.ModeDistill)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "memo-2", analysis.ModeDistill)
	assert.NoError(t, err, "other memos are untouched")

	assert.NoError(t, s.InvalidateMemo(ctx, "memo-1"), "invalidating twice is harmless")
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envelopes.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "memo-1", distillEnvelope()))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "memo-1", analysis.ModeDistill)
	require.NoError(t, err)
	assert.Equal(t, "A short week in review.", got.Result.Distill.Summary)
}
