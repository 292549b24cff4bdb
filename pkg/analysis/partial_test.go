package analysis

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialDistillMergeOrderIndependent(t *testing.T) {
	build := func(apply ...func(*PartialDistill)) *DistillData {
		p := NewPartialDistill(4)
		for _, f := range apply {
			f(p)
		}
		d, err := p.Complete()
		require.NoError(t, err)
		return d
	}

	setSummary := func(p *PartialDistill) { p.SetSummary("s") }
	setActions := func(p *PartialDistill) { p.SetActionItems([]string{"a1", "a2"}) }
	setThemes := func(p *PartialDistill) { p.SetKeyThemes([]string{"t"}) }
	setQuestions := func(p *PartialDistill) { p.SetReflectionQuestions([]string{"q"}) }

	forward := build(setSummary, setActions, setThemes, setQuestions)
	reversed := build(setQuestions, setThemes, setActions, setSummary)
	assert.Equal(t, forward, reversed)
}

func TestPartialDistillIncompleteFails(t *testing.T) {
	p := NewPartialDistill(4)
	p.SetSummary("s")
	p.SetActionItems([]string{"a"})

	_, err := p.Complete()
	require.Error(t, err)
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeParsingFailed, ae.Code)
	assert.Equal(t, 2, ae.Details["completed"])
}

func TestPartialDistillSnapshotIsolated(t *testing.T) {
	p := NewPartialDistill(4)
	p.SetActionItems([]string{"a"})

	snap := p.Snapshot()
	snap.ActionItems[0] = "mutated"

	assert.Equal(t, []string{"a"}, p.Snapshot().ActionItems)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 4, snap.Total)
}

func TestPartialDistillConcurrentSetters(t *testing.T) {
	p := NewPartialDistill(4)
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); p.SetSummary("s") }()
	go func() { defer wg.Done(); p.SetActionItems([]string{"a"}) }()
	go func() { defer wg.Done(); p.SetKeyThemes([]string{"t"}) }()
	go func() { defer wg.Done(); p.SetReflectionQuestions([]string{"q"}) }()
	wg.Wait()

	d, err := p.Complete()
	require.NoError(t, err)
	assert.Equal(t, "s", d.Summary)
	assert.Equal(t, 4, p.Snapshot().Completed)
}
