package analysis

import (
	"sync"
)

// Progress reports component-level completion of a multi-part analysis.
type Progress struct {
	Component string
	Completed int
	Total     int
}

// ProgressFunc receives interim progress plus the current partial state.
// Callbacks run on the producing goroutine; implementations must not block.
type ProgressFunc func(Progress, PartialSnapshot)

// PartialSnapshot is a point-in-time copy of an accumulating Distill result.
type PartialSnapshot struct {
	Summary             string
	ActionItems         []string
	KeyThemes           []string
	ReflectionQuestions []string
	PersonalInsight     string
	ClosingNote         string
	Completed           int
	Total               int
}

// PartialDistill accumulates Distill components as they arrive, from SSE
// interim events or from parallel local completions. Each setter owns a
// disjoint field, so merge order does not matter. An empty component
// (a memo with no action items) still counts as set.
type PartialDistill struct {
	mu sync.Mutex

	summary   string
	actions   []string
	themes    []string
	questions []string
	insight   string
	closing   string

	hasSummary   bool
	hasActions   bool
	hasThemes    bool
	hasQuestions bool

	total int
}

// NewPartialDistill creates an accumulator expecting total components.
func NewPartialDistill(total int) *PartialDistill {
	return &PartialDistill{total: total}
}

func (p *PartialDistill) SetSummary(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary = s
	p.hasSummary = true
}

func (p *PartialDistill) SetActionItems(items []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append([]string(nil), items...)
	p.hasActions = true
}

func (p *PartialDistill) SetKeyThemes(themes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.themes = append([]string(nil), themes...)
	p.hasThemes = true
}

func (p *PartialDistill) SetReflectionQuestions(qs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append([]string(nil), qs...)
	p.hasQuestions = true
}

func (p *PartialDistill) SetPersonalInsight(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insight = s
}

func (p *PartialDistill) SetClosingNote(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closing = s
}

func (p *PartialDistill) completed() int {
	n := 0
	for _, set := range []bool{p.hasSummary, p.hasActions, p.hasThemes, p.hasQuestions} {
		if set {
			n++
		}
	}
	return n
}

// Snapshot returns a consistent copy of the accumulated state.
func (p *PartialDistill) Snapshot() PartialSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PartialSnapshot{
		Summary:             p.summary,
		ActionItems:         append([]string(nil), p.actions...),
		KeyThemes:           append([]string(nil), p.themes...),
		ReflectionQuestions: append([]string(nil), p.questions...),
		PersonalInsight:     p.insight,
		ClosingNote:         p.closing,
		Completed:           p.completed(),
		Total:               p.total,
	}
}

// Complete converts the accumulated state into a final DistillData. It
// fails if any required component (summary, actions, themes, questions)
// is still missing.
func (p *PartialDistill) Complete() (*DistillData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasSummary || !p.hasActions || !p.hasThemes || !p.hasQuestions {
		return nil, NewError(ErrCodeParsingFailed, "distill incomplete").
			WithDetails("completed", p.completed()).
			WithDetails("total", p.total)
	}
	return &DistillData{
		Summary:             p.summary,
		ActionItems:         append([]string(nil), p.actions...),
		KeyThemes:           append([]string(nil), p.themes...),
		ReflectionQuestions: append([]string(nil), p.questions...),
		PersonalInsight:     p.insight,
		ClosingNote:         p.closing,
	}, nil
}
