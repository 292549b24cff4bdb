package analysis

import "time"

// Mode identifies one analysis kind. The set is closed and defined at
// compile time; persisted strings are validated through Valid().
type Mode string

const (
	// ModeDistill is the flagship multi-part analysis (summary, action
	// items, themes, reflection questions) available to Pro users.
	ModeDistill Mode = "distill"
	// ModeLiteDistill is the reduced-fidelity Distill served to free users.
	ModeLiteDistill Mode = "lite_distill"

	// Distill sub-components, also addressable as standalone modes.
	ModeSummary      Mode = "summary"
	ModeActions      Mode = "actions"
	ModeThemes       Mode = "themes"
	ModeQuestions    Mode = "questions"
	ModeInsight      Mode = "personal_insight"
	ModeClosingNote  Mode = "closing_note"

	ModeEvents    Mode = "events"
	ModeReminders Mode = "reminders"

	// Pro-tier modes.
	ModeCognitiveClarity    Mode = "cognitive_clarity"
	ModePhilosophicalEchoes Mode = "philosophical_echoes"
	ModeValuesRecognition   Mode = "values_recognition"
)

// AllModes lists every mode in a stable order.
var AllModes = []Mode{
	ModeDistill, ModeLiteDistill,
	ModeSummary, ModeActions, ModeThemes, ModeQuestions, ModeInsight, ModeClosingNote,
	ModeEvents, ModeReminders,
	ModeCognitiveClarity, ModePhilosophicalEchoes, ModeValuesRecognition,
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDistill, ModeLiteDistill,
		ModeSummary, ModeActions, ModeThemes, ModeQuestions, ModeInsight, ModeClosingNote,
		ModeEvents, ModeReminders,
		ModeCognitiveClarity, ModePhilosophicalEchoes, ModeValuesRecognition:
		return true
	}
	return false
}

// RequiresPro reports whether the mode is gated behind the Pro entitlement.
func (m Mode) RequiresPro() bool {
	switch m {
	case ModeDistill, ModeCognitiveClarity, ModePhilosophicalEchoes, ModeValuesRecognition:
		return true
	}
	return false
}

// MultiPart reports whether the mode aggregates several component analyses
// and therefore benefits from streaming delivery.
func (m Mode) MultiPart() bool {
	return m == ModeDistill || m == ModeLiteDistill
}

// Timeout returns the request timeout for the mode. Multi-component and
// Pro modes run longer server-side and get a wider budget.
func (m Mode) Timeout() time.Duration {
	switch {
	case m == ModeDistill:
		return 120 * time.Second
	case m.RequiresPro():
		return 90 * time.Second
	case m == ModeLiteDistill:
		return 60 * time.Second
	default:
		return 45 * time.Second
	}
}

// Kind identifies the payload shape a mode resolves to.
type Kind string

const (
	KindDistill     Kind = "distill"
	KindLiteDistill Kind = "lite_distill"
	KindSummary     Kind = "summary"
	KindActions     Kind = "actions"
	KindThemes      Kind = "themes"
	KindQuestions   Kind = "questions"
	KindInsight     Kind = "insight"
	KindClosingNote Kind = "closing_note"
	KindEvents      Kind = "events"
	KindReminders   Kind = "reminders"
	KindClarity     Kind = "clarity"
	KindEchoes      Kind = "echoes"
	KindValues      Kind = "values"
)

// ResponseKind maps a mode to the payload shape its result carries.
func (m Mode) ResponseKind() Kind {
	switch m {
	case ModeDistill:
		return KindDistill
	case ModeLiteDistill:
		return KindLiteDistill
	case ModeSummary:
		return KindSummary
	case ModeActions:
		return KindActions
	case ModeThemes:
		return KindThemes
	case ModeQuestions:
		return KindQuestions
	case ModeInsight:
		return KindInsight
	case ModeClosingNote:
		return KindClosingNote
	case ModeEvents:
		return KindEvents
	case ModeReminders:
		return KindReminders
	case ModeCognitiveClarity:
		return KindClarity
	case ModePhilosophicalEchoes:
		return KindEchoes
	case ModeValuesRecognition:
		return KindValues
	}
	return ""
}
