package analysis

import (
	"encoding/json"
	"fmt"
	"time"
)

// DistillData is the full multi-part analysis payload.
type DistillData struct {
	Summary             string              `json:"summary"`
	ActionItems         []string            `json:"action_items"`
	KeyThemes           []string            `json:"key_themes"`
	ReflectionQuestions []string            `json:"reflection_questions"`
	PersonalInsight     string              `json:"personal_insight,omitempty"`
	ClosingNote         string              `json:"closing_note,omitempty"`
	ThinkingPatterns    *ClarityData        `json:"thinking_patterns,omitempty"`
	PhilosophicalEchoes *EchoesData         `json:"philosophical_echoes,omitempty"`
	ValuesInsight       *ValuesData         `json:"values_insight,omitempty"`
}

// LiteDistillData is the reduced payload served to free-tier users.
type LiteDistillData struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
}

type SummaryData struct {
	Summary string `json:"summary"`
}

type ActionsData struct {
	Items []string `json:"items"`
}

type ThemesData struct {
	Themes []string `json:"themes"`
}

type QuestionsData struct {
	Questions []string `json:"questions"`
}

type InsightData struct {
	Insight string `json:"insight"`
}

type ClosingNoteData struct {
	Note string `json:"note"`
}

// EventItem is a calendar-worthy occurrence extracted from a transcript.
type EventItem struct {
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
	Notes string    `json:"notes,omitempty"`
}

type EventsData struct {
	Events []EventItem `json:"events"`
}

// ReminderItem is an actionable reminder extracted from a transcript.
type ReminderItem struct {
	Title string    `json:"title"`
	Due   time.Time `json:"due"`
}

type RemindersData struct {
	Reminders []ReminderItem `json:"reminders"`
}

// ClarityData describes recurring thinking patterns and a suggested reframe.
type ClarityData struct {
	Patterns []string `json:"patterns"`
	Reframe  string   `json:"reframe,omitempty"`
}

// Echo links a transcript idea to a philosophical tradition.
type Echo struct {
	Thinker    string `json:"thinker"`
	Idea       string `json:"idea"`
	Connection string `json:"connection"`
}

type EchoesData struct {
	Echoes []Echo `json:"echoes"`
}

// ValuesData surfaces personal values recognized in the transcript.
type ValuesData struct {
	Values  []string `json:"values"`
	Insight string   `json:"insight,omitempty"`
}

// Result is a tagged union over the known payload variants. Exactly one
// variant is non-nil; Kind names it. Dispatch is by tag, never by runtime
// type inspection.
type Result struct {
	Kind Kind

	Distill     *DistillData
	LiteDistill *LiteDistillData
	Summary     *SummaryData
	Actions     *ActionsData
	Themes      *ThemesData
	Questions   *QuestionsData
	Insight     *InsightData
	ClosingNote *ClosingNoteData
	Events      *EventsData
	Reminders   *RemindersData
	Clarity     *ClarityData
	Echoes      *EchoesData
	Values      *ValuesData
}

// DecodeResult decodes a raw payload into the variant the mode calls for.
func DecodeResult(mode Mode, raw json.RawMessage) (Result, error) {
	kind := mode.ResponseKind()
	r := Result{Kind: kind}

	var err error
	switch kind {
	case KindDistill:
		r.Distill = &DistillData{}
		err = json.Unmarshal(raw, r.Distill)
	case KindLiteDistill:
		r.LiteDistill = &LiteDistillData{}
		err = json.Unmarshal(raw, r.LiteDistill)
	case KindSummary:
		r.Summary = &SummaryData{}
		err = json.Unmarshal(raw, r.Summary)
	case KindActions:
		r.Actions = &ActionsData{}
		err = json.Unmarshal(raw, r.Actions)
	case KindThemes:
		r.Themes = &ThemesData{}
		err = json.Unmarshal(raw, r.Themes)
	case KindQuestions:
		r.Questions = &QuestionsData{}
		err = json.Unmarshal(raw, r.Questions)
	case KindInsight:
		r.Insight = &InsightData{}
		err = json.Unmarshal(raw, r.Insight)
	case KindClosingNote:
		r.ClosingNote = &ClosingNoteData{}
		err = json.Unmarshal(raw, r.ClosingNote)
	case KindEvents:
		r.Events = &EventsData{}
		err = json.Unmarshal(raw, r.Events)
	case KindReminders:
		r.Reminders = &RemindersData{}
		err = json.Unmarshal(raw, r.Reminders)
	case KindClarity:
		r.Clarity = &ClarityData{}
		err = json.Unmarshal(raw, r.Clarity)
	case KindEchoes:
		r.Echoes = &EchoesData{}
		err = json.Unmarshal(raw, r.Echoes)
	case KindValues:
		r.Values = &ValuesData{}
		err = json.Unmarshal(raw, r.Values)
	default:
		return Result{}, WrapError(fmt.Errorf("mode %q has no response kind", mode), ErrCodeDecoding, "undecodable mode")
	}
	if err != nil {
		return Result{}, WrapError(err, ErrCodeDecoding, "decode result payload").
			WithDetails("mode", string(mode)).
			WithDetails("body", string(raw))
	}
	return r, nil
}

// Payload returns the active variant as an opaque value for encoding.
func (r Result) Payload() any {
	switch r.Kind {
	case KindDistill:
		return r.Distill
	case KindLiteDistill:
		return r.LiteDistill
	case KindSummary:
		return r.Summary
	case KindActions:
		return r.Actions
	case KindThemes:
		return r.Themes
	case KindQuestions:
		return r.Questions
	case KindInsight:
		return r.Insight
	case KindClosingNote:
		return r.ClosingNote
	case KindEvents:
		return r.Events
	case KindReminders:
		return r.Reminders
	case KindClarity:
		return r.Clarity
	case KindEchoes:
		return r.Echoes
	case KindValues:
		return r.Values
	}
	return nil
}
