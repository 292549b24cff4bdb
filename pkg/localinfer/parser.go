package localinfer

import (
	"strings"
	"time"

	"github.com/memoflow/distill/pkg/analysis"
)

// Named fallbacks keep small-model output usable: a missing or mangled
// section degrades to something sensible instead of failing the whole
// analysis.
var defaultReflectionQuestions = []string{
	"What felt most important in what you said?",
	"What would you like to be different next time you revisit this?",
}

// ParseResponse recovers a typed result from raw model output for the
// given kind. Parsers are line-oriented and best-effort; malformed lines
// are skipped. A parsing error is returned only when no handler exists
// for the kind.
func ParseResponse(kind analysis.Kind, raw string) (analysis.Result, error) {
	r := analysis.Result{Kind: kind}

	switch kind {
	case analysis.KindSummary:
		r.Summary = &analysis.SummaryData{Summary: firstText(raw, "SUMMARY:")}
	case analysis.KindActions:
		r.Actions = &analysis.ActionsData{Items: listItems(raw)}
	case analysis.KindThemes:
		r.Themes = &analysis.ThemesData{Themes: listItems(raw)}
	case analysis.KindQuestions:
		qs := listItems(raw)
		if len(qs) == 0 {
			qs = append([]string(nil), defaultReflectionQuestions...)
		}
		r.Questions = &analysis.QuestionsData{Questions: qs}
	case analysis.KindInsight:
		r.Insight = &analysis.InsightData{Insight: firstText(raw, "INSIGHT:")}
	case analysis.KindClosingNote:
		r.ClosingNote = &analysis.ClosingNoteData{Note: firstText(raw, "NOTE:")}
	case analysis.KindLiteDistill:
		r.LiteDistill = &analysis.LiteDistillData{
			Summary:     firstText(raw, "SUMMARY:"),
			ActionItems: sectionItems(raw, "ACTIONS:"),
		}
	case analysis.KindDistill:
		qs := sectionItems(raw, "QUESTIONS:")
		if len(qs) == 0 {
			qs = append([]string(nil), defaultReflectionQuestions...)
		}
		r.Distill = &analysis.DistillData{
			Summary:             firstText(raw, "SUMMARY:"),
			ActionItems:         sectionItems(raw, "ACTIONS:"),
			KeyThemes:           sectionItems(raw, "THEMES:"),
			ReflectionQuestions: qs,
		}
	case analysis.KindEvents:
		r.Events = &analysis.EventsData{Events: parseEvents(raw)}
	case analysis.KindReminders:
		r.Reminders = &analysis.RemindersData{Reminders: parseReminders(raw)}
	case analysis.KindClarity:
		r.Clarity = &analysis.ClarityData{
			Patterns: sectionItems(raw, "PATTERNS:"),
			Reframe:  labelValue(raw, "REFRAME:"),
		}
	case analysis.KindEchoes:
		r.Echoes = &analysis.EchoesData{Echoes: parseEchoes(raw)}
	case analysis.KindValues:
		r.Values = &analysis.ValuesData{
			Values:  sectionItems(raw, "VALUES:"),
			Insight: labelValue(raw, "INSIGHT:"),
		}
	default:
		return analysis.Result{}, analysis.NewError(analysis.ErrCodeParsingFailed, "no parser for response kind").
			WithDetails("kind", string(kind))
	}

	return r, nil
}

// firstText returns the text after label, or the first non-empty line
// when the label is absent.
func firstText(raw, label string) string {
	if v := labelValue(raw, label); v != "" {
		return v
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return strings.TrimSpace(stripBullet(line))
		}
	}
	return ""
}

// labelValue returns the remainder of the first line starting with label.
func labelValue(raw, label string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutPrefixFold(line, label); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// listItems collects every bullet line anywhere in the output.
func listItems(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		stripped := stripBullet(line)
		if stripped == line {
			continue
		}
		stripped = strings.TrimSpace(stripped)
		if stripped != "" {
			items = append(items, stripped)
		}
	}
	return items
}

// sectionItems collects bullet lines between label and the next label.
func sectionItems(raw, label string) []string {
	var items []string
	inSection := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if _, ok := cutPrefixFold(line, label); ok {
			inSection = true
			continue
		}
		if inSection && looksLikeLabel(line) {
			break
		}
		if !inSection {
			continue
		}
		stripped := strings.TrimSpace(stripBullet(line))
		if stripped != "" && stripped != line {
			items = append(items, stripped)
		} else if stripped != "" && !looksLikeLabel(line) {
			// Models sometimes drop the bullet; accept plain lines inside
			// the section.
			items = append(items, stripped)
		}
	}
	return items
}

func parseEvents(raw string) []analysis.EventItem {
	var events []analysis.EventItem
	for _, line := range bulletLines(raw) {
		title, date, ok := splitTitleDate(line)
		if !ok {
			continue
		}
		events = append(events, analysis.EventItem{Title: title, Date: date})
	}
	return events
}

func parseReminders(raw string) []analysis.ReminderItem {
	var reminders []analysis.ReminderItem
	for _, line := range bulletLines(raw) {
		title, due, ok := splitTitleDate(line)
		if !ok {
			continue
		}
		reminders = append(reminders, analysis.ReminderItem{Title: title, Due: due})
	}
	return reminders
}

func parseEchoes(raw string) []analysis.Echo {
	var echoes []analysis.Echo
	for _, line := range bulletLines(raw) {
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		echo := analysis.Echo{
			Thinker:    strings.TrimSpace(parts[0]),
			Idea:       strings.TrimSpace(parts[1]),
			Connection: strings.TrimSpace(parts[2]),
		}
		if echo.Thinker == "" || echo.Idea == "" {
			continue
		}
		echoes = append(echoes, echo)
	}
	return echoes
}

func bulletLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		stripped := stripBullet(line)
		if stripped == line {
			continue
		}
		stripped = strings.TrimSpace(stripped)
		if stripped != "" {
			lines = append(lines, stripped)
		}
	}
	return lines
}

// splitTitleDate parses "title | YYYY-MM-DD" lines.
func splitTitleDate(line string) (string, time.Time, bool) {
	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	title := strings.TrimSpace(parts[0])
	dateStr := strings.TrimSpace(parts[1])
	if title == "" {
		return "", time.Time{}, false
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		date, err = time.Parse(time.RFC3339, dateStr)
		if err != nil {
			return "", time.Time{}, false
		}
	}
	return title, date, true
}

func stripBullet(line string) string {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return rest
		}
	}
	// Numbered bullets: "1. item", "2) item".
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		if i > 0 && (r == '.' || r == ')') {
			rest := strings.TrimPrefix(line[i+1:], " ")
			return rest
		}
		break
	}
	return line
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return s, false
	}
	if strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func looksLikeLabel(line string) bool {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return false
	}
	head := line[:idx]
	if head != strings.ToUpper(head) {
		return false
	}
	for _, r := range head {
		if (r < 'A' || r > 'Z') && r != '_' && r != ' ' {
			return false
		}
	}
	return true
}
