// Package localinfer runs analysis against a locally hosted small
// language model. Prompts use a labelled-section output format that the
// line-oriented parser recovers even when the model drifts from the
// requested shape.
package localinfer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/memoflow/distill/pkg/analysis"
)

// maxTranscriptChars bounds the prompt so small context windows are not
// swamped by long recordings. Truncation applies to the prompt only; the
// stored transcript is untouched.
const maxTranscriptChars = 1400

func truncateTranscript(s string) string {
	if len(s) <= maxTranscriptChars {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	i := maxTranscriptChars
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

const promptPreamble = "You are analyzing a personal voice memo transcript. Be concise and concrete. Respond only in the format requested.\n\n"

// BuildPrompt renders the prompt for one response kind.
func BuildPrompt(kind analysis.Kind, transcript string) string {
	t := truncateTranscript(transcript)

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("Transcript:\n")
	b.WriteString(t)
	b.WriteString("\n\n")

	switch kind {
	case analysis.KindSummary:
		b.WriteString("Write a 2-3 sentence summary of this memo.\nFormat:\nSUMMARY: <text>")
	case analysis.KindActions:
		b.WriteString("List the concrete action items mentioned or implied.\nFormat:\nACTIONS:\n- <item>\n- <item>")
	case analysis.KindThemes:
		b.WriteString("Name the 2-4 key themes of this memo.\nFormat:\nTHEMES:\n- <theme>\n- <theme>")
	case analysis.KindQuestions:
		b.WriteString("Write two reflection questions the speaker could sit with.\nFormat:\nQUESTIONS:\n- <question>\n- <question>")
	case analysis.KindInsight:
		b.WriteString("Offer one personal insight about the speaker's state of mind.\nFormat:\nINSIGHT: <text>")
	case analysis.KindClosingNote:
		b.WriteString("Write one short encouraging closing note for the speaker.\nFormat:\nNOTE: <text>")
	case analysis.KindLiteDistill:
		b.WriteString("Summarize this memo and list its action items.\nFormat:\nSUMMARY: <text>\nACTIONS:\n- <item>\n- <item>")
	case analysis.KindEvents:
		b.WriteString("Extract calendar events with dates.\nFormat:\nEVENTS:\n- <title> | <YYYY-MM-DD>\n(one per line; omit the section if none)")
	case analysis.KindReminders:
		b.WriteString("Extract reminders with due dates.\nFormat:\nREMINDERS:\n- <title> | <YYYY-MM-DD>\n(one per line; omit the section if none)")
	case analysis.KindClarity:
		b.WriteString("Identify recurring thinking patterns and suggest one reframe.\nFormat:\nPATTERNS:\n- <pattern>\nREFRAME: <text>")
	case analysis.KindEchoes:
		b.WriteString("Connect ideas in this memo to philosophical traditions.\nFormat:\nECHOES:\n- <thinker> | <idea> | <connection>")
	case analysis.KindValues:
		b.WriteString("Name the personal values expressed in this memo.\nFormat:\nVALUES:\n- <value>\nINSIGHT: <text>")
	default:
		b.WriteString(fmt.Sprintf("Analyze this memo.\nFormat:\n%s: <text>", strings.ToUpper(string(kind))))
	}

	return b.String()
}

// distillComponents are the four completions a local distill fans out to.
var distillComponents = []analysis.Kind{
	analysis.KindSummary,
	analysis.KindActions,
	analysis.KindThemes,
	analysis.KindQuestions,
}
