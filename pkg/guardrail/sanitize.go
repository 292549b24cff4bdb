package guardrail

import (
	"strings"
	"unicode"
)

// injectionMarkers are token sequences that delimit instructions in model
// prompt formats. They are neutralized before a transcript travels to any
// backend so transcript content cannot break out of its prompt section.
var injectionMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"[INST]",
	"[/INST]",
	"<<SYS>>",
	"<</SYS>>",
	"```system",
}

// SanitizeTranscript strips control characters and neutralizes prompt
// delimiter sequences. It returns the sanitized text and the number of
// removals for audit logging. The caller keeps the original text as
// canonical for display; sanitization only affects what is transmitted.
func SanitizeTranscript(s string) (string, int) {
	removed := 0

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			removed++
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	for _, marker := range injectionMarkers {
		n := strings.Count(out, marker)
		if n == 0 {
			continue
		}
		removed += n
		out = strings.ReplaceAll(out, marker, "")
	}

	return out, removed
}
