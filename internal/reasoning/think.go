// Package reasoning handles the MiniMax-M2 <think> reasoning markers.
//
// The backend's chat template puts the opening <think> tag into the
// generation prompt, so generated text starts mid-block and only the
// closing tag ever appears in the output stream. The helpers here
// restore the opening tag and split reasoning from visible text.
package reasoning

import (
	"strings"
	"unicode"
)

const (
	// ThinkOpen is the opening reasoning marker.
	ThinkOpen = "<think>"
	// ThinkClose is the closing reasoning marker.
	ThinkClose = "</think>"
)

// EnsureThinkWrapped adds a missing opening marker when a closing marker is
// present. Leading whitespace is preserved and a newline is inserted after
// the synthesized marker. The operation is idempotent: if the text already
// starts with an opening marker (after leading whitespace), or contains no
// closing marker at all, it is returned unchanged.
func EnsureThinkWrapped(text string) string {
	if text == "" || !strings.Contains(text, ThinkClose) {
		return text
	}

	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if strings.HasPrefix(trimmed, ThinkOpen) {
		return text
	}

	lead := text[:len(text)-len(trimmed)]
	return lead + ThinkOpen + "\n" + trimmed
}

// SplitThink partitions text into reasoning and visible parts.
//
// Text between an opening and closing marker is reasoning; a closing marker
// with no preceding opening marker claims everything before it. Multiple
// marker pairs accumulate in order. A single newline immediately following a
// closing marker (or the synthesized newline after an opening marker) is
// treated as tag formatting and dropped. Text with no markers is all visible.
func SplitThink(text string) (reasoningText, visibleText string) {
	var reasoning, visible strings.Builder

	rest := text
	for rest != "" {
		closeIdx := strings.Index(rest, ThinkClose)
		if closeIdx < 0 {
			if openIdx := strings.Index(rest, ThinkOpen); openIdx >= 0 {
				// Unterminated block: everything after the opening
				// marker is reasoning (forced end-of-stream flush).
				visible.WriteString(rest[:openIdx])
				reasoning.WriteString(trimOneLeadingNewline(rest[openIdx+len(ThinkOpen):]))
			} else {
				visible.WriteString(rest)
			}
			break
		}

		openIdx := strings.Index(rest, ThinkOpen)
		if openIdx >= 0 && openIdx < closeIdx {
			visible.WriteString(rest[:openIdx])
			reasoning.WriteString(trimOneLeadingNewline(rest[openIdx+len(ThinkOpen) : closeIdx]))
		} else {
			// Closing marker without an opening one: the backend ate
			// the opening tag, so the whole prefix is reasoning.
			reasoning.WriteString(rest[:closeIdx])
		}
		rest = trimOneLeadingNewline(rest[closeIdx+len(ThinkClose):])
	}

	return reasoning.String(), visible.String()
}

func trimOneLeadingNewline(s string) string {
	if strings.HasPrefix(s, "\n") {
		return s[1:]
	}
	return s
}
