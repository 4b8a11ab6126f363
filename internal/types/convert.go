package types

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// imageRefPattern matches duplicate image reference messages that carry no text of their own.
var imageRefPattern = regexp.MustCompile(`^\s*\[Image: source: [^\]]+\]\s*$`)

// tagPattern matches XML-like wrapper tags Claude Code puts around slash commands and reminders.
var tagPattern = regexp.MustCompile(`<[^>]+>`)

// =============================================================================
// TITLE HELPERS
// =============================================================================

// TitleText returns the text a user record contributes as a session title.
// Meta records, tool-result carriers, command wrappers and bare image
// references contribute nothing.
func TitleText(r Record) (string, bool) {
	if r.Type != EventTypeUser || r.IsMeta {
		return "", false
	}
	if blocks, ok := r.Content.Blocks(); ok {
		hasText := false
		for _, b := range blocks {
			if b.Type == BlockText {
				hasText = true
				break
			}
		}
		if !hasText {
			return "", false
		}
	}

	text := r.Content.PlainText()
	if imageRefPattern.MatchString(text) {
		return "", false
	}
	if strings.HasPrefix(strings.TrimSpace(text), "<command-") ||
		strings.HasPrefix(strings.TrimSpace(text), "<local-command-") ||
		strings.HasPrefix(strings.TrimSpace(text), "Caveat:") {
		return "", false
	}

	text = tagPattern.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", false
	}
	return text, true
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// =============================================================================
// TIMESTAMP HELPERS
// =============================================================================

// ParseTimestamp converts an ISO timestamp string to time.Time.
// Unparseable or empty input yields the zero time.
func ParseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
