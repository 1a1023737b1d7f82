package logger

import (
	"fmt"
	"strings"
)

// SanitizeForLog escapes control characters so client or service supplied text
// cannot forge log lines. Printable Unicode passes through unchanged.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		case '\x00':
			result.WriteString("\\x00")
		default:
			if r < 32 || r == 127 || r == '\x1b' {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				result.WriteRune(r)
			}
		}
	}
	return result.String()
}

// Excerpt sanitizes s and cuts it to at most max runes, for logging bodies
// returned by other services.
func Excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max > 0 && len(r) > max {
		return SanitizeForLog(string(r[:max])) + "..."
	}
	return SanitizeForLog(s)
}
