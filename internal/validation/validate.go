// Package validation bounds and cleans client-supplied input at the session
// and tool boundaries. Providers decode params into typed records, pass the
// fields through these helpers, and reject on the first failure with a
// JSON-Pointer path. Nothing in this package runs inside dispatch hot loops.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gantry-project/gantry/internal/faults"
)

// Length caps applied to free-form text fields.
const (
	MaxShortText = 256   // titles, names, identifiers
	MaxLongText  = 65536 // descriptions, comment bodies, documents
)

// Sanitize repairs invalid UTF-8, strips control characters while keeping
// newlines and tabs, normalizes CRLF to LF, and trims surrounding space.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if strings.Contains(s, "\r") {
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Required sanitizes s and rejects values that end up empty or longer than
// maxLen runes.
func Required(path, s string, maxLen int) (string, error) {
	s = Sanitize(s)
	if s == "" {
		return "", faults.Validation(path, "must not be empty")
	}
	if utf8.RuneCountInString(s) > maxLen {
		return "", faults.Validation(path, "must be at most %d characters", maxLen)
	}
	return s, nil
}

// Optional sanitizes s and rejects only oversized values; empty is fine.
func Optional(path, s string, maxLen int) (string, error) {
	s = Sanitize(s)
	if utf8.RuneCountInString(s) > maxLen {
		return "", faults.Validation(path, "must be at most %d characters", maxLen)
	}
	return s, nil
}

// Limit bounds a page size: zero takes the default, anything outside 1..max
// is rejected.
func Limit(path string, n, def, max int) (int, error) {
	if n == 0 {
		return def, nil
	}
	if n < 1 || n > max {
		return 0, faults.Validation(path, "must be between 1 and %d", max)
	}
	return n, nil
}

// Offset rejects negative offsets.
func Offset(path string, n int) (int, error) {
	if n < 0 {
		return 0, faults.Validation(path, "must not be negative")
	}
	return n, nil
}

// Enum requires s to be one of the allowed values.
func Enum(path, s string, allowed ...string) (string, error) {
	for _, v := range allowed {
		if s == v {
			return s, nil
		}
	}
	return "", faults.Validation(path, "must be one of %s", strings.Join(allowed, ", "))
}

// Pointer joins tokens into a JSON-Pointer path, escaping per RFC 6901.
func Pointer(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteByte('/')
		b.WriteString(escapeToken(tok))
	}
	return b.String()
}

func escapeToken(tok string) string {
	if !strings.ContainsAny(tok, "~/") {
		return tok
	}
	tok = strings.ReplaceAll(tok, "~", "~0")
	return strings.ReplaceAll(tok, "/", "~1")
}
