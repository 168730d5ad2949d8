// Package phone canonicalizes recipient phone numbers so that equivalent
// representations of the same number are never treated as distinct
// recipients.
package phone

import "strings"

// Normalize strips whitespace, parentheses and dash separators from a raw
// phone number and removes a single leading "+", yielding the bare-digit
// E.164 form chat providers expect on the wire.
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '\t', '-', '(', ')':
			continue
		default:
			b.WriteRune(r)
		}
	}

	p := b.String()
	if strings.HasPrefix(p, "+") {
		p = p[1:]
	}
	return p
}
