// Package vrm normalizes and validates vehicle registration marks.
package vrm

import (
	"regexp"
	"strings"
)

var markPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// Normalize uppercases a registration mark and strips whitespace and
// hyphens so that "ab12 cde" and "AB12CDE" compare equal.
func Normalize(mark string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(mark))
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	return cleaned
}

// Valid reports whether a normalized mark looks like a plausible
// registration. It accepts any 2-10 character alphanumeric string rather
// than enforcing a national format.
func Valid(mark string) bool {
	return markPattern.MatchString(Normalize(mark))
}
