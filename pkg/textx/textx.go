// Package textx provides small text utilities used across the pipeline.
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Fold normalizes a keyword for set comparison: trimmed and case-folded.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FoldSet builds a case-folded set from keywords, dropping empties and
// duplicates.
func FoldSet(keywords []string) map[string]struct{} {
	if len(keywords) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if f := Fold(k); f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// Tokenize splits s into lowercase alphanumeric-or-underscore runs. Used for
// lightweight keyword mining over source content.
func Tokenize(s string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}

// Truncate shortens s to at most n runes, used for log-safe prefixes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
