package utils

import (
	"strconv"
	"strings"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 30
)

// BaseUsername derives a username candidate from a display name, falling back
// to the email local part and then to "user".
func BaseUsername(displayName, email string) string {
	if s := sanitizeUsername(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(displayName)), " ", "_")); s != "" {
		return pad(s)
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		if s := sanitizeUsername(strings.ToLower(email[:at])); s != "" {
			return pad(s)
		}
	}
	return "user"
}

// WithSuffix returns base with n appended, trimming base so the result stays
// within UsernameMaxLen. n == 0 returns base unchanged.
func WithSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	suffix := strconv.Itoa(n)
	if len(base)+len(suffix) > UsernameMaxLen {
		base = base[:UsernameMaxLen-len(suffix)]
	}
	return base + suffix
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > UsernameMaxLen {
		out = out[:UsernameMaxLen]
	}
	return out
}

// pad stretches one- and two-character candidates to the minimum length.
func pad(s string) string {
	for len(s) < UsernameMinLen {
		s += "_"
	}
	return s
}
