package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxHandleLen = 32
	maxEmailLen  = 254
)

// NormalizeHandle performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsEmailIdentifier reports whether a login identifier addresses the email column.
// Handles cannot contain '@', so the split is unambiguous.
func IsEmailIdentifier(s string) bool {
	return strings.Contains(s, "@")
}

func checkHandle(h string) string {
	n := utf8.RuneCountInString(h)
	switch {
	case n == 0:
		return "handle is required"
	case n > maxHandleLen:
		return "handle too long"
	case strings.Contains(h, "@"):
		return "handle must not contain '@'"
	case strings.IndexFunc(h, unicode.IsSpace) >= 0:
		return "handle must not contain spaces"
	}
	return ""
}

func checkEmail(e string) string {
	if e == "" {
		return "email is required"
	}
	if len(e) > maxEmailLen {
		return "email too long"
	}
	local, domain, ok := strings.Cut(e, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "email is invalid"
	}
	if strings.IndexFunc(e, unicode.IsSpace) >= 0 {
		return "email is invalid"
	}
	return ""
}
