package model

import (
	"net"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes s for comparison: trimmed, NFC-composed, case-folded.
// Hebrew niqqud and composed Latin forms compare equal after NFC.
func Fold(s string) string {
	// cases.Caser is stateful; a fresh one per call keeps Fold goroutine-safe.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// Match reports whether text contains term after folding both.
// An empty term matches everything.
func Match(text, term string) bool {
	term = Fold(term)
	if term == "" {
		return true
	}
	return strings.Contains(Fold(text), term)
}

// IsAnonymous reports whether a user name denotes an unregistered editor:
// an IP address, or a temporary account ("~2025-12345-6").
func IsAnonymous(user string) bool {
	if user == "" {
		return false
	}
	if strings.HasPrefix(user, "~") {
		return true
	}
	return net.ParseIP(user) != nil
}
