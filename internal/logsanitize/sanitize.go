// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import "strings"

// MaxValueLen caps a sanitized value. Longer input is cut and marked with "...".
const MaxValueLen = 256

// sessionIDPrefix is how much of an HTTP-session ID may appear in logs.
// The full ID is a bearer credential.
const sessionIDPrefix = 8

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117) and caps the result at MaxValueLen bytes.
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
	return truncate(s, MaxValueLen)
}

// SessionID returns a loggable form of an HTTP-session ID: its first few
// characters followed by "...".
func SessionID(id string) string {
	if len(id) <= sessionIDPrefix {
		return Sanitize(id)
	}
	return Sanitize(id[:sessionIDPrefix]) + "..."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	// Back up to a rune boundary.
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
