package models

import "unicode/utf8"

// MaxErrorMessageLen bounds the error text stored on a failed session.
const MaxErrorMessageLen = 500

// TruncateMessage shortens msg to at most n bytes without splitting a rune.
func TruncateMessage(msg string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(msg) <= n {
		return msg
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
