package utils

import (
	"fmt"
	"strings"
	"time"
)

var mdEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~", "|", "\\|")

// EscapeMd escapes Discord markdown in user or remote supplied text.
func EscapeMd(s string) string {
	return mdEscaper.Replace(s)
}

// PrettyDuration formats d as m:ss or h:mm:ss. Zero or negative durations
// are unknown and print as "live".
func PrettyDuration(d time.Duration) string {
	if d <= 0 {
		return "live"
	}
	sec := int(d.Round(time.Second) / time.Second)
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// Plural returns "1 song", "2 songs" and so on.
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
