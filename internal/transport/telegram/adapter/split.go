package adapter

import (
	"strings"
	"unicode/utf8"
)

// splitText breaks s into messages of at most limit runes along line
// boundaries. A line longer than limit is hard-cut; in HTML mode the cut
// moves back so it never lands inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramChunkLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		out []string
		cur []rune
	)
	flush := func() {
		if t := strings.TrimRight(string(cur), "\n"); t != "" {
			out = append(out, t)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		r := []rune(line)
		if len(cur)+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			cut := tagSafeCut(r, limit, html)
			out = append(out, string(r[:cut]))
			r = r[cut:]
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}

// tagSafeCut returns limit, or the start of a tag left open before it.
func tagSafeCut(r []rune, limit int, html bool) int {
	if !html {
		return limit
	}
	for i := limit - 1; i > 0; i-- {
		switch r[i] {
		case '>':
			return limit
		case '<':
			return i
		}
	}
	return limit
}
