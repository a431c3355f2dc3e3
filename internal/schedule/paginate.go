package schedule

import (
	"strings"
	"unicode/utf8"
)

// padLine fills groups that received no lines.
const padLine = " "

// Split groups lines into exactly n consecutive groups whose rune lengths
// stay close to an even share. Lines are never reordered or split.
func Split(lines []string, n int) ([][]string, error) {
	if n <= 0 {
		return nil, ErrInvalidSlots
	}
	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l)
	}
	target := total / n

	groups := [][]string{{}}
	cur := 0
	for _, l := range lines {
		last := len(groups) - 1
		if len(groups) == n || len(groups[last]) == 0 {
			groups[last] = append(groups[last], l)
			cur += utf8.RuneCountInString(l)
			continue
		}
		next := cur + utf8.RuneCountInString(l)
		if absInt(target-next) <= absInt(target-cur) {
			groups[last] = append(groups[last], l)
			cur = next
			continue
		}
		groups = append(groups, []string{l})
		cur = utf8.RuneCountInString(l)
	}
	if len(groups[0]) == 0 {
		groups[0] = append(groups[0], padLine)
	}
	for len(groups) < n {
		groups = append(groups, []string{padLine})
	}
	return groups, nil
}

// Seal applies the platform fixups to each group: a leading space on the
// first line is protected, and empty first or last lines become m.Blank().
// The input is not modified.
func Seal(groups [][]string, m Markup) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		cp := append([]string(nil), g...)
		if len(cp) == 0 {
			cp = []string{m.Blank()}
		}
		if cp[len(cp)-1] == "" {
			cp[len(cp)-1] = m.Blank()
		}
		if cp[0] == "" {
			cp[0] = m.Blank()
		}
		if strings.HasPrefix(cp[0], " ") {
			cp[0] = m.Blank() + cp[0][1:]
		}
		out[i] = cp
	}
	return out
}

// Paginate is Split followed by Seal.
func Paginate(lines []string, n int, m Markup) ([][]string, error) {
	groups, err := Split(lines, n)
	if err != nil {
		return nil, err
	}
	return Seal(groups, m), nil
}

// Join renders one group as message text.
func Join(group []string) string { return strings.Join(group, "\n") }

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
