package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var monthPrefixes = [...]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

var ordinalSuffixes = [...]string{"st", "nd", "rd", "th"}

// ParseDate parses loosely formatted date text relative to now.
// The display zone is now.Location(). Empty text yields the zero time and no error.
//
// Accepted forms: "today", "tomorrow", "MM/DD", "YY/MM/DD", "YYYY/MM/DD",
// and free text such as "Jul 12", "12th of July 2025" or "October".
// The returned instant is always at the 23:59:59 sentinel.
func ParseDate(text string, now time.Time) (time.Time, Granularity, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, Granularity{}, nil
	}

	var (
		year, month, day int
		err              error
	)
	switch {
	case strings.Contains(s, "today"):
		month, day = int(now.Month()), now.Day()
	case strings.Contains(s, "tomorrow"):
		t := now.AddDate(0, 0, 1)
		year, month, day = t.Year(), int(t.Month()), t.Day()
	case strings.Contains(s, "/"):
		year, month, day, err = parseSlashDate(s)
	default:
		year, month, day, err = parseFreeDate(s)
	}
	if err != nil {
		return time.Time{}, Granularity{}, err
	}
	return resolveDate(year, month, day, now)
}

func parseSlashDate(s string) (year, month, day int, err error) {
	parts := strings.Split(s, "/")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q is not a number", ErrBadDate, p)
		}
		nums[i] = n
	}

	var m, d int
	switch len(nums) {
	case 2:
		m, d = nums[0], nums[1]
	case 3:
		switch y := nums[0]; {
		case y >= 0 && y <= 99:
			year = 2000 + y
		case y >= 2000 && y <= 2099:
			year = y
		default:
			return 0, 0, 0, fmt.Errorf("%w: year %d out of range", ErrBadDate, y)
		}
		m, d = nums[1], nums[2]
	default:
		return 0, 0, 0, fmt.Errorf("%w: expected MM/DD or YY/MM/DD", ErrBadDate)
	}

	if m >= 1 && m <= 12 {
		month = m
	}
	if d >= 1 && d <= 31 {
		day = d
	}
	if month == 0 || day == 0 {
		return 0, 0, 0, fmt.Errorf("%w: month or day out of range", ErrBadDate)
	}
	return year, month, day, nil
}

func parseFreeDate(s string) (year, month, day int, err error) {
	tokens := strings.Fields(strings.ReplaceAll(s, ",", " "))

	for _, tok := range tokens {
		if month = monthFromToken(tok); month != 0 {
			break
		}
	}

	for _, tok := range tokens {
		n, ok := numericToken(tok)
		if !ok {
			continue
		}
		switch {
		case n >= 1 && n <= 31:
			if day == 0 && month != 0 {
				day = n
			}
		case n >= 2000 && n <= 2099:
			year = n
		}
	}

	if year == 0 && month == 0 && day == 0 {
		return 0, 0, 0, fmt.Errorf("%w: could not read %q", ErrBadDate, s)
	}
	return year, month, day, nil
}

func monthFromToken(tok string) int {
	for i, p := range monthPrefixes {
		if strings.HasPrefix(tok, p) {
			return i + 1
		}
	}
	return 0
}

func numericToken(tok string) (int, bool) {
	for _, suf := range ordinalSuffixes {
		if strings.HasSuffix(tok, suf) {
			tok = strings.TrimSuffix(tok, suf)
			break
		}
	}
	if tok == "" {
		return 0, false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveDate fills unset components, applies the roll-forward rule and
// derives the granularity.
func resolveDate(year, month, day int, now time.Time) (time.Time, Granularity, error) {
	g := Granularity{Year: true, Month: month != 0, Day: day != 0}

	if month == 0 {
		month = 12
	}
	if year == 0 {
		year = now.Year()
		if month < int(now.Month()) {
			year++
		}
	}
	last := daysIn(year, time.Month(month))
	if day == 0 {
		day = last
	}
	if day > last {
		return time.Time{}, Granularity{}, fmt.Errorf("%w: %s has %d days", ErrBadDate, time.Month(month), last)
	}
	return AtSentinel(year, time.Month(month), day, now.Location()), g, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseTime applies a time of day to base, which must already carry a date.
// Hours 24-29 roll over to the next day. "now" uses the wall clock of now.
func ParseTime(text string, base, now time.Time) (time.Time, error) {
	if base.IsZero() {
		return time.Time{}, fmt.Errorf("%w: a date is required before a time", ErrBadTime)
	}
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty time", ErrBadTime)
	}

	var (
		h, m   int
		offset int
		err    error
	)
	switch {
	case strings.Contains(s, "now"):
		wall := now.In(base.Location())
		h, m = wall.Hour(), wall.Minute()
	case len(s) == 4 && isDigits(s):
		h, _ = strconv.Atoi(s[:2])
		m, _ = strconv.Atoi(s[2:])
		if h, offset, err = rollHour(h); err != nil {
			return time.Time{}, err
		}
		if m < 0 || m > 59 {
			return time.Time{}, fmt.Errorf("%w: minute %d out of range", ErrBadTime, m)
		}
	case strings.Contains(s, ":"):
		h, m, offset, err = parseColonTime(s)
	default:
		h, offset, err = parseBareHour(s)
	}
	if err != nil {
		return time.Time{}, err
	}

	b := base
	t := time.Date(b.Year(), b.Month(), b.Day(), h, m, 0, 0, b.Location())
	return t.AddDate(0, 0, offset), nil
}

func parseColonTime(s string) (h, m, offset int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("%w: expected H:MM", ErrBadTime)
	}
	rest := parts[1:]
	meridiem := ""
	for _, p := range rest {
		switch {
		case strings.Contains(p, "am"):
			meridiem = "am"
		case strings.Contains(p, "pm"):
			meridiem = "pm"
		}
		if meridiem != "" {
			break
		}
	}

	h, err = atoiTrim(parts[0])
	if err != nil {
		return 0, 0, 0, err
	}
	if h, offset, err = rollHour(h); err != nil {
		return 0, 0, 0, err
	}

	minText := strings.TrimSpace(stripMeridiem(parts[1]))
	m, err = atoiTrim(minText)
	if err != nil {
		return 0, 0, 0, err
	}
	if m < 0 || m > 59 {
		return 0, 0, 0, fmt.Errorf("%w: minute %d out of range", ErrBadTime, m)
	}
	if len(parts) == 3 {
		if sec := strings.TrimSpace(stripMeridiem(parts[2])); sec != "" {
			if n, secErr := atoiTrim(sec); secErr != nil || n < 0 || n > 59 {
				return 0, 0, 0, fmt.Errorf("%w: bad seconds %q", ErrBadTime, parts[2])
			}
		}
	}

	if meridiem != "" {
		if offset != 0 {
			return 0, 0, 0, fmt.Errorf("%w: am/pm cannot be combined with hours past 23", ErrBadTime)
		}
		if h, err = applyMeridiem(h, meridiem); err != nil {
			return 0, 0, 0, err
		}
	}
	return h, m, offset, nil
}

func parseBareHour(s string) (h, offset int, err error) {
	meridiem := ""
	switch {
	case strings.Contains(s, "am"):
		meridiem = "am"
	case strings.Contains(s, "pm"):
		meridiem = "pm"
	}
	h, err = atoiTrim(stripMeridiem(s))
	if err != nil {
		return 0, 0, err
	}
	if h, offset, err = rollHour(h); err != nil {
		return 0, 0, err
	}
	if meridiem != "" {
		if offset != 0 {
			return 0, 0, fmt.Errorf("%w: am/pm cannot be combined with hours past 23", ErrBadTime)
		}
		if h, err = applyMeridiem(h, meridiem); err != nil {
			return 0, 0, err
		}
	}
	return h, 0, nil
}

// rollHour accepts 0-29; 24-29 map to 0-5 on the following day.
func rollHour(h int) (int, int, error) {
	switch {
	case h >= 0 && h <= 23:
		return h, 0, nil
	case h >= 24 && h <= 29:
		return h - 24, 1, nil
	default:
		return 0, 0, fmt.Errorf("%w: hour %d out of range", ErrBadTime, h)
	}
}

func applyMeridiem(h int, meridiem string) (int, error) {
	if h < 1 || h > 12 {
		return 0, fmt.Errorf("%w: 12-hour clock needs an hour between 1 and 12", ErrBadTime)
	}
	switch meridiem {
	case "am":
		if h == 12 {
			return 0, nil
		}
	case "pm":
		if h < 12 {
			return h + 12, nil
		}
	}
	return h, nil
}

func stripMeridiem(s string) string {
	return strings.NewReplacer("am", "", "pm", "").Replace(s)
}

func atoiTrim(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadTime, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadTime, err)
	}
	return n, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseType maps a type name to an EventType. Unknown or empty input is TypeOther.
func ParseType(text string) EventType {
	s := strings.ToLower(strings.TrimSpace(text))
	for i, name := range typeNames {
		if s == name {
			return EventType(i)
		}
	}
	return TypeOther
}
