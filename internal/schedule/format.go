package schedule

import (
	"strconv"
	"time"
)

const (
	monthGlyph = "◔  "
	yearGlyph  = "◕  "
	unknownTxt = "Unknown"
	todayTxt   = "Today"
)

// Formatter renders the time of one event.
type Formatter struct {
	Markup   Markup
	Location *time.Location
}

// Format returns the absolute and relative display strings for e.
// rel is empty when the event has no real time of day and is unconfirmed.
func (f Formatter) Format(e Event, now time.Time) (abs, rel string) {
	if !e.HasTime() {
		return unknownTxt, ""
	}
	loc := f.loc()
	if !IsSentinel(e.Datetime, loc) || e.Confirmed(loc) {
		return f.Markup.Timestamp(e.Datetime, now, StyleFull), f.Markup.Timestamp(e.Datetime, now, StyleRelative)
	}

	t := e.Datetime.In(loc)
	n := now.In(loc)
	switch e.Granularity.Level() {
	case LevelDay:
		if sameDay(t, n) {
			return todayTxt, ""
		}
		return t.Format("Jan 2") + yearSuffix(t, n, ", "), ""
	case LevelMonth:
		return monthGlyph + t.Month().String() + yearSuffix(t, n, " "), ""
	default:
		return yearGlyph + strconv.Itoa(t.Year()), ""
	}
}

func (f Formatter) loc() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

// yearSuffix is empty for the current year, and for next year while now is in December.
func yearSuffix(t, now time.Time, sep string) string {
	if t.Year() == now.Year() {
		return ""
	}
	if now.Month() == time.December && t.Year() == now.Year()+1 {
		return ""
	}
	return sep + strconv.Itoa(t.Year())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
