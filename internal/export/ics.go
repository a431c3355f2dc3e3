// Package export renders a guild's events as an iCalendar (RFC 5545) file.
package export

import (
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"schedbot/internal/schedule"
)

// uidNamespace scopes event UIDs so they stay stable across exports.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://schedbot.invalid/events"))

// DefaultDuration is the length given to events with a time of day.
const DefaultDuration = time.Hour

type Options struct {
	// Location is the display zone; all-day dates are taken in it.
	Location *time.Location
	Now      time.Time
}

// Result is the serialized calendar plus what was left out.
type Result struct {
	Data     []byte
	Exported int
	// Undated events have no instant and cannot be placed on a calendar.
	Undated int
}

// EventUID is the stable UID of an event.
func EventUID(guildID int64, eventID string) string {
	name := strconv.FormatInt(guildID, 10) + "/" + eventID
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@schedbot"
}

// ICS builds the calendar for g. Events without a time of day become
// all-day entries; stashed events are marked cancelled.
func ICS(g schedule.GuildConfig, events []schedule.Event, opt Options) Result {
	loc := opt.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opt.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//schedbot//schedule export//EN")
	cal.SetXWRCalName(calendarName(g))
	cal.SetXWRTimezone(loc.String())
	if d := strings.TrimSpace(g.Description); d != "" {
		cal.SetXWRCalDesc(d)
	}

	res := Result{}
	for _, e := range events {
		if !e.HasTime() {
			res.Undated++
			continue
		}
		ev := cal.AddEvent(EventUID(g.GuildID, e.ID))
		ev.SetDtStampTime(now.UTC())
		if !e.CreatedAt.IsZero() {
			ev.SetCreatedTime(e.CreatedAt.UTC())
		}
		if !e.UpdatedAt.IsZero() {
			ev.SetModifiedAt(e.UpdatedAt.UTC())
		}

		if allDay(e, loc) {
			day := e.Datetime.In(loc)
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
			ev.SetAllDayStartAt(start)
			ev.SetAllDayEndAt(start.AddDate(0, 0, 1))
		} else {
			ev.SetStartAt(e.Datetime.UTC())
			ev.SetEndAt(e.Datetime.Add(DefaultDuration).UTC())
		}

		ev.SetSummary(e.Title)
		ev.SetProperty(ics.ComponentPropertyCategories, e.Type.String())
		if desc := description(e); desc != "" {
			ev.SetDescription(desc)
		}
		if u := strings.TrimSpace(e.URL); u != "" {
			ev.SetURL(u)
		}
		switch {
		case e.Stashed:
			ev.SetStatus(ics.ObjectStatusCancelled)
		case e.Confirmed(loc):
			ev.SetStatus(ics.ObjectStatusConfirmed)
		default:
			ev.SetStatus(ics.ObjectStatusTentative)
		}
		res.Exported++
	}
	res.Data = []byte(cal.Serialize())
	return res
}

// allDay is true when the event has no real time of day or its date is
// coarser than a day.
func allDay(e schedule.Event, loc *time.Location) bool {
	return schedule.IsSentinel(e.Datetime, loc) || e.Granularity.Level() != schedule.LevelDay
}

func calendarName(g schedule.GuildConfig) string {
	if name := strings.TrimSpace(g.Talent); name != "" {
		return name + " schedule"
	}
	return "Schedule"
}

func description(e schedule.Event) string {
	var parts []string
	if n := strings.TrimSpace(e.Note); n != "" {
		parts = append(parts, n)
	}
	switch e.Granularity.Level() {
	case schedule.LevelMonth:
		parts = append(parts, "Date is approximate (month).")
	case schedule.LevelYear:
		parts = append(parts, "Date is approximate (year).")
	}
	if u := strings.TrimSpace(e.URL); u != "" {
		parts = append(parts, u)
	}
	return strings.Join(parts, "\n")
}

// FileName is the attachment name for a guild export.
func FileName(g schedule.GuildConfig, now time.Time) string {
	base := "schedule"
	if name := strings.TrimSpace(g.Talent); name != "" {
		base = sanitizeFileName(name) + "-schedule"
	}
	return base + "-" + now.Format("20060102") + ".ics"
}

func sanitizeFileName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "guild"
	}
	return out
}
