package schedule

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sched "schedbot/internal/schedule"
	"schedbot/internal/transport/telegram/router"
)

// Text limits, counted in runes of the raw input.
const (
	maxTitle       = 30
	maxNote        = 30
	maxTalent      = 40
	maxDescription = 200
)

// eventFields is the order fields are applied and checked in.
var eventFields = []string{"title", "type", "url", "note", "date", "time"}

type singleField struct {
	name  string
	desc  string
	usage string
}

var singleFields = []singleField{
	{"title", "rename an event", "<title>"},
	{"date", "change an event's date", "<date>   (empty clears)"},
	{"time", "change an event's time", "<time>   (empty clears)"},
	{"type", "change an event's type", "<" + strings.Join(sched.TypeNames(), "|") + ">"},
	{"url", "set an event's link", "<url>   (empty clears)"},
	{"note", "set the note under an event", "<note>   (empty clears)"},
}

// fieldSource extracts field=value pairs from a request.
type fieldSource func(req *router.Request) map[string]string

func flagFields(req *router.Request) map[string]string { return req.Flags }

// addFields is flagFields plus bare words as the title: /add Karaoke date=8/18.
func addFields(req *router.Request) map[string]string {
	if _, ok := req.Flags["title"]; ok || len(req.Args) == 0 {
		return req.Flags
	}
	out := make(map[string]string, len(req.Flags)+1)
	for k, v := range req.Flags {
		out[k] = v
	}
	out["title"] = strings.Join(req.Args, " ")
	return out
}

// argField reads "<id> <value...>" as a single field.
func argField(name string) fieldSource {
	return func(req *router.Request) map[string]string {
		var v string
		if len(req.RawArgs) > 1 {
			v = strings.Join(req.RawArgs[1:], " ")
		}
		return map[string]string{name: v}
	}
}

func joinedArgs(req *router.Request) string {
	return strings.TrimSpace(strings.Join(req.RawArgs, " "))
}

func newEvent(guildID int64) sched.Event {
	return sched.Event{GuildID: guildID, Type: sched.TypeStream}
}

// applyFields returns e with fields applied. now carries the display zone.
// Failures are router rejections naming the offending field.
func applyFields(e sched.Event, fields map[string]string, now time.Time) (sched.Event, error) {
	var unknown []string
	for k := range fields {
		if !knownField(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return e, router.Reject("Unknown field %q. Fields: %s.", unknown[0], strings.Join(eventFields, ", "))
	}

	loc := now.Location()
	for _, name := range eventFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v := strings.TrimSpace(raw)
		switch name {
		case "title":
			if v == "" {
				return e, router.Reject("Title cannot be empty.")
			}
			if n := utf8.RuneCountInString(v); n > maxTitle {
				return e, router.Reject("Title too long. Max %d characters (currently %d).", maxTitle, n)
			}
			e.Title = v
		case "type":
			if v == "" {
				return e, router.Reject("Give a type: %s.", strings.Join(sched.TypeNames(), ", "))
			}
			e.Type = sched.ParseType(v)
		case "url":
			if v != "" && !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
				return e, router.Reject("Invalid URL. URLs should begin with \"http://\" or \"https://\".")
			}
			e.URL = v
		case "note":
			if n := utf8.RuneCountInString(v); n > maxNote {
				return e, router.Reject("Note too long. Max %d characters (currently %d).", maxNote, n)
			}
			e.Note = v
		case "date":
			var err error
			if e, err = applyDate(e, v, now); err != nil {
				return e, err
			}
		case "time":
			var err error
			if e, err = applyTime(e, v, now, loc); err != nil {
				return e, err
			}
		}
	}
	return e, nil
}

func knownField(k string) bool {
	for _, f := range eventFields {
		if f == k {
			return true
		}
	}
	return false
}

// applyDate sets the date. Clearing it clears the time too; an existing
// real time of day survives a change to another full date.
func applyDate(e sched.Event, v string, now time.Time) (sched.Event, error) {
	if v == "" {
		e.Datetime, e.Granularity = time.Time{}, sched.Granularity{}
		return e, nil
	}
	t, g, err := sched.ParseDate(v, now)
	if err != nil {
		return e, rejectParse(err, "Bad date input. %q could not be read as a date.", v)
	}
	loc := now.Location()
	if e.HasTime() && !sched.IsSentinel(e.Datetime, loc) && g.Day {
		old := e.Datetime.In(loc)
		t = time.Date(t.Year(), t.Month(), t.Day(), old.Hour(), old.Minute(), 0, 0, loc)
	}
	e.Datetime, e.Granularity = t, g
	return e, nil
}

// applyTime sets the time of day on the event's date. An empty value
// resets it to the no-time sentinel.
func applyTime(e sched.Event, v string, now time.Time, loc *time.Location) (sched.Event, error) {
	if !e.HasTime() || !e.Granularity.Day {
		if v == "" {
			return e, nil
		}
		return e, router.Reject("Event does not have a full date. Set a date before setting a time.")
	}
	day := e.Datetime.In(loc)
	if v == "" {
		e.Datetime = sched.AtSentinel(day.Year(), day.Month(), day.Day(), loc)
		return e, nil
	}
	t, err := sched.ParseTime(v, sched.AtSentinel(day.Year(), day.Month(), day.Day(), loc), now)
	if err != nil {
		return e, rejectParse(err, "Bad time input. %q could not be read as a time.", v)
	}
	e.Datetime = t
	return e, nil
}

func rejectParse(err error, format, v string) error {
	if errors.Is(err, sched.ErrBadDate) || errors.Is(err, sched.ErrBadTime) {
		return router.Reject(format, v)
	}
	return err
}
