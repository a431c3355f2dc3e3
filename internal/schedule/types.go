package schedule

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrBadDate      = errors.New("bad date")
	ErrBadTime      = errors.New("bad time")
	ErrInvalidSlots = errors.New("message slot count must be > 0")
)

// EventType is the kind of an event. The numeric values are persisted.
type EventType int

const (
	TypeStream EventType = iota
	TypeVideo
	TypeEvent
	TypeRelease
	TypeOther
)

var typeNames = [...]string{"stream", "video", "event", "release", "other"}

func (t EventType) String() string {
	if t < TypeStream || t > TypeOther {
		return typeNames[TypeOther]
	}
	return typeNames[t]
}

// Valid reports whether t is one of the known types.
func (t EventType) Valid() bool { return t >= TypeStream && t <= TypeOther }

// TypeNames lists the accepted type names in enum order.
func TypeNames() []string { return append([]string(nil), typeNames[:]...) }

// Granularity records which calendar components of an event's date are meaningful.
type Granularity struct {
	Year  bool `json:"year"`
	Month bool `json:"month"`
	Day   bool `json:"day"`
}

// Level is a resolved display precision.
type Level int

const (
	LevelYear Level = iota
	LevelMonth
	LevelDay
)

// Level returns the effective display precision. The finest true flag wins,
// lowered by one level for each coarser flag that is missing.
func (g Granularity) Level() Level {
	var finest Level
	switch {
	case g.Day:
		finest = LevelDay
	case g.Month:
		finest = LevelMonth
	default:
		return LevelYear
	}
	missing := 0
	if finest == LevelDay && !g.Month {
		missing++
	}
	if !g.Year {
		missing++
	}
	lvl := finest - Level(missing)
	if lvl < LevelYear {
		lvl = LevelYear
	}
	return lvl
}

// DayGranularity is what ParseDate produces for a fully resolved date.
var DayGranularity = Granularity{Year: true, Month: true, Day: true}

// Event is a read-only snapshot of one schedule entry.
type Event struct {
	GuildID     int64       `json:"guild_id"`
	ID          string      `json:"event_id"`
	Title       string      `json:"title"`
	Datetime    time.Time   `json:"datetime,omitempty"`
	Granularity Granularity `json:"datetime_granularity"`
	Type        EventType   `json:"type"`
	Stashed     bool        `json:"stashed"`
	URL         string      `json:"url,omitempty"`
	Note        string      `json:"note,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// HasTime reports whether the event carries an instant.
func (e Event) HasTime() bool { return !e.Datetime.IsZero() }

// Confirmed reports whether the event should be shown as locked in:
// it has a link, or it is a calendar event with a real time of day.
func (e Event) Confirmed(loc *time.Location) bool {
	if strings.TrimSpace(e.URL) != "" {
		return true
	}
	return e.Type == TypeEvent && e.HasTime() && !IsSentinel(e.Datetime, loc)
}

// GuildConfig is the per-chat schedule configuration.
type GuildConfig struct {
	GuildID     int64     `json:"guild_id"`
	ChatID      int64     `json:"chat_id"`
	ThreadID    int       `json:"thread_id,omitempty"`
	MessageIDs  []int     `json:"message_ids"`
	EditorIDs   []int64   `json:"editor_ids,omitempty"`
	Enabled     bool      `json:"enabled"`
	Talent      string    `json:"talent,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsEditor reports whether userID is in the configured editor list.
func (g GuildConfig) IsEditor(userID int64) bool {
	for _, id := range g.EditorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Sentinel time of day meaning "no time was given".
const (
	sentinelHour   = 23
	sentinelMinute = 59
	sentinelSecond = 59
)

// IsSentinel reports whether t sits on the 23:59:59 marker in loc.
// A real event at exactly that wall-clock time is indistinguishable from an unset time.
func IsSentinel(t time.Time, loc *time.Location) bool {
	if t.IsZero() {
		return false
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Hour() == sentinelHour && t.Minute() == sentinelMinute && t.Second() == sentinelSecond
}

// AtSentinel returns the given calendar day at 23:59:59 in loc.
func AtSentinel(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, sentinelHour, sentinelMinute, sentinelSecond, 0, loc)
}
