package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"
)

var stampPattern = regexp.MustCompile(`^<t:(-?\d+):f>$`)

func TestFormatTimestampRoundTrip(t *testing.T) {
	t.Parallel()
	f := Formatter{Markup: DiscordMarkup{}, Location: jst}
	now := at(2024, time.August, 15, 10, 0)

	for _, when := range []time.Time{
		at(2024, time.August, 20, 20, 0),
		at(2023, time.January, 1, 0, 0),
		time.Date(2030, time.March, 3, 4, 5, 6, 0, time.UTC),
	} {
		e := Event{Title: "x", Datetime: when, Granularity: DayGranularity, Type: TypeStream}
		abs, rel := f.Format(e, now)
		m := stampPattern.FindStringSubmatch(abs)
		if m == nil {
			t.Fatalf("Format(%v) abs = %q, want <t:N:f>", when, abs)
		}
		epoch, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			t.Fatalf("parse epoch: %v", err)
		}
		if epoch != when.Unix() {
			t.Fatalf("epoch = %d, want %d", epoch, when.Unix())
		}
		if want := fmt.Sprintf("<t:%d:R>", when.Unix()); rel != want {
			t.Fatalf("rel = %q, want %q", rel, want)
		}
	}
}

func TestFormatFallback(t *testing.T) {
	t.Parallel()
	f := Formatter{Markup: DiscordMarkup{}, Location: jst}
	aug := at(2024, time.August, 15, 10, 0)
	dec := at(2024, time.December, 2, 10, 0)

	tests := []struct {
		name string
		e    Event
		now  time.Time
		want string
	}{
		{name: "unknown", e: Event{}, now: aug, want: "Unknown"},
		{name: "today", e: Event{Datetime: AtSentinel(2024, time.August, 15, jst), Granularity: DayGranularity}, now: aug, want: "Today"},
		{name: "same year", e: Event{Datetime: AtSentinel(2024, time.August, 20, jst), Granularity: DayGranularity}, now: aug, want: "Aug 20"},
		{name: "next year", e: Event{Datetime: AtSentinel(2025, time.January, 5, jst), Granularity: DayGranularity}, now: aug, want: "Jan 5, 2025"},
		{name: "december carry over", e: Event{Datetime: AtSentinel(2025, time.January, 5, jst), Granularity: DayGranularity}, now: dec, want: "Jan 5"},
		{name: "december two years out", e: Event{Datetime: AtSentinel(2026, time.January, 5, jst), Granularity: DayGranularity}, now: dec, want: "Jan 5, 2026"},
		{name: "month", e: Event{Datetime: AtSentinel(2024, time.October, 31, jst), Granularity: Granularity{Year: true, Month: true}}, now: aug, want: "◔  October"},
		{name: "month other year", e: Event{Datetime: AtSentinel(2026, time.March, 31, jst), Granularity: Granularity{Year: true, Month: true}}, now: aug, want: "◔  March 2026"},
		{name: "year", e: Event{Datetime: AtSentinel(2026, time.December, 31, jst), Granularity: Granularity{Year: true}}, now: aug, want: "◕  2026"},
		// Inconsistent flags never come from ParseDate. Falling back to the
		// coarsest level is a guess until the desired display is decided.
		{name: "day without month or year", e: Event{Datetime: AtSentinel(2024, time.September, 1, jst), Granularity: Granularity{Day: true}}, now: aug, want: "◕  2024"},
		{name: "event type with sentinel time", e: Event{Datetime: AtSentinel(2024, time.August, 20, jst), Granularity: DayGranularity, Type: TypeEvent}, now: aug, want: "Aug 20"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			abs, rel := f.Format(tt.e, tt.now)
			if abs != tt.want {
				t.Fatalf("abs = %q, want %q", abs, tt.want)
			}
			if rel != "" {
				t.Fatalf("rel = %q, want empty", rel)
			}
		})
	}
}

func TestFormatConfirmedSentinelUsesTimestamp(t *testing.T) {
	t.Parallel()
	f := Formatter{Markup: DiscordMarkup{}, Location: jst}
	now := at(2024, time.August, 15, 10, 0)
	when := AtSentinel(2024, time.August, 20, jst)
	e := Event{Datetime: when, Granularity: DayGranularity, URL: "https://example.com/live"}

	abs, rel := f.Format(e, now)
	if want := fmt.Sprintf("<t:%d:f>", when.Unix()); abs != want {
		t.Fatalf("abs = %q, want %q", abs, want)
	}
	if rel == "" {
		t.Fatal("rel is empty for a confirmed event")
	}
}

func TestFormatTelegramHTML(t *testing.T) {
	t.Parallel()
	f := Formatter{Markup: TelegramHTML{Location: jst}, Location: jst}
	now := at(2024, time.August, 15, 10, 0)
	e := Event{Datetime: at(2024, time.August, 18, 10, 0), Granularity: DayGranularity}

	abs, rel := f.Format(e, now)
	if abs != "Sun, Aug 18 10:00 JST" {
		t.Fatalf("abs = %q", abs)
	}
	if rel != "3 days from now" {
		t.Fatalf("rel = %q", rel)
	}
}
