package scheduler

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a parsed trigger: either a fixed interval or a cron expression.
type Spec struct {
	Every time.Duration
	Cron  string
}

func (s Spec) String() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

// ParseSpec accepts a Go duration ("2m"), "@every <duration>", a cron
// descriptor ("@hourly") or a 5 or 6 field cron expression.
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	if rest, ok := strings.CutPrefix(s, "@every"); ok {
		return parseEvery(strings.TrimSpace(rest))
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Spec{Cron: s}, nil
	}
	sp, err := parseEvery(s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use a duration like '2m' or cron like '*/2 * * * *')", raw)
	}
	return sp, nil
}

func parseEvery(v string) (Spec, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval %s is below 1s", d)
	}
	return Spec{Every: d}, nil
}

// maxJitter caps the random delay added to an interval job's first run so
// a restart does not edit every chat at the same instant.
const maxJitter = 30 * time.Second

// jittered runs base, except that nothing fires before first.
type jittered struct {
	base  cron.Schedule
	first time.Time
}

func (j *jittered) Next(t time.Time) time.Time {
	if t.Before(j.first) {
		return j.first
	}
	return j.base.Next(t)
}

func jitteredEvery(every time.Duration, now time.Time, rnd func(int64) int64) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	span := min(every/4, maxJitter)
	if span <= 0 {
		return base, 0
	}
	delay := time.Duration(rnd(int64(span)))
	return &jittered{base: base, first: now.Add(every + delay)}, delay
}

var randN = rand.Int64N
