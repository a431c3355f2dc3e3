package schedule

import (
	"sort"
	"time"
)

// Classification is the past / next-up / future split of a guild's events.
type Classification struct {
	Past   []Event
	NextUp *Event
	// Future holds timed upcoming events in ascending order followed by
	// events without a time in insertion order.
	Future []Event
}

// Classify partitions events as of now. The input slice is not modified.
//
// Stashed events that come before the next-up pick are treated as past.
func Classify(events []Event, now time.Time) Classification {
	var (
		past, timed, unspecified []Event
	)
	for _, e := range events {
		switch {
		case !e.HasTime():
			unspecified = append(unspecified, e)
		case !e.Datetime.After(now):
			past = append(past, e)
		default:
			timed = append(timed, e)
		}
	}
	sort.SliceStable(past, func(i, j int) bool { return past[i].Datetime.Before(past[j].Datetime) })
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].Datetime.Before(timed[j].Datetime) })

	candidates := append(timed, unspecified...)

	var c Classification
	i := 0
	for ; i < len(candidates); i++ {
		e := candidates[i]
		if !e.Stashed {
			picked := e
			c.NextUp = &picked
			i++
			break
		}
		if e.HasTime() {
			past = append(past, e)
			continue
		}
		c.Future = append(c.Future, e)
	}
	c.Future = append(c.Future, candidates[i:]...)
	c.Past = past
	return c
}
