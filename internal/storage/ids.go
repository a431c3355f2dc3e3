package storage

import (
	"fmt"
	"math/rand/v2"
	"time"

	"schedbot/internal/schedule"
)

const (
	eventIDSpace    = 10000
	eventIDAttempts = 64
)

// pickEventID returns a random unused 4-digit id. After eventIDAttempts
// random misses it scans for the first free id.
func pickEventID(taken map[string]bool) (string, error) {
	if len(taken) >= eventIDSpace {
		return "", fmt.Errorf("%w: all event ids are in use", ErrConflict)
	}
	for i := 0; i < eventIDAttempts; i++ {
		id := formatEventID(rand.IntN(eventIDSpace))
		if !taken[id] {
			return id, nil
		}
	}
	for n := 0; n < eventIDSpace; n++ {
		if id := formatEventID(n); !taken[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: all event ids are in use", ErrConflict)
}

func formatEventID(n int) string { return fmt.Sprintf("%04d", n) }

// normalizeEvent converts instants to UTC before they are written.
func normalizeEvent(e schedule.Event) schedule.Event {
	if e.HasTime() {
		e.Datetime = e.Datetime.UTC()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e
}

func nowUTC() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
