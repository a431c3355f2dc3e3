package refresher

import (
	"sync"
	"time"
)

// breaker cools down guilds whose refresh keeps failing so one broken
// chat does not eat every periodic pass. After trip consecutive failures
// the guild is skipped for base, doubling per further failure up to max.
type breaker struct {
	cfg breakerConfig
	mu  sync.Mutex
	m   map[int64]*breakerState
}

type breakerConfig struct {
	trip int
	base time.Duration
	max  time.Duration
	// resetAfter forgets failures older than this.
	resetAfter time.Duration
}

type breakerState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(cfg breakerConfig) *breaker {
	if cfg.trip <= 0 {
		cfg.trip = 3
	}
	if cfg.base <= 0 {
		cfg.base = 5 * time.Minute
	}
	if cfg.max <= 0 {
		cfg.max = time.Hour
	}
	if cfg.resetAfter <= 0 {
		cfg.resetAfter = 6 * time.Hour
	}
	return &breaker{cfg: cfg, m: map[int64]*breakerState{}}
}

func (b *breaker) stateLocked(now time.Time, key int64) *breakerState {
	st := b.m[key]
	if st == nil {
		st = &breakerState{}
		b.m[key] = st
	}
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.resetAfter {
		*st = breakerState{}
	}
	return st
}

func (b *breaker) isOpen(now time.Time, key int64) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateLocked(now, key)
	if now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (b *breaker) record(now time.Time, key int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.m, key)
		return
	}
	st := b.stateLocked(now, key)
	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.trip {
		return
	}
	d := b.cfg.base
	for i := 0; i < st.fails-b.cfg.trip && d < b.cfg.max; i++ {
		d *= 2
	}
	if d > b.cfg.max {
		d = b.cfg.max
	}
	st.openUntil = now.Add(d)
}
