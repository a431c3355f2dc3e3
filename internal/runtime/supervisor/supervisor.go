// Package supervisor runs the bot's long-lived loops (polling, refresh,
// config watch, ops server) under one cancellable context, restarting
// them after errors or panics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "schedbot/pkg/logx"
)

// Supervisor owns a context and the goroutines started under it.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu       sync.Mutex
	stats    map[string]*TaskStats
	firstErr error
}

// TaskStats is a point-in-time view of one named task.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	StartedAt time.Time `json:"started_at"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at,omitempty"`
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(logx.Component("supervisor")),
		doneCh: make(chan struct{}),
		stats:  map[string]*TaskStats{},
	}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first error recorded by any task.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Snapshot returns task stats sorted by name.
func (s *Supervisor) Snapshot() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) update(name string, fn func(st *TaskStats)) {
	s.mu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &TaskStats{Name: name}
		s.stats[name] = st
	}
	fn(st)
	s.mu.Unlock()
}

func (s *Supervisor) recordErr(name string, err error, panicked bool) {
	s.update(name, func(st *TaskStats) {
		st.LastErr = err.Error()
		st.LastErrAt = time.Now()
		if panicked {
			st.Panics++
		}
	})
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}

// runOnce calls fn, converting a panic into an error.
func runOnce(ctx context.Context, fn func(context.Context) error) (err error, panicked bool, stack string) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			panicked = true
			stack = string(debug.Stack())
		}
	}()
	return fn(ctx), false, ""
}

// Go runs fn once. Panics are recovered and recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.update(name, func(st *TaskStats) { st.Running = true; st.StartedAt = time.Now() })
		defer s.update(name, func(st *TaskStats) { st.Running = false })

		err, panicked, stack := runOnce(s.ctx, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if panicked {
			s.log.Error("task panicked", logx.String("task", name), logx.Err(err), logx.Stack(stack))
		} else {
			s.log.Error("task failed", logx.String("task", name), logx.Err(err))
		}
		s.recordErr(name, fmt.Errorf("%s: %w", name, err), panicked)
	}()
}

// RestartPolicy bounds the backoff between restarts.
type RestartPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// MaxRestarts <= 0 restarts forever.
	MaxRestarts int
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.MinBackoff <= 0 {
		p.MinBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = 30 * time.Second
	}
	return p
}

// GoRestart runs fn until the supervisor is stopped. A nil return ends the
// task; an error or panic restarts it after a jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, p RestartPolicy) {
	p = p.withDefaults()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.update(name, func(st *TaskStats) { st.Running = false })

		backoff := p.MinBackoff
		for restarts := 0; ; restarts++ {
			startedAt := time.Now()
			s.update(name, func(st *TaskStats) {
				st.Running = true
				st.StartedAt = startedAt
				st.Restarts = restarts
			})

			err, panicked, stack := runOnce(s.ctx, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			s.recordErr(name, fmt.Errorf("%s: %w", name, err), panicked)
			if panicked {
				s.log.Error("task panicked", logx.String("task", name), logx.Err(err), logx.Stack(stack))
			}
			if p.MaxRestarts > 0 && restarts >= p.MaxRestarts {
				s.log.Error("task gave up", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}

			// A long healthy run resets the backoff.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = p.MinBackoff
			}
			wait := backoff + time.Duration(rand.Int64N(int64(backoff)/5+1))
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff = min(backoff*2, p.MaxBackoff)
		}
	}()
}

// Stop cancels every task and waits for them up to ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return nil
	}
}
