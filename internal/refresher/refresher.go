// Package refresher keeps every enabled guild's schedule messages current.
//
// A cron job walks all enabled guilds with a bounded number of workers;
// schedule.changed bus events refresh a single guild right away. Writes
// for one guild are serialized by a keyed lock shared with the commands
// that create or replace schedule messages.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/observability/metrics"
	"schedbot/internal/runtime/keylock"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/task/scheduler"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// JobName is the scheduler entry for the periodic pass.
const JobName = "schedule.refresh"

type Config struct {
	Every     string        // scheduler spec, e.g. "2m" or "cron:*/2 * * * *"
	Timeout   time.Duration // per pass
	Workers   int
	Markup    schedule.Markup
	Location  *time.Location
	PastLimit int
}

type Deps struct {
	Store     storage.Store
	Adapter   kit.Adapter
	Bus       eventbus.Bus
	Scheduler *scheduler.Service
	Locks     *keylock.Locks
	Metrics   *metrics.Metrics
	Log       logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// PassSummary describes one walk over the enabled guilds.
type PassSummary struct {
	At       time.Time
	Guilds   int
	OK       int
	Failed   int
	Skipped  int
	Duration time.Duration
}

type Refresher struct {
	store   storage.Store
	adapter kit.Adapter
	bus     eventbus.Bus
	sched   *scheduler.Service
	locks   *keylock.Locks
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time

	mu       sync.RWMutex
	cfg      Config
	renderer schedule.Renderer
	last     PassSummary

	breaker *breaker

	goneMu sync.Mutex
	gone   map[int64]bool

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(d Deps, cfg Config) (*Refresher, error) {
	if d.Store == nil || d.Adapter == nil {
		return nil, errors.New("refresher: store and adapter are required")
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	r := &Refresher{
		store:   d.Store,
		adapter: d.Adapter,
		bus:     d.Bus,
		sched:   d.Scheduler,
		locks:   d.Locks,
		metrics: d.Metrics,
		log:     d.Log.With(logx.Component("refresher")),
		now:     d.Now,
		breaker: newBreaker(breakerConfig{}),
		gone:    map[int64]bool{},
	}
	r.setConfig(cfg)
	return r, nil
}

func (r *Refresher) setConfig(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Markup == nil {
		cfg.Markup = schedule.TelegramHTML{Location: cfg.Location}
	}
	ren := schedule.NewRenderer(cfg.Markup, cfg.Location)
	if cfg.PastLimit > 0 {
		ren.PastLimit = cfg.PastLimit
	}
	r.mu.Lock()
	r.cfg = cfg
	r.renderer = ren
	r.mu.Unlock()
}

// Renderer returns the renderer currently in use.
func (r *Refresher) Renderer() schedule.Renderer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.renderer
}

// Locks exposes the per-guild lock shared with command handlers.
func (r *Refresher) Locks() *keylock.Locks { return r.locks }

// LastPass returns the summary of the most recent periodic pass.
func (r *Refresher) LastPass() PassSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// NeedsSetup reports whether a schedule message of guildID has vanished.
func (r *Refresher) NeedsSetup(guildID int64) bool {
	r.goneMu.Lock()
	defer r.goneMu.Unlock()
	return r.gone[guildID]
}

// Start registers the periodic job and begins consuming bus events.
func (r *Refresher) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sup != nil {
		return nil
	}
	if err := r.schedule(); err != nil {
		return err
	}
	r.sup = rtsup.New(ctx, r.log)
	if r.bus != nil {
		events, unsubscribe := r.bus.Subscribe(64, eventbus.TopicScheduleChanged)
		r.sup.GoRestart("refresher.changes", func(c context.Context) error {
			return r.consume(c, events)
		}, rtsup.RestartPolicy{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second})
		r.sup.Go("refresher.unsubscribe", func(c context.Context) error {
			<-c.Done()
			unsubscribe()
			return nil
		})
	}
	r.mu.RLock()
	every := r.cfg.Every
	r.mu.RUnlock()
	r.log.Info("refresher started", logx.String("every", every))
	return nil
}

func (r *Refresher) schedule() error {
	if r.sched == nil {
		return nil
	}
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()
	return r.sched.Schedule(JobName, cfg.Every, cfg.Timeout, func(ctx context.Context) error {
		_, err := r.RefreshAll(ctx)
		return err
	})
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.runMu.Lock()
	sup := r.sup
	r.sup = nil
	r.runMu.Unlock()
	if r.sched != nil {
		r.sched.Remove(JobName)
	}
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	r.log.Info("refresher stopped")
	return err
}

// Apply swaps in a new config. The periodic job is rescheduled when running.
func (r *Refresher) Apply(cfg Config) error {
	if r.sched != nil {
		if err := r.sched.Validate(cfg.Every); err != nil {
			return fmt.Errorf("refresh_every: %w", err)
		}
	}
	r.setConfig(cfg)
	r.runMu.Lock()
	running := r.sup != nil
	r.runMu.Unlock()
	if running {
		return r.schedule()
	}
	return nil
}

// consume refreshes guilds named by schedule.changed events. Bursts for
// the same guild collapse into one refresh.
func (r *Refresher) consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			pending := map[int64]string{}
			collect := func(ev eventbus.Event) {
				if ch, ok := ev.Data.(eventbus.ScheduleChanged); ok {
					pending[ch.GuildID] = ch.Reason
				}
			}
			collect(ev)
		drain:
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						break drain
					}
					collect(ev)
				default:
					break drain
				}
			}
			for guildID, reason := range pending {
				r.refreshOnChange(ctx, guildID, reason)
			}
		}
	}
}

func (r *Refresher) refreshOnChange(ctx context.Context, guildID int64, reason string) {
	r.mu.RLock()
	timeout := r.cfg.Timeout
	r.mu.RUnlock()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.Refresh(cctx, guildID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.log.Warn("refresh after change failed",
			logx.Guild(guildID),
			logx.String("reason", reason),
			logx.Err(err),
		)
	}
}

// RefreshAll refreshes every enabled guild, skipping guilds whose circuit
// is open. Individual failures are logged and counted, not returned.
func (r *Refresher) RefreshAll(ctx context.Context) (PassSummary, error) {
	start, began := r.now(), time.Now()
	guilds, err := r.store.ListGuilds(ctx, true)
	if err != nil {
		return PassSummary{}, fmt.Errorf("list guilds: %w", err)
	}
	r.metrics.RefreshRun(len(guilds))

	r.mu.RLock()
	workers := r.cfg.Workers
	r.mu.RUnlock()

	var (
		mu  sync.Mutex
		sum = PassSummary{At: start, Guilds: len(guilds)}
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)
	for _, g := range guilds {
		if open, until := r.breaker.isOpen(start, g.GuildID); open {
			r.metrics.ObserveRefresh(metrics.RefreshSkipped, 0)
			r.log.Debug("refresh skipped, guild cooling down", logx.Guild(g.GuildID), logx.Time("until", until))
			sum.Skipped++
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return sum, ctx.Err()
		}
		wg.Add(1)
		go func(guildID int64) {
			defer wg.Done()
			defer func() { <-sem }()
			err := r.Refresh(ctx, guildID)
			r.breaker.record(r.now(), guildID, err)
			mu.Lock()
			if err != nil {
				sum.Failed++
			} else {
				sum.OK++
			}
			mu.Unlock()
			if err != nil {
				r.log.Warn("guild refresh failed", logx.Guild(guildID), logx.Err(err))
			}
		}(g.GuildID)
	}
	wg.Wait()

	sum.Duration = time.Since(began)
	r.mu.Lock()
	r.last = sum
	r.mu.Unlock()
	fields := []logx.Field{
		logx.Int("guilds", sum.Guilds),
		logx.Int("ok", sum.OK),
		logx.Int("failed", sum.Failed),
		logx.Int("skipped", sum.Skipped),
		logx.Duration("dur", sum.Duration),
	}
	if sum.Failed > 0 {
		r.log.Warn("refresh pass finished with failures", fields...)
	} else {
		r.log.Debug("refresh pass finished", fields...)
	}
	return sum, nil
}
