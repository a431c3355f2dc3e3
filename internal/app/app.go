// Package app wires the bot together and owns its start and stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/observability/metrics"
	"schedbot/internal/observability/ops"
	"schedbot/internal/refresher"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	"schedbot/internal/task/scheduler"
	kit "schedbot/internal/transport"
	telegram "schedbot/internal/transport/telegram/adapter"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/systemd"
	schedplug "schedbot/plugins/schedule"
	sysplug "schedbot/plugins/system"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	adapter *telegram.Adapter
	metrics *metrics.Metrics

	sched     *scheduler.Service
	refresher *refresher.Refresher
	cmdm      *router.CommandManager
	schedule  *schedplug.Plugin
	system    *sysplug.Plugin
	ops       *ops.Server

	started time.Time
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	met := metrics.New()
	bus := eventbus.New(eventbus.OnDrop(met.BusDropped))

	sc, err := storageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	ac, err := adapterConfig(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	ac.OnDropped = met.UpdatesDropped
	ad, err := telegram.New(ac, log)
	if err != nil {
		_ = store.Close()
		return fail(fmt.Errorf("telegram: %w", err))
	}
	logSvc.SetNotifier(ad)

	rc, err := refresherConfig(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	sched := scheduler.New(rc.Location, log)
	refr, err := refresher.New(refresher.Deps{
		Store:     store,
		Adapter:   ad,
		Bus:       bus,
		Scheduler: sched,
		Metrics:   met,
		Log:       log,
	}, rc)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	plug, err := schedplug.New(schedplug.Deps{
		Store:     store,
		Refresher: refr,
		Bus:       bus,
		Locks:     refr.Locks(),
		Log:       log,
	}, pluginConfig(cfg))
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	a := &App{}
	sys, err := sysplug.New(sysplug.Deps{
		Store:     store,
		Refresher: refr,
		Scheduler: sched,
		Tasks:     a.tasks,
	})
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	ro, err := routerOptions(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	ro.BotUsername = ad.Username()
	ro.Observer = met
	cmdm := router.NewCommandManager(log, ad, ro)

	*a = App{
		cfgm:      cfgm,
		log:       log.With(logx.Component("app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		metrics:   met,
		sched:     sched,
		refresher: refr,
		cmdm:      cmdm,
		schedule:  plug,
		system:    sys,
		updates:   make(chan kit.Update, 256),
	}
	a.ops = ops.New(log, met.Registry(), a.health)
	return a, nil
}

// Done is closed once the app context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first task failure, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, a.log)
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	cmds := append(a.schedule.Commands(), a.system.Commands()...)
	a.cmdm.SetRegistry(run, cmds, a.schedule.Callbacks())

	a.sched.Start(run)
	if err := a.refresher.Start(run); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}
	a.ops.Apply(run, opsConfig(a.cfgm.Get()))

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go("refresh.initial", func(c context.Context) error {
		sum, err := a.refresher.RefreshAll(c)
		if err != nil {
			a.log.Warn("initial refresh failed", logx.Err(err))
			return nil
		}
		a.log.Info("initial refresh done",
			logx.Int("guilds", sum.Guilds), logx.Int("ok", sum.OK), logx.Int("failed", sum.Failed))
		if _, err := systemd.Status(fmt.Sprintf("%d schedules, %d failed", sum.Guilds, sum.Failed)); err != nil {
			a.log.Debug("sd_notify status failed", logx.Err(err))
		}
		return nil
	})
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.sighup", a.hangupLoop)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.taskRunning("commands.dispatch") })
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// validateReload rejects configs that would fail when applied live.
func (a *App) validateReload(ctx context.Context, cfg *config.Config) error {
	rc, err := refresherConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.Validate(rc.Every); err != nil {
		return fmt.Errorf("schedule.refresh_every: %w", err)
	}
	if _, err := routerOptions(cfg); err != nil {
		return err
	}
	_, err = storageConfig(cfg)
	return err
}

// reloadLoop applies published configs. Bursts collapse to the newest.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

// hangupLoop reloads the config on SIGHUP.
func (a *App) hangupLoop(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			published, err := a.cfgm.Reload(ctx)
			switch {
			case err != nil:
				a.log.Warn("SIGHUP reload failed", logx.Err(err))
			case !published:
				a.log.Info("SIGHUP: config unchanged")
			}
		}
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(changed); len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(cfg.Logging.LogxConfig())
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	if ro, err := routerOptions(cfg); err == nil {
		a.cmdm.SetTimeout(ro.Timeout)
	}
	a.adapter.SetEditRate(cfg.Schedule.EditRatePerSec, editBurst)

	if rc, err := refresherConfig(cfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		a.sched.SetLocation(rc.Location)
		if err := a.refresher.Apply(rc); err != nil {
			a.log.Warn("refresher config rejected", logx.Err(err))
		}
	}
	a.schedule.Apply(pluginConfig(cfg))
	a.ops.Apply(ctx, opsConfig(cfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// tasks lists supervised loops; empty before Start.
func (a *App) tasks() []rtsup.TaskStats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
}

func (a *App) taskRunning(name string) bool {
	for _, st := range a.tasks() {
		if st.Name == name {
			return st.Running
		}
	}
	return false
}

// health feeds /healthz.
func (a *App) health() (map[string]any, error) {
	last := a.refresher.LastPass()
	out := map[string]any{
		"uptime":  time.Since(a.started).Round(time.Second).String(),
		"refresh": last,
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			return out, err
		}
	}
	if last.Guilds > 0 && last.OK == 0 && last.Failed > 0 {
		return out, fmt.Errorf("last refresh failed for all %d guilds", last.Guilds)
	}
	return out, nil
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step slow", logx.String("step", name), logx.Duration("took", took))
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("refresher", 5*time.Second, a.refresher.Stop)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
