package app

import (
	"fmt"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/observability/ops"
	"schedbot/internal/refresher"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	telegram "schedbot/internal/transport/telegram/adapter"
	"schedbot/internal/transport/telegram/router"
	schedplug "schedbot/plugins/schedule"
)

const defaultPollTimeout = 10 * time.Second

func storageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "file":
		return storage.Config{Driver: "file", Dir: sc.Dir}, nil
	case "sqlite":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: sc.Path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func adapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    poll,
		EditRatePerSec: cfg.Schedule.EditRatePerSec,
		EditBurst:      editBurst,
	}, nil
}

// editBurst lets a full refresh of one schedule go out without waiting.
const editBurst = config.MaxMessages

func refresherConfig(cfg *config.Config) (refresher.Config, error) {
	s := cfg.Schedule
	loc, err := s.Location()
	if err != nil {
		return refresher.Config{}, err
	}
	markup, err := schedule.MarkupByName(s.Markup, loc)
	if err != nil {
		return refresher.Config{}, fmt.Errorf("schedule.markup: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("schedule.refresh_timeout", s.RefreshTimeout, config.DefaultRefreshDeadline)
	if err != nil {
		return refresher.Config{}, err
	}
	return refresher.Config{
		Every:     s.RefreshEvery,
		Timeout:   timeout,
		Workers:   s.RefreshWorkers,
		Markup:    markup,
		Location:  loc,
		PastLimit: s.PastLimit,
	}, nil
}

func routerOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, config.DefaultCommandTimeout)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{
		Owners:    cfg.Telegram.OwnerUserIDs,
		Workers:   cfg.Commands.Workers,
		QueueSize: cfg.Commands.QueueSize,
		Timeout:   timeout,
	}, nil
}

func pluginConfig(cfg *config.Config) schedplug.Config {
	return schedplug.Config{DefaultMessages: cfg.Schedule.DefaultMessages}
}

func opsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Enabled:              o.Enabled,
		Addr:                 o.Addr,
		Token:                o.Token,
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		ReadTimeout:          config.DurationOr(o.ReadTimeout, 5*time.Second),
		WriteTimeout:         config.DurationOr(o.WriteTimeout, 30*time.Second),
		IdleTimeout:          config.DurationOr(o.IdleTimeout, 60*time.Second),
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}
}
