package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule"`
	Commands CommandsConfig `json:"commands"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
//	storage: { driver: file, dir: ./data }
//	storage: { driver: sqlite, path: ./data/schedbot.db, busy_timeout: 5s }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Dir         string `json:"dir,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ScheduleConfig struct {
	// Timezone is the display zone for dates without a timestamp.
	Timezone string `json:"timezone"`
	// Markup is "telegram_html" or "discord".
	Markup string `json:"markup"`
	// RefreshEvery accepts "2m", "interval:2m", "cron:*/2 * * * *" or "@every 2m".
	RefreshEvery    string  `json:"refresh_every"`
	RefreshTimeout  string  `json:"refresh_timeout,omitempty"`
	RefreshWorkers  int     `json:"refresh_workers"`
	DefaultMessages int     `json:"default_messages"`
	PastLimit       int     `json:"past_limit"`
	EditRatePerSec  float64 `json:"edit_rate_per_sec"`
}

type CommandsConfig struct {
	Timeout   string `json:"timeout"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// OpsConfig controls the HTTP endpoint serving /metrics, /healthz and pprof.
// Bind to loopback, or set a token, or set allow_insecure explicitly.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

const (
	DefaultTimezone        = "Asia/Tokyo"
	DefaultRefreshEvery    = "2m"
	DefaultRefreshWorkers  = 4
	DefaultMessages        = 2
	MaxMessages            = 5
	DefaultEditRatePerSec  = 1.0
	DefaultCommandTimeout  = 30 * time.Second
	DefaultCommandWorkers  = 4
	DefaultOpsAddr         = "127.0.0.1:9090"
	DefaultStorageDriver   = "file"
	DefaultStorageDir      = "./data"
	DefaultSQLitePath      = "./data/schedbot.db"
	DefaultRefreshDeadline = 45 * time.Second
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.Driver == "file" && strings.TrimSpace(c.Storage.Dir) == "" {
		c.Storage.Dir = DefaultStorageDir
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultSQLitePath
	}

	s := &c.Schedule
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(s.Markup) == "" {
		s.Markup = schedule.MarkupTelegramHTML
	}
	if strings.TrimSpace(s.RefreshEvery) == "" {
		s.RefreshEvery = DefaultRefreshEvery
	}
	if s.RefreshWorkers <= 0 {
		s.RefreshWorkers = DefaultRefreshWorkers
	}
	if s.DefaultMessages <= 0 {
		s.DefaultMessages = DefaultMessages
	}
	if s.PastLimit <= 0 {
		s.PastLimit = schedule.DefaultPastLimit
	}
	if s.EditRatePerSec <= 0 {
		s.EditRatePerSec = DefaultEditRatePerSec
	}

	if c.Commands.Workers <= 0 {
		c.Commands.Workers = DefaultCommandWorkers
	}
	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = DefaultOpsAddr
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set SCHEDBOT_TOKEN)")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		add("logging.telegram.chat_id is required when the telegram sink is enabled")
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := schedule.MarkupByName(c.Schedule.Markup, time.UTC); err != nil {
		add("schedule.markup: %v", err)
	}
	if c.Schedule.DefaultMessages > MaxMessages {
		add("schedule.default_messages must be between 1 and %d", MaxMessages)
	}
	if _, err := ParseDurationField("schedule.refresh_timeout", c.Schedule.RefreshTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("commands.timeout", c.Commands.Timeout); err != nil {
		errs = append(errs, err)
	}

	if c.Ops.Enabled {
		for path, raw := range map[string]string{
			"ops.read_timeout":  c.Ops.ReadTimeout,
			"ops.write_timeout": c.Ops.WriteTimeout,
			"ops.idle_timeout":  c.Ops.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Location loads the display zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// LogxConfig maps the logging section onto the logx service config.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
