package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
  file: { enabled: false, path: "" }
  telegram: { enabled: false, chat_id: 0, min_level: warn, rate_per_sec: 1 }
storage:
  driver: sqlite
  path: ./state/bot.db
  busy_timeout: 5s
schedule:
  timezone: Asia/Tokyo
  markup: discord
  refresh_every: "@every 1m"
  refresh_workers: 2
  default_messages: 3
  past_limit: 5
  edit_rate_per_sec: 0.5
commands:
  timeout: 20s
  workers: 2
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(TokenEnv, "")
	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./state/bot.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	s := cfg.Schedule
	if s.Markup != "discord" || s.DefaultMessages != 3 || s.PastLimit != 5 || s.EditRatePerSec != 0.5 {
		t.Fatalf("schedule = %+v", s)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	cfg, err := Decode("config.yaml", []byte("telegram: { token: t }\n"))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Dir != DefaultStorageDir {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	s := cfg.Schedule
	if s.Timezone != DefaultTimezone || s.Markup != "telegram_html" || s.RefreshEvery != DefaultRefreshEvery ||
		s.DefaultMessages != DefaultMessages || s.PastLimit != 3 || s.RefreshWorkers != DefaultRefreshWorkers {
		t.Fatalf("schedule defaults = %+v", s)
	}
	loc, err := s.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")
	cfg, err := Decode("config.yaml", []byte("schedule: { timezone: UTC }\n"))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Setenv(TokenEnv, "")
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "unknown field", file: "c.yaml", body: "telegram: { token: t, tokn: x }\n", want: "unknown field"},
		{name: "missing token", file: "c.yaml", body: "logging: { level: info }\n", want: "telegram.token"},
		{name: "bad zone", file: "c.yaml", body: "telegram: { token: t }\nschedule: { timezone: Mars/Olympus }\n", want: "schedule.timezone"},
		{name: "bad markup", file: "c.yaml", body: "telegram: { token: t }\nschedule: { markup: bbcode }\n", want: "schedule.markup"},
		{name: "too many messages", file: "c.yaml", body: "telegram: { token: t }\nschedule: { default_messages: 9 }\n", want: "default_messages"},
		{name: "bad duration", file: "c.yaml", body: "telegram: { token: t }\ncommands: { timeout: soon }\n", want: "commands.timeout"},
		{name: "bad driver", file: "c.yaml", body: "telegram: { token: t }\nstorage: { driver: mongo }\n", want: "storage.driver"},
		{name: "bad level", file: "c.yaml", body: "telegram: { token: t }\nlogging: { level: loud }\n", want: "logging.level"},
		{name: "json trailing data", file: "c.json", body: `{"telegram":{"token":"t"}} {}`, want: "trailing data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
	if d := DurationOr("nope", time.Second); d != time.Second {
		t.Fatalf("DurationOr = %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "a"}, Ops: OpsConfig{Token: "secret"}}
	b := *a
	b.Schedule.Markup = "discord"
	b.Ops.Token = "other-secret"

	changed, attrs := SummarizeConfigChange(a, &b)
	if len(changed) != 1 || changed[0] != "schedule" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for schedule change")
	}
	if got := RestartRequired([]string{"logging", "storage", "telegram"}); len(got) != 2 {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestWatchPublishesChange(t *testing.T) {
	t.Setenv(TokenEnv, "")
	path := writeConfig(t, "config.yaml", "telegram: { token: t }\nschedule: { past_limit: 3 }\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Schedule.PastLimit != 7 {
				t.Fatalf("published past_limit = %d", cfg.Schedule.PastLimit)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees it.
			_ = os.WriteFile(path, []byte("telegram: { token: t }\nschedule: { past_limit: 7 }\n"), 0o644)
		case <-deadline:
			t.Fatal("no config published after file change")
		}
	}
}

func TestReload(t *testing.T) {
	t.Setenv(TokenEnv, "")
	path := writeConfig(t, "config.yaml", "telegram: { token: t }\nschedule: { past_limit: 3 }\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	// Formatting only.
	_ = os.WriteFile(path, []byte("# comment\ntelegram:  { token: t }\nschedule: { past_limit: 3 }\n"), 0o644)
	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Schedule.PastLimit > 5 {
			return errors.New("too many")
		}
		return nil
	})
	_ = os.WriteFile(path, []byte("telegram: { token: t }\nschedule: { past_limit: 9 }\n"), 0o644)
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected reload = %v, %v", ok, err)
	}
	if m.Get().Schedule.PastLimit != 3 {
		t.Fatalf("rejected config committed: %d", m.Get().Schedule.PastLimit)
	}

	_ = os.WriteFile(path, []byte("telegram: { token: t }\nschedule: { past_limit: 4 }\n"), 0o644)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("changed reload = %v, %v", ok, err)
	}
	// A second publish replaces the pending one in the full channel.
	_ = os.WriteFile(path, []byte("telegram: { token: t }\nschedule: { past_limit: 5 }\n"), 0o644)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("second reload = %v, %v", ok, err)
	}
	if cfg := <-sub; cfg.Schedule.PastLimit != 5 {
		t.Fatalf("subscriber got past_limit %d, want newest", cfg.Schedule.PastLimit)
	}
}

func TestYAMLEnvExpansion(t *testing.T) {
	t.Setenv("SCHEDBOT_TEST_SUFFIX", "abc")
	cfg, err := Decode("c.yaml", []byte("telegram: { token: \"123:${SCHEDBOT_TEST_SUFFIX}\" }\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}

	_, err = Decode("c.yaml", []byte("logging: { level: info }\ntelegram:\n  token: ${SCHEDBOT_TEST_UNSET_VAR}\n"))
	if err == nil || !strings.Contains(err.Error(), "SCHEDBOT_TEST_UNSET_VAR") || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("unset variable err = %v", err)
	}

	_, err = Decode("c.yaml", []byte("base: &b { token: t }\ntelegram:\n  <<: *b\n"))
	if err == nil || !strings.Contains(err.Error(), "merge keys") {
		t.Fatalf("merge key err = %v", err)
	}
}
