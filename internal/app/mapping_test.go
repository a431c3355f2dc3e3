package app

import (
	"strings"
	"testing"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/schedule"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Logging.Level = "info"
	cfg.ApplyDefaults()
	return cfg
}

func TestStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := storageConfig(cfg)
	if err != nil || sc.Driver != "file" || sc.Dir != config.DefaultStorageDir {
		t.Fatalf("file storage = %+v, %v", sc, err)
	}

	cfg.Storage = config.StorageConfig{Driver: "sqlite", Path: "/tmp/x.db"}
	if sc, err = storageConfig(cfg); err != nil || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("sqlite storage = %+v, %v", sc, err)
	}
	cfg.Storage.BusyTimeout = "250ms"
	if sc, _ = storageConfig(cfg); sc.BusyTimeout != 250*time.Millisecond {
		t.Fatalf("busy timeout = %v", sc.BusyTimeout)
	}
	cfg.Storage.BusyTimeout = "soon"
	if _, err = storageConfig(cfg); err == nil || !strings.Contains(err.Error(), "storage.busy_timeout") {
		t.Fatalf("bad busy timeout err = %v", err)
	}
	cfg.Storage.Driver = "redis"
	if _, err = storageConfig(cfg); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestRefresherConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	rc, err := refresherConfig(cfg)
	if err != nil {
		t.Fatalf("refresherConfig: %v", err)
	}
	if rc.Location.String() != config.DefaultTimezone || rc.Every != config.DefaultRefreshEvery ||
		rc.Timeout != config.DefaultRefreshDeadline || rc.Workers != config.DefaultRefreshWorkers {
		t.Fatalf("defaults = %+v", rc)
	}
	if _, ok := rc.Markup.(schedule.TelegramHTML); !ok {
		t.Fatalf("markup = %T, want TelegramHTML", rc.Markup)
	}

	cfg.Schedule.Markup = schedule.MarkupDiscord
	cfg.Schedule.RefreshTimeout = "10s"
	if rc, err = refresherConfig(cfg); err != nil || rc.Timeout != 10*time.Second {
		t.Fatalf("discord config = %+v, %v", rc, err)
	}
	if _, ok := rc.Markup.(schedule.DiscordMarkup); !ok {
		t.Fatalf("markup = %T, want DiscordMarkup", rc.Markup)
	}

	cfg.Schedule.Timezone = "Mars/Olympus"
	if _, err = refresherConfig(cfg); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestRouterAndOpsConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Telegram.OwnerUserIDs = []int64{7}
	ro, err := routerOptions(cfg)
	if err != nil || ro.Timeout != config.DefaultCommandTimeout || ro.Workers != config.DefaultCommandWorkers || ro.Owners[0] != 7 {
		t.Fatalf("router options = %+v, %v", ro, err)
	}
	cfg.Commands.Timeout = "nope"
	if _, err = routerOptions(cfg); err == nil {
		t.Fatal("bad commands.timeout accepted")
	}

	cfg.Ops = config.OpsConfig{Enabled: true, Addr: "127.0.0.1:0", ReadTimeout: "2s"}
	oc := opsConfig(cfg)
	if !oc.Enabled || oc.ReadTimeout != 2*time.Second || oc.WriteTimeout != 30*time.Second {
		t.Fatalf("ops config = %+v", oc)
	}
	if pc := pluginConfig(cfg); pc.DefaultMessages != config.DefaultMessages {
		t.Fatalf("plugin config = %+v", pc)
	}
}
