package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "schedbot/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the config after the file changes until ctx ends. The
// directory is watched so editors that replace the file by rename are
// seen. A failed watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	wait := rewatchMin
	for {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher failed; recreating", logx.Err(err), logx.Duration("in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait + rand.N(wait/2+1)):
		}
		wait = min(wait*2, rewatchMax)
	}
}

// watchOnce runs one watcher. Reloads happen on this goroutine so two
// never overlap.
func (m *ConfigManager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == file && ev.Op != fsnotify.Chmod {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading")
				debounce.Reset(reloadDebounce)
				continue
			}
			return err
		case <-debounce.C:
			m.reloadLogged(ctx)
		}
	}
}

func (m *ConfigManager) reloadLogged(ctx context.Context) {
	published, err := m.Reload(ctx)
	switch {
	case err != nil:
		m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
	case !published:
		m.log.Debug("config file touched, content unchanged")
	}
}
