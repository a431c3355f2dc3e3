package schedule

import (
	"context"
	"errors"
	"fmt"

	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
)

// errUnchanged lets an update func skip the write.
var errUnchanged = errors.New("unchanged")

// updateGuild re-reads the guild under its lock, lets fn change the fresh
// copy and stores it. Validator snapshots are only used for checks; every
// write starts from the stored record.
func (p *Plugin) updateGuild(ctx context.Context, guildID int64, fn func(g *sched.GuildConfig) error) (sched.GuildConfig, error) {
	unlock, err := p.locks.Lock(ctx, guildID)
	if err != nil {
		return sched.GuildConfig{}, err
	}
	defer unlock()

	g, err := p.store.GetGuild(ctx, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return g, router.Reject("This chat has no schedule anymore. A chat admin can create one with /setup.")
	}
	if err != nil {
		return g, fmt.Errorf("load guild: %w", err)
	}
	if err := fn(&g); err != nil {
		return g, err
	}
	if err := p.store.PutGuild(ctx, g); err != nil {
		return g, fmt.Errorf("save guild: %w", err)
	}
	return g, nil
}

// updateEvent is updateGuild for one event.
func (p *Plugin) updateEvent(ctx context.Context, guildID int64, id string, fn func(e *sched.Event) error) (sched.Event, error) {
	unlock, err := p.locks.Lock(ctx, guildID)
	if err != nil {
		return sched.Event{}, err
	}
	defer unlock()

	e, err := p.store.GetEvent(ctx, guildID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return e, router.Reject("Event %s was deleted meanwhile.", id)
	}
	if err != nil {
		return e, fmt.Errorf("load event: %w", err)
	}
	if err := fn(&e); err != nil {
		return e, err
	}
	updated, err := p.store.UpdateEvent(ctx, e)
	if errors.Is(err, storage.ErrNotFound) {
		return e, router.Reject("Event %s was deleted meanwhile.", id)
	}
	if err != nil {
		return e, fmt.Errorf("update event: %w", err)
	}
	return updated, nil
}
