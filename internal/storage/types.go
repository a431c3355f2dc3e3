package storage

import (
	"context"
	"errors"
	"time"

	"schedbot/internal/schedule"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot (<Dir>/state.json) plus JSON Lines audit log
//   - "sqlite": SQLite database at Path
type Config struct {
	Driver      string
	Dir         string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// EventFilter selects events for bulk deletion.
type EventFilter int

const (
	FilterAll EventFilter = iota
	// FilterFuture matches events after now and events without a time.
	FilterFuture
	// FilterPast matches timed events at or before now.
	FilterPast
)

// Match reports whether e falls under f as of now.
func (f EventFilter) Match(e schedule.Event, now time.Time) bool {
	switch f {
	case FilterFuture:
		return !e.HasTime() || e.Datetime.After(now)
	case FilterPast:
		return e.HasTime() && !e.Datetime.After(now)
	default:
		return true
	}
}

// AuditEntry records one mutating command.
type AuditEntry struct {
	At       time.Time `json:"at"`
	GuildID  int64     `json:"guild_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Action   string    `json:"action"`
	EventID  string    `json:"event_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Store persists guild schedule configs, their events and the audit log.
// Instants are stored in UTC.
type Store interface {
	GetGuild(ctx context.Context, guildID int64) (schedule.GuildConfig, error)
	PutGuild(ctx context.Context, g schedule.GuildConfig) error
	DeleteGuild(ctx context.Context, guildID int64) error
	ListGuilds(ctx context.Context, enabledOnly bool) ([]schedule.GuildConfig, error)

	// CreateEvent assigns a free 4-digit id and returns the stored event.
	CreateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error)
	GetEvent(ctx context.Context, guildID int64, eventID string) (schedule.Event, error)
	UpdateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error)
	DeleteEvent(ctx context.Context, guildID int64, eventID string) error
	// ListEvents returns a guild's events in creation order.
	ListEvents(ctx context.Context, guildID int64) ([]schedule.Event, error)
	DeleteEvents(ctx context.Context, guildID int64, filter EventFilter, now time.Time) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns up to limit entries for a guild, newest first.
	ListAudit(ctx context.Context, guildID int64, limit int) ([]AuditEntry, error)

	Close() error
}
