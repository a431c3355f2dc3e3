package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Fixed-width UTC layout so stored instants sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	log.Info("sqlite store opened", logx.String("path", path), logx.String("size", humanize.Bytes(uint64(size))))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const guildColumns = `guild_id, chat_id, thread_id, message_ids, editor_ids, enabled, talent, description, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuild(r rowScanner) (schedule.GuildConfig, error) {
	var (
		g                    schedule.GuildConfig
		msgs, editors        string
		talent, desc         sql.NullString
		createdAt, updatedAt string
	)
	if err := r.Scan(&g.GuildID, &g.ChatID, &g.ThreadID, &msgs, &editors, &g.Enabled, &talent, &desc, &createdAt, &updatedAt); err != nil {
		return g, err
	}
	if err := json.Unmarshal([]byte(msgs), &g.MessageIDs); err != nil {
		return g, fmt.Errorf("guild %d message_ids: %w", g.GuildID, err)
	}
	if err := json.Unmarshal([]byte(editors), &g.EditorIDs); err != nil {
		return g, fmt.Errorf("guild %d editor_ids: %w", g.GuildID, err)
	}
	g.Talent = talent.String
	g.Description = desc.String
	g.CreatedAt = parseTS(createdAt)
	g.UpdatedAt = parseTS(updatedAt)
	return g, nil
}

func (s *sqliteStore) GetGuild(ctx context.Context, guildID int64) (schedule.GuildConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+guildColumns+` FROM guilds WHERE guild_id = ?`, guildID)
	g, err := scanGuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.GuildConfig{}, ErrNotFound
	}
	return g, err
}

func (s *sqliteStore) PutGuild(ctx context.Context, g schedule.GuildConfig) error {
	msgs, err := json.Marshal(nonNilInts(g.MessageIDs))
	if err != nil {
		return err
	}
	editors, err := json.Marshal(nonNilInt64s(g.EditorIDs))
	if err != nil {
		return err
	}
	now := nowUTC()
	created := g.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guilds(`+guildColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		   chat_id=excluded.chat_id, thread_id=excluded.thread_id,
		   message_ids=excluded.message_ids, editor_ids=excluded.editor_ids,
		   enabled=excluded.enabled, talent=excluded.talent,
		   description=excluded.description, updated_at=excluded.updated_at`,
		g.GuildID, g.ChatID, g.ThreadID, string(msgs), string(editors), g.Enabled,
		nullStr(g.Talent), nullStr(g.Description), formatTS(created), formatTS(now),
	)
	return err
}

func (s *sqliteStore) DeleteGuild(ctx context.Context, guildID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM guilds WHERE guild_id = ?`, guildID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE guild_id = ?`, guildID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListGuilds(ctx context.Context, enabledOnly bool) ([]schedule.GuildConfig, error) {
	q := `SELECT ` + guildColumns + ` FROM guilds`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.GuildConfig
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const eventColumns = `guild_id, event_id, title, datetime, gran_year, gran_month, gran_day, type, stashed, url, note, created_at, updated_at`

func scanEvent(r rowScanner) (schedule.Event, error) {
	var (
		e                    schedule.Event
		dt, url, note        sql.NullString
		typ                  int
		createdAt, updatedAt string
	)
	err := r.Scan(&e.GuildID, &e.ID, &e.Title, &dt,
		&e.Granularity.Year, &e.Granularity.Month, &e.Granularity.Day,
		&typ, &e.Stashed, &url, &note, &createdAt, &updatedAt)
	if err != nil {
		return e, err
	}
	if dt.Valid {
		e.Datetime = parseTS(dt.String)
	}
	e.Type = schedule.EventType(typ)
	e.URL = url.String
	e.Note = note.String
	e.CreatedAt = parseTS(createdAt)
	e.UpdatedAt = parseTS(updatedAt)
	return e, nil
}

func eventArgs(e schedule.Event) []any {
	var dt any
	if e.HasTime() {
		dt = formatTS(e.Datetime)
	}
	return []any{
		e.GuildID, e.ID, e.Title, dt,
		e.Granularity.Year, e.Granularity.Month, e.Granularity.Day,
		int(e.Type), e.Stashed, nullStr(e.URL), nullStr(e.Note),
		formatTS(e.CreatedAt), formatTS(e.UpdatedAt),
	}
}

func (s *sqliteStore) CreateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT event_id FROM events WHERE guild_id = ?`, e.GuildID)
	if err != nil {
		return schedule.Event{}, err
	}
	taken := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return schedule.Event{}, err
		}
		taken[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return schedule.Event{}, err
	}

	id, err := pickEventID(taken)
	if err != nil {
		return schedule.Event{}, err
	}
	now := nowUTC()
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	e = normalizeEvent(e)

	if _, err := tx.ExecContext(ctx, `INSERT INTO events(`+eventColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`, eventArgs(e)...); err != nil {
		return schedule.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return schedule.Event{}, err
	}
	return e, nil
}

func (s *sqliteStore) GetEvent(ctx context.Context, guildID int64, eventID string) (schedule.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE guild_id = ? AND event_id = ?`, guildID, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Event{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error) {
	prev, err := s.GetEvent(ctx, e.GuildID, e.ID)
	if err != nil {
		return schedule.Event{}, err
	}
	e.CreatedAt = prev.CreatedAt
	e.UpdatedAt = nowUTC()
	e = normalizeEvent(e)

	var dt any
	if e.HasTime() {
		dt = formatTS(e.Datetime)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET title=?, datetime=?, gran_year=?, gran_month=?, gran_day=?,
		   type=?, stashed=?, url=?, note=?, updated_at=?
		 WHERE guild_id = ? AND event_id = ?`,
		e.Title, dt, e.Granularity.Year, e.Granularity.Month, e.Granularity.Day,
		int(e.Type), e.Stashed, nullStr(e.URL), nullStr(e.Note), formatTS(e.UpdatedAt),
		e.GuildID, e.ID,
	)
	if err != nil {
		return schedule.Event{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.Event{}, ErrNotFound
	}
	return e, nil
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, guildID int64, eventID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE guild_id = ? AND event_id = ?`, guildID, eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListEvents(ctx context.Context, guildID int64) ([]schedule.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE guild_id = ? ORDER BY rowid`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEvents(ctx context.Context, guildID int64, filter EventFilter, now time.Time) (int, error) {
	var (
		res sql.Result
		err error
	)
	switch filter {
	case FilterFuture:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM events WHERE guild_id = ? AND (datetime IS NULL OR datetime > ?)`,
			guildID, formatTS(now))
	case FilterPast:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM events WHERE guild_id = ? AND datetime IS NOT NULL AND datetime <= ?`,
			guildID, formatTS(now))
	default:
		res, err = s.db.ExecContext(ctx, `DELETE FROM events WHERE guild_id = ?`, guildID)
	}
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, guild_id, user_id, username, action, event_id, detail) VALUES(?,?,?,?,?,?,?)`,
		formatTS(e.At), e.GuildID, e.UserID, nullStr(e.Username), e.Action, nullStr(e.EventID), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, guildID int64, limit int) ([]AuditEntry, error) {
	q := `SELECT at, guild_id, user_id, username, action, event_id, detail FROM audit WHERE guild_id = ? ORDER BY id DESC`
	args := []any{guildID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                         AuditEntry
			at                        string
			username, eventID, detail sql.NullString
		)
		if err := rows.Scan(&at, &e.GuildID, &e.UserID, &username, &e.Action, &eventID, &detail); err != nil {
			return nil, err
		}
		e.At = parseTS(at)
		e.Username = username.String
		e.EventID = eventID.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC()
		}
		return time.Time{}
	}
	return t.UTC()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilInt64s(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
