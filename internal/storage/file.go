package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

// fileStore keeps everything in memory and persists to a directory.
//
// Files:
//   - <dir>/state.json  (full snapshot, rewritten atomically on every mutation)
//   - <dir>/audit.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	auditPath string
	auditFile *os.File

	guilds map[int64]schedule.GuildConfig
	events map[int64][]schedule.Event // creation order
}

type fileState struct {
	Guilds []schedule.GuildConfig `json:"guilds"`
	Events []schedule.Event       `json:"events"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("storage.dir is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		statePath: filepath.Join(dir, "state.json"),
		auditPath: filepath.Join(dir, "audit.jsonl"),
		guilds:    map[int64]schedule.GuildConfig{},
		events:    map[int64][]schedule.Event{},
	}
	size, err := s.loadState()
	if err != nil {
		return nil, err
	}

	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af

	log.Info("file store opened",
		logx.String("dir", dir),
		logx.Int("guilds", len(s.guilds)),
		logx.String("state_size", humanize.Bytes(uint64(size))),
	)
	return s, nil
}

func (s *fileStore) loadState() (int64, error) {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return 0, fmt.Errorf("decode %s: %w", s.statePath, err)
	}
	for _, g := range st.Guilds {
		s.guilds[g.GuildID] = g
	}
	for _, e := range st.Events {
		s.events[e.GuildID] = append(s.events[e.GuildID], e)
	}
	return int64(len(b)), nil
}

// persistLocked writes a snapshot next to the state file and renames it into place.
func (s *fileStore) persistLocked() error {
	st := fileState{
		Guilds: make([]schedule.GuildConfig, 0, len(s.guilds)),
	}
	ids := make([]int64, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	for id := range s.events {
		if _, ok := s.guilds[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if g, ok := s.guilds[id]; ok {
			st.Guilds = append(st.Guilds, g)
		}
		st.Events = append(st.Events, s.events[id]...)
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) checkOpenLocked() error {
	if s.auditFile == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) GetGuild(ctx context.Context, guildID int64) (schedule.GuildConfig, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return schedule.GuildConfig{}, err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return schedule.GuildConfig{}, ErrNotFound
	}
	return cloneGuild(g), nil
}

func (s *fileStore) PutGuild(ctx context.Context, g schedule.GuildConfig) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	now := nowUTC()
	if prev, ok := s.guilds[g.GuildID]; ok {
		g.CreatedAt = prev.CreatedAt
	} else if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	s.guilds[g.GuildID] = cloneGuild(g)
	return s.persistLocked()
}

func (s *fileStore) DeleteGuild(ctx context.Context, guildID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := s.guilds[guildID]; !ok {
		return ErrNotFound
	}
	delete(s.guilds, guildID)
	delete(s.events, guildID)
	return s.persistLocked()
}

func (s *fileStore) ListGuilds(ctx context.Context, enabledOnly bool) ([]schedule.GuildConfig, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	out := make([]schedule.GuildConfig, 0, len(s.guilds))
	for _, g := range s.guilds {
		if enabledOnly && !g.Enabled {
			continue
		}
		out = append(out, cloneGuild(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *fileStore) CreateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return schedule.Event{}, err
	}
	taken := make(map[string]bool, len(s.events[e.GuildID]))
	for _, ev := range s.events[e.GuildID] {
		taken[ev.ID] = true
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
	s.events[e.GuildID] = append(s.events[e.GuildID], e)
	if err := s.persistLocked(); err != nil {
		return schedule.Event{}, err
	}
	return e, nil
}

func (s *fileStore) indexLocked(guildID int64, eventID string) int {
	for i, e := range s.events[guildID] {
		if e.ID == eventID {
			return i
		}
	}
	return -1
}

func (s *fileStore) GetEvent(ctx context.Context, guildID int64, eventID string) (schedule.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return schedule.Event{}, err
	}
	i := s.indexLocked(guildID, eventID)
	if i < 0 {
		return schedule.Event{}, ErrNotFound
	}
	return s.events[guildID][i], nil
}

func (s *fileStore) UpdateEvent(ctx context.Context, e schedule.Event) (schedule.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return schedule.Event{}, err
	}
	i := s.indexLocked(e.GuildID, e.ID)
	if i < 0 {
		return schedule.Event{}, ErrNotFound
	}
	e.CreatedAt = s.events[e.GuildID][i].CreatedAt
	e.UpdatedAt = nowUTC()
	e = normalizeEvent(e)
	s.events[e.GuildID][i] = e
	if err := s.persistLocked(); err != nil {
		return schedule.Event{}, err
	}
	return e, nil
}

func (s *fileStore) DeleteEvent(ctx context.Context, guildID int64, eventID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	i := s.indexLocked(guildID, eventID)
	if i < 0 {
		return ErrNotFound
	}
	evs := s.events[guildID]
	s.events[guildID] = append(evs[:i:i], evs[i+1:]...)
	return s.persistLocked()
}

func (s *fileStore) ListEvents(ctx context.Context, guildID int64) ([]schedule.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	return append([]schedule.Event(nil), s.events[guildID]...), nil
}

func (s *fileStore) DeleteEvents(ctx context.Context, guildID int64, filter EventFilter, now time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}
	var keep []schedule.Event
	removed := 0
	for _, e := range s.events[guildID] {
		if filter.Match(e, now) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	if removed == 0 {
		return 0, nil
	}
	s.events[guildID] = keep
	return removed, s.persistLocked()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = nowUTC()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) ListAudit(ctx context.Context, guildID int64, limit int) ([]AuditEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line after a crash is skipped.
			continue
		}
		if e.GuildID == guildID {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneGuild(g schedule.GuildConfig) schedule.GuildConfig {
	g.MessageIDs = append([]int(nil), g.MessageIDs...)
	g.EditorIDs = append([]int64(nil), g.EditorIDs...)
	return g
}
