package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "bot.db")
			st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func TestGuildRoundTrip(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			if _, err := st.GetGuild(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetGuild missing err = %v", err)
			}
			g := schedule.GuildConfig{
				GuildID: -100, ChatID: -100, ThreadID: 7,
				MessageIDs: []int{10, 11}, EditorIDs: []int64{42},
				Enabled: true, Talent: "Alice", Description: "Weekly streams",
			}
			if err := st.PutGuild(ctx, g); err != nil {
				t.Fatalf("PutGuild: %v", err)
			}
			got, err := st.GetGuild(ctx, -100)
			if err != nil {
				t.Fatalf("GetGuild: %v", err)
			}
			if got.ThreadID != 7 || len(got.MessageIDs) != 2 || got.MessageIDs[1] != 11 ||
				!got.IsEditor(42) || got.Talent != "Alice" || !got.Enabled || got.CreatedAt.IsZero() {
				t.Fatalf("GetGuild = %+v", got)
			}

			g.Enabled = false
			if err := st.PutGuild(ctx, g); err != nil {
				t.Fatalf("PutGuild update: %v", err)
			}
			if err := st.PutGuild(ctx, schedule.GuildConfig{GuildID: 5, ChatID: 5, Enabled: true}); err != nil {
				t.Fatalf("PutGuild second: %v", err)
			}
			all, _ := st.ListGuilds(ctx, false)
			enabled, _ := st.ListGuilds(ctx, true)
			if len(all) != 2 || len(enabled) != 1 || enabled[0].GuildID != 5 {
				t.Fatalf("ListGuilds all=%d enabled=%+v", len(all), enabled)
			}

			if err := st.DeleteGuild(ctx, 5); err != nil {
				t.Fatalf("DeleteGuild: %v", err)
			}
			if err := st.DeleteGuild(ctx, 5); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteGuild twice err = %v", err)
			}
		})
	}
}

func TestEventLifecycle(t *testing.T) {
	t.Parallel()
	jst := time.FixedZone("JST", 9*3600)
	when := time.Date(2024, 8, 18, 20, 0, 0, 0, jst)

	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			var ids []string
			for _, title := range []string{"first", "second", "third"} {
				e, err := st.CreateEvent(ctx, schedule.Event{
					GuildID: 1, Title: title, Datetime: when,
					Granularity: schedule.DayGranularity, Type: schedule.TypeVideo,
				})
				if err != nil {
					t.Fatalf("CreateEvent: %v", err)
				}
				if len(e.ID) != 4 {
					t.Fatalf("event id %q is not 4 digits", e.ID)
				}
				ids = append(ids, e.ID)
			}

			list, err := st.ListEvents(ctx, 1)
			if err != nil || len(list) != 3 {
				t.Fatalf("ListEvents = %d, %v", len(list), err)
			}
			for i, e := range list {
				if e.ID != ids[i] {
					t.Fatalf("ListEvents order = %v, want creation order %v", list, ids)
				}
			}
			if !list[0].Datetime.Equal(when) || list[0].Type != schedule.TypeVideo || !list[0].Granularity.Day {
				t.Fatalf("stored event = %+v", list[0])
			}

			e := list[1]
			e.Title = "renamed"
			e.Stashed = true
			e.URL = "https://example.com"
			e.Datetime = time.Time{}
			e.Granularity = schedule.Granularity{}
			if _, err := st.UpdateEvent(ctx, e); err != nil {
				t.Fatalf("UpdateEvent: %v", err)
			}
			got, err := st.GetEvent(ctx, 1, e.ID)
			if err != nil {
				t.Fatalf("GetEvent: %v", err)
			}
			if got.Title != "renamed" || !got.Stashed || got.HasTime() || got.URL != "https://example.com" {
				t.Fatalf("updated event = %+v", got)
			}

			if _, err := st.UpdateEvent(ctx, schedule.Event{GuildID: 1, ID: "zzzz"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateEvent missing err = %v", err)
			}
			if err := st.DeleteEvent(ctx, 1, ids[0]); err != nil {
				t.Fatalf("DeleteEvent: %v", err)
			}
			if _, err := st.GetEvent(ctx, 1, ids[0]); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetEvent deleted err = %v", err)
			}
			if other, _ := st.ListEvents(ctx, 2); len(other) != 0 {
				t.Fatalf("events leaked across guilds: %v", other)
			}
		})
	}
}

func TestDeleteEventsFilter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 8, 15, 12, 0, 0, 0, time.UTC)
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			seed := func() {
				for _, dt := range []time.Time{now.Add(-time.Hour), now, now.Add(time.Hour), {}} {
					if _, err := st.CreateEvent(ctx, schedule.Event{GuildID: 1, Title: "x", Datetime: dt}); err != nil {
						t.Fatalf("CreateEvent: %v", err)
					}
				}
			}

			seed()
			if n, err := st.DeleteEvents(ctx, 1, FilterPast, now); err != nil || n != 2 {
				t.Fatalf("DeleteEvents past = %d, %v", n, err)
			}
			if n, err := st.DeleteEvents(ctx, 1, FilterFuture, now); err != nil || n != 2 {
				t.Fatalf("DeleteEvents future = %d, %v", n, err)
			}
			seed()
			if n, err := st.DeleteEvents(ctx, 1, FilterAll, now); err != nil || n != 4 {
				t.Fatalf("DeleteEvents all = %d, %v", n, err)
			}
		})
	}
}

func TestAuditNewestFirst(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			for _, action := range []string{"add", "edit", "delete"} {
				if err := st.AppendAudit(ctx, AuditEntry{GuildID: 1, UserID: 42, Action: action, EventID: "0001"}); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}
			_ = st.AppendAudit(ctx, AuditEntry{GuildID: 2, UserID: 1, Action: "add"})

			got, err := st.ListAudit(ctx, 1, 2)
			if err != nil {
				t.Fatalf("ListAudit: %v", err)
			}
			if len(got) != 2 || got[0].Action != "delete" || got[1].Action != "edit" || got[0].At.IsZero() {
				t.Fatalf("ListAudit = %+v", got)
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.PutGuild(ctx, schedule.GuildConfig{GuildID: 3, ChatID: 3, Enabled: true, MessageIDs: []int{1}})
	e, err := st.CreateEvent(ctx, schedule.Event{GuildID: 3, Title: "persisted"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := st.ListEvents(ctx, 3); !errors.Is(err, ErrClosed) {
		t.Fatalf("ListEvents after close err = %v", err)
	}

	st2, err := Open(Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.GetEvent(ctx, 3, e.ID)
	if err != nil || got.Title != "persisted" {
		t.Fatalf("GetEvent after reopen = %+v, %v", got, err)
	}
}

func TestPickEventIDExhaustion(t *testing.T) {
	t.Parallel()
	taken := map[string]bool{}
	for n := 0; n < eventIDSpace-1; n++ {
		taken[formatEventID(n)] = true
	}
	id, err := pickEventID(taken)
	if err != nil || id != "9999" {
		t.Fatalf("pickEventID = %q, %v", id, err)
	}
	taken["9999"] = true
	if _, err := pickEventID(taken); !errors.Is(err, ErrConflict) {
		t.Fatalf("pickEventID full err = %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
