package schedule

import (
	"context"
	"errors"
	"slices"
	"testing"

	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
)

// prepare builds a request and runs validators on it, the way the router
// does before a handler gets the request.
func (f *fixture) prepare(t *testing.T, command string, args []string, flags map[string]string, vs ...router.Validator) *router.Request {
	t.Helper()
	req := &router.Request{
		Chat:    kit.ChatTarget{ChatID: chat},
		FromID:  admin,
		Command: command,
		Args:    args,
		RawArgs: args,
		Flags:   flags,
		Adapter: f.fake,
		Logger:  logx.Nop(),
	}
	for _, v := range vs {
		if verdict := v(context.Background(), req); !verdict.OK {
			t.Fatalf("%s: validator failed: %s", command, verdict.Reason)
		}
	}
	return req
}

func TestHandlersWriteOverStoredGuild(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	p := f.plugin

	tests := []struct {
		name    string
		handler router.HandlerFunc
		args    []string
		check   func(t *testing.T, editors []int64, talent string, enabled bool)
	}{
		{
			name:    "talent",
			handler: p.handleHeader("talent"),
			args:    []string{"Alice"},
			check: func(t *testing.T, editors []int64, talent string, enabled bool) {
				if talent != "Alice" {
					t.Fatalf("talent = %q", talent)
				}
			},
		},
		{
			name:    "disable",
			handler: p.handleEnable(false),
			check: func(t *testing.T, editors []int64, talent string, enabled bool) {
				if enabled {
					t.Fatal("schedule still enabled")
				}
			},
		},
		{
			name:    "editors add",
			handler: p.handleEditorsChange(true),
			args:    []string{"77"},
			check: func(t *testing.T, editors []int64, talent string, enabled bool) {
				if !slices.Contains(editors, 77) {
					t.Fatalf("editors = %v, want 77 added", editors)
				}
			},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := []router.Validator{p.GuildSetup()}
			if tt.name == "editors add" {
				vs = append(vs, userIDArg())
			}
			req := f.prepare(t, tt.name, tt.args, nil, vs...)

			// A /setup and an /editors add land between the validator
			// snapshot and the handler.
			g, err := f.store.GetGuild(ctx, chat)
			if err != nil {
				t.Fatalf("GetGuild: %v", err)
			}
			var ids []int
			for range 2 {
				ref, err := f.fake.SendText(ctx, kit.ChatTarget{ChatID: chat}, "·", nil)
				if err != nil {
					t.Fatalf("SendText: %v", err)
				}
				ids = append(ids, ref.MessageID)
			}
			editor := int64(100 + i)
			g.MessageIDs = ids
			g.EditorIDs = append(g.EditorIDs, editor)
			if err := f.store.PutGuild(ctx, g); err != nil {
				t.Fatalf("PutGuild: %v", err)
			}

			if err := tt.handler(ctx, req); err != nil {
				t.Fatalf("handler: %v", err)
			}
			got, err := f.store.GetGuild(ctx, chat)
			if err != nil {
				t.Fatalf("GetGuild: %v", err)
			}
			if !slices.Equal(got.MessageIDs, ids) {
				t.Fatalf("message ids = %v, want %v", got.MessageIDs, ids)
			}
			if !slices.Contains(got.EditorIDs, editor) {
				t.Fatalf("editors = %v, lost %d", got.EditorIDs, editor)
			}
			tt.check(t, got.EditorIDs, got.Talent, got.Enabled)
		})
	}
}

func TestLateHeaderDoesNotRecreateGuild(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	req := f.prepare(t, "talent", []string{"Alice"}, nil, f.plugin.GuildSetup())
	if err := f.store.DeleteGuild(ctx, chat); err != nil {
		t.Fatalf("DeleteGuild: %v", err)
	}
	err := f.plugin.handleHeader("talent")(ctx, req)
	if _, ok := router.IsRejection(err); !ok {
		t.Fatalf("handler err = %v, want rejection", err)
	}
	if _, err := f.store.GetGuild(ctx, chat); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetGuild err = %v, want ErrNotFound", err)
	}
}

func TestEventHandlersWriteOverStoredEvent(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	p := f.plugin
	e := f.add(t, "/add title=Debut date=8/20")

	rename := func(title string) {
		t.Helper()
		cur, err := f.store.GetEvent(ctx, chat, e.ID)
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		cur.Title = title
		if _, err := f.store.UpdateEvent(ctx, cur); err != nil {
			t.Fatalf("UpdateEvent: %v", err)
		}
	}

	req := f.prepare(t, "stash", []string{e.ID}, nil, p.GuildSetup(), p.EventExists())
	rename("Renamed")
	if err := p.handleStash(true)(ctx, req); err != nil {
		t.Fatalf("stash: %v", err)
	}
	got, err := f.store.GetEvent(ctx, chat, e.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !got.Stashed || got.Title != "Renamed" {
		t.Fatalf("after stash: stashed=%v title=%q", got.Stashed, got.Title)
	}

	req = f.prepare(t, "edit", []string{e.ID}, map[string]string{"note": "3D live"},
		p.GuildSetup(), p.EventExists(), p.EventFields(flagFields))
	rename("Birthday")
	if err := p.handleEdit(ctx, req); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got, err = f.store.GetEvent(ctx, chat, e.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Note != "3D live" || got.Title != "Birthday" || !got.Stashed {
		t.Fatalf("after edit: note=%q title=%q stashed=%v", got.Note, got.Title, got.Stashed)
	}

	req = f.prepare(t, "unstash", []string{e.ID}, nil, p.GuildSetup(), p.EventExists())
	if err := f.store.DeleteEvent(ctx, chat, e.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	err = p.handleStash(false)(ctx, req)
	if _, ok := router.IsRejection(err); !ok {
		t.Fatalf("unstash of deleted event: err = %v, want rejection", err)
	}
	if _, err := f.store.GetEvent(ctx, chat, e.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetEvent err = %v, want ErrNotFound", err)
	}
}
