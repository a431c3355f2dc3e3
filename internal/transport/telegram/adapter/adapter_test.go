package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "schedbot/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	long := strings.Repeat("aaaa\n", 10) // 50 runes
	chunks := splitText(long, 12, "")
	for _, c := range chunks {
		if len([]rune(c)) > 12 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
		if strings.HasSuffix(c, "\n") || c == "" {
			t.Fatalf("chunk %q has a trailing newline or is empty", c)
		}
	}
	if strings.Join(chunks, "\n") != strings.TrimRight(long, "\n") {
		t.Fatalf("chunks lost content: %q", chunks)
	}

	html := "xxxxxxxx<b>bold</b>"
	got := splitText(html, 10, "HTML")
	if got[0] != "xxxxxxxx" || strings.Join(got, "") != html {
		t.Fatalf("HTML split cut inside a tag: %q", got)
	}
	if got := splitText(html, 10, ""); got[0] != "xxxxxxxx<b" {
		t.Fatalf("plain split = %q", got)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg  string
		want error
	}{
		{"telegram: Bad Request: message is not modified: specified new message content (400)", kit.ErrNotModified},
		{"telegram: Bad Request: message to edit not found (400)", kit.ErrMessageGone},
		{"telegram: Bad Request: message to delete not found (400)", kit.ErrMessageGone},
		{"telegram: Bad Request: MESSAGE_TOO_LONG: message is too long (400)", kit.ErrTooLong},
	}
	for _, tt := range tests {
		if err := mapError(errors.New(tt.msg)); !errors.Is(err, tt.want) {
			t.Fatalf("mapError(%q) = %v, want %v", tt.msg, err, tt.want)
		}
	}
	other := errors.New("flood")
	if mapError(other) != other || mapError(nil) != nil {
		t.Fatal("unrelated errors must pass through")
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	cmds := []kit.BotCommand{{Command: "add", Description: "Add an event"}, {Command: ""}, {Command: "help"}}
	list := menuCommands(cmds)
	if len(list) != 2 || list[0].Text != "add" || list[1].Description != "help" {
		t.Fatalf("menu = %+v", list)
	}
	if menuKey(list) == menuKey(menuCommands(cmds[:1])) {
		t.Fatal("key did not change with the command list")
	}

	many := make([]kit.BotCommand, 120)
	for i := range many {
		many[i] = kit.BotCommand{Command: "c", Description: strings.Repeat("d", 300)}
	}
	list = menuCommands(many)
	if len(list) != maxMenuCommands || len(list[0].Description) != maxMenuDescLen {
		t.Fatalf("limits not applied: %d entries, %d desc", len(list), len(list[0].Description))
	}
}

func TestChatLimiter(t *testing.T) {
	t.Parallel()
	l := newChatLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, 1); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.Wait(ctx, 2); err != nil {
		t.Fatalf("other chat should have its own bucket: %v", err)
	}
	if err := l.Wait(ctx, 1); err == nil {
		t.Fatal("second wait on chat 1 should exceed the deadline")
	}
	l.SetRate(0, 1)
	if err := l.Wait(context.Background(), 1); err != nil {
		t.Fatalf("unlimited wait: %v", err)
	}
}

func TestAdminCacheExpiry(t *testing.T) {
	t.Parallel()
	c := newAdminCache(time.Minute)
	now := time.Now()
	k := adminKey{chat: 1, user: 2}
	c.put(k, true, now)
	if admin, ok := c.get(k, now.Add(30*time.Second)); !ok || !admin {
		t.Fatal("fresh entry missing")
	}
	if _, ok := c.get(k, now.Add(2*time.Minute)); ok {
		t.Fatal("stale entry served")
	}
}
