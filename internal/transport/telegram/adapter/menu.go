package adapter

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// setMyCommands limits.
const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// menuCommands converts cmds for telebot. Entries without a name are
// skipped; a missing description repeats the name.
func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" || len(out) == maxMenuCommands {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxMenuDescLen {
			desc = desc[:maxMenuDescLen]
		}
		out = append(out, tele.Command{Text: c.Command, Description: desc})
	}
	return out
}

func menuKey(list []tele.Command) string {
	var b strings.Builder
	for _, c := range list {
		b.WriteString(c.Text + "\x00" + c.Description + "\x00")
	}
	return b.String()
}

// UpdateMenuCommands publishes the command menu. Telegram is only called
// when the list differs from the last one it accepted.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := menuCommands(cmds)
	key := menuKey(list)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if key == a.menuKey {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("setMyCommands: %w", mapError(err))
	}
	a.menuKey = key
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
