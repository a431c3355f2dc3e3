package router

import (
	"sort"
	"strings"
	"unicode/utf8"

	kit "schedbot/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuName     = 32
	maxMenuDesc     = 256
)

// sanitizeTelegramCommand maps s onto Telegram's [a-z0-9_]{1,32} command
// alphabet. Separators collapse into one underscore; other runes are dropped.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ' || r == '/' || r == '\t':
			pendingSep = true
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuName {
		out = strings.TrimRight(out[:maxMenuName], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route for the menu: ["reset","future"] -> "reset_future".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands first, then shortcuts
// for multi-token routes. Hidden commands are skipped.
func buildTelegramMenuCommands(root *cmdNode, cmds []Command) []kit.BotCommand {
	type entry struct {
		kit.BotCommand
		tier int
	}
	seen := map[string]bool{}
	var entries []entry
	add := func(name, desc string, access Access, tier int) {
		name = sanitizeTelegramCommand(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc = strings.Join(strings.Fields(desc), " ")
		if desc == "" {
			desc = name
		}
		if badge := accessBadge(access); badge != "" {
			desc = badge + " " + desc
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
			for !utf8.ValidString(desc) {
				desc = desc[:len(desc)-1]
			}
		}
		entries = append(entries, entry{kit.BotCommand{Command: name, Description: desc}, tier})
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n.cmd != nil && n.cmd.Hidden {
			continue
		}
		add(name, nodeSummary(n), nodeAccess(n), 0)
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 || c.Hidden {
			continue
		}
		if name, ok := telegramCommandNameFromRoute(route); ok {
			add(name, c.Description, c.Access, 1)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].tier != entries[j].tier {
			return entries[i].tier < entries[j].tier
		}
		return entries[i].Command < entries[j].Command
	})
	if len(entries) > maxMenuCommands {
		entries = entries[:maxMenuCommands]
	}
	out := make([]kit.BotCommand, len(entries))
	for i, e := range entries {
		out[i] = e.BotCommand
	}
	return out
}
