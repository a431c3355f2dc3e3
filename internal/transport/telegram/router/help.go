package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders /help (no args) or /help <route...> as Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	root, alias, _, _ := m.snapshot()

	if len(path) == 0 {
		return helpOverview(root)
	}

	first := strings.ToLower(strings.TrimPrefix(path[0], "/"))
	if leaf, ok := alias[first]; ok && leaf.cmd != nil {
		return helpCommand(leaf, splitRoute(leaf.cmd.Route))
	}
	node, full, rest, ok := root.walk(first, path[1:])
	if !ok || len(rest) > 0 {
		return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the full list."
	}
	return helpCommand(node, full)
}

func helpOverview(root *cmdNode) string {
	type row struct {
		name   string
		desc   string
		access Access
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n.cmd != nil && n.cmd.Hidden {
			continue
		}
		rows = append(rows, row{name: name, desc: nodeSummary(n), access: nodeAccess(n)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].access != rows[j].access {
			return rows[i].access < rows[j].access
		}
		return rows[i].name < rows[j].name
	})

	var b strings.Builder
	b.WriteString("📅 <b>Schedule bot</b>\n")
	b.WriteString("Send <code>/help &lt;command&gt;</code> for usage.\n")
	for _, r := range rows {
		b.WriteString("\n• ")
		if badge := accessBadge(r.access); badge != "" {
			b.WriteString(badge + " ")
		}
		b.WriteString("<code>/" + html.EscapeString(r.name) + "</code>")
		if r.desc != "" {
			b.WriteString(" - " + html.EscapeString(r.desc))
		}
	}
	b.WriteString("\n\n✏️ editor  🛡 chat admin  🔒 bot owner")
	return b.String()
}

func helpCommand(n *cmdNode, full []string) string {
	var b strings.Builder
	b.WriteString("<b>/" + html.EscapeString(strings.Join(full, " ")) + "</b>")

	if c := n.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString("\n" + html.EscapeString(d))
		}
		if badge := accessBadge(c.Access); badge != "" {
			b.WriteString("\n" + badge + " <i>" + accessLabel(c.Access) + "</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.WriteString("\n\n<b>Usage</b>")
			for _, line := range strings.Split(u, "\n") {
				b.WriteString("\n<code>" + html.EscapeString(strings.TrimSpace(line)) + "</code>")
			}
		}
		if sc := shortcuts(*c); len(sc) > 0 {
			b.WriteString("\n\n<b>Also</b> ")
			for i, s := range sc {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString("<code>/" + html.EscapeString(s) + "</code>")
			}
		}
	}

	if len(n.children) > 0 {
		b.WriteString("\n\n<b>Subcommands</b>")
		for _, name := range n.childNames() {
			ch, _ := n.child(name)
			route := strings.Join(append(append([]string(nil), full...), name), " ")
			b.WriteString("\n• <code>/" + html.EscapeString(route) + "</code>")
			if d := nodeSummary(ch); d != "" {
				b.WriteString(" - " + html.EscapeString(d))
			}
		}
	}
	return b.String()
}

// nodeSummary is the command description, or a hint listing subcommands.
func nodeSummary(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return strings.Join(kids[:3], ", ") + ", …"
	}
	return strings.Join(kids, ", ")
}

// nodeAccess is the least restrictive access among n and its descendants.
func nodeAccess(n *cmdNode) Access {
	best := AccessOwnerOnly
	found := false
	var visit func(x *cmdNode)
	visit = func(x *cmdNode) {
		if x.cmd != nil {
			found = true
			if x.cmd.Access < best {
				best = x.cmd.Access
			}
		}
		for _, ch := range x.children {
			visit(ch)
		}
	}
	visit(n)
	if !found {
		return AccessEveryone
	}
	return best
}

func accessBadge(a Access) string {
	switch a {
	case AccessEditor:
		return "✏️"
	case AccessAdmin:
		return "🛡"
	case AccessOwnerOnly:
		return "🔒"
	}
	return ""
}

func accessLabel(a Access) string {
	switch a {
	case AccessEditor:
		return "editors and chat admins"
	case AccessAdmin:
		return "chat admins only"
	case AccessOwnerOnly:
		return "bot owner only"
	}
	return "everyone"
}

// shortcuts lists the other names a command answers to.
func shortcuts(c Command) []string {
	route := splitRoute(c.Route)
	seen := map[string]bool{strings.Join(route, " "): true}
	var out []string
	addName := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			addName(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		addName(a)
		addName(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
