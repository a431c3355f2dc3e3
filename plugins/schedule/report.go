package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"schedbot/internal/export"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/tgui"
)

// replyLimit leaves headroom under Telegram's 4096 character message cap.
const replyLimit = 4000

const (
	defaultAuditRows = 10
	maxAuditRows     = 50
)

func (p *Plugin) handleHistory(ctx context.Context, req *router.Request) error {
	g := guild(req)
	events, err := p.store.ListEvents(ctx, g.GuildID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	ren := p.refresher.Renderer()
	lines := ren.RenderHistory(g, events, p.now())
	opt := &kit.SendOptions{ParseMode: ren.Markup.ParseMode(), DisablePreview: true}
	for _, chunk := range chunkLines(lines, replyLimit) {
		if _, err := req.Adapter.SendText(ctx, req.Chat, chunk, opt); err != nil {
			return fmt.Errorf("send history: %w", err)
		}
	}
	return nil
}

// chunkLines joins lines into texts of at most limit runes, breaking only
// between lines. A single overlong line is cut.
func chunkLines(lines []string, limit int) []string {
	var (
		out []string
		cur strings.Builder
		n   int
	)
	for _, line := range lines {
		ln := utf8.RuneCountInString(line)
		if ln > limit {
			line, ln = tgui.TruncRunes(line, limit), limit
		}
		if n > 0 && n+1+ln > limit {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		if n > 0 {
			cur.WriteByte('\n')
			n++
		}
		cur.WriteString(line)
		n += ln
	}
	if n > 0 || len(out) == 0 {
		out = append(out, cur.String())
	}
	return out
}

func (p *Plugin) handleExport(ctx context.Context, req *router.Request) error {
	g := guild(req)
	events, err := p.store.ListEvents(ctx, g.GuildID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	now := p.now()
	res := export.ICS(g, events, export.Options{Location: p.loc(), Now: now})
	if res.Exported == 0 {
		return req.Reply(ctx, "No dated events to export yet.")
	}
	caption := fmt.Sprintf("📅 %s (%s)", plural(res.Exported, "event"), humanize.Bytes(uint64(len(res.Data))))
	if res.Undated > 0 {
		caption += fmt.Sprintf(", %s without a date left out", plural(res.Undated, "event"))
	}
	_, err = req.Adapter.SendDocument(ctx, req.Chat, kit.Document{
		FileName: export.FileName(g, now),
		MIME:     "text/calendar",
		Caption:  caption,
		Data:     res.Data,
	})
	if err != nil {
		return fmt.Errorf("send calendar: %w", err)
	}
	return nil
}

// handleAudit lists recent changes of this chat, or of chat=<id>.
func (p *Plugin) handleAudit(ctx context.Context, req *router.Request) error {
	guildID := req.Chat.ChatID
	if v, ok := req.Flag("chat"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return router.Reject("chat must be a numeric chat id.")
		}
		guildID = id
	}
	limit := defaultAuditRows
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			limit = min(n, maxAuditRows)
		}
	}
	entries, err := p.store.ListAudit(ctx, guildID, limit)
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No changes recorded for this chat.")
	}

	now := p.now()
	var b strings.Builder
	b.WriteString("🧾 <b>Recent changes</b>")
	for _, e := range entries {
		who := e.Username
		if who == "" {
			who = strconv.FormatInt(e.UserID, 10)
		} else {
			who = "@" + who
		}
		var id tgui.H
		if e.EventID != "" {
			id = tgui.Code(e.EventID)
		}
		line := tgui.JoinH(" · ",
			tgui.I(humanize.RelTime(e.At, now, "ago", "from now")),
			tgui.Mention(who, e.UserID),
			tgui.B(e.Action),
			id,
			tgui.Esc(tgui.TruncRunes(e.Detail, 60)),
		)
		b.WriteString("\n• " + line.String())
	}
	return req.Reply(ctx, b.String())
}
