package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"schedbot/internal/refresher"
	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

func (p *Plugin) handleSetup(ctx context.Context, req *router.Request) error {
	n := p.config().DefaultMessages
	if v, ok := req.Get(keyCount); ok {
		n = v.(int)
	}
	g, err := p.store.GetGuild(ctx, req.Chat.ChatID)
	switch {
	case err == nil && len(g.MessageIDs) > 0:
		kb := tgui.ConfirmInline(group, "setup", strconv.Itoa(n), "♻️ Replace")
		return req.ReplyMarkup(ctx,
			"🟠 <b>This chat already has a schedule.</b> New schedule messages will be posted here "+
				"and the current ones will stop updating (they can be deleted safely).",
			kb.Markup())
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("load guild: %w", err)
	}
	text, err := p.setup(ctx, req, n)
	if err != nil {
		return err
	}
	return req.Reply(ctx, text)
}

func (p *Plugin) confirmSetup(ctx context.Context, req *router.Request, payload string) error {
	n, err := strconv.Atoi(payload)
	if err != nil || n < 1 || n > maxMessages {
		n = p.config().DefaultMessages
	}
	_ = req.Answer(ctx, "Setting up…")
	text, err := p.setup(ctx, req, n)
	if err != nil {
		return err
	}
	return editPrompt(ctx, req, text, nil)
}

// setup posts n placeholder messages in the request's chat, stores them as
// the schedule and renders into them. Earlier schedule messages are left
// as they are.
func (p *Plugin) setup(ctx context.Context, req *router.Request, n int) (string, error) {
	guildID := req.Chat.ChatID
	unlock, err := p.locks.Lock(ctx, guildID)
	if err != nil {
		return "", err
	}
	defer unlock()

	g, err := p.store.GetGuild(ctx, guildID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		g = sched.GuildConfig{GuildID: guildID}
	case err != nil:
		return "", fmt.Errorf("load guild: %w", err)
	}

	m := p.refresher.Renderer().Markup
	opt := &kit.SendOptions{ParseMode: m.ParseMode(), DisablePreview: true}
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ref, err := req.Adapter.SendText(ctx, req.Chat, m.Blank(), opt)
		if err != nil {
			p.discard(ctx, req.Adapter, req.Chat, ids)
			return "", fmt.Errorf("post schedule message %d: %w", i+1, err)
		}
		ids = append(ids, ref.MessageID)
	}

	g.ChatID, g.ThreadID, g.MessageIDs, g.Enabled = req.Chat.ChatID, req.Chat.ThreadID, ids, true
	if err := p.store.PutGuild(ctx, g); err != nil {
		p.discard(ctx, req.Adapter, req.Chat, ids)
		return "", fmt.Errorf("save guild: %w", err)
	}
	p.audit(ctx, req, "setup", "", plural(n, "message"))
	if err := p.refresher.RefreshLocked(ctx, guildID); err != nil {
		req.Logger.Warn("first render failed", logx.Err(err))
		return "🟠 Schedule messages posted, but the first render failed. Try /refresh.", nil
	}
	return fmt.Sprintf("🟢 Schedule set up with %s. Add events with /add.", plural(n, "message")), nil
}

// discard deletes messages posted by a setup that did not complete.
func (p *Plugin) discard(ctx context.Context, ad kit.Adapter, chat kit.ChatTarget, ids []int) {
	for _, id := range ids {
		ref := kit.MessageRef{ChatID: chat.ChatID, ThreadID: chat.ThreadID, MessageID: id}
		if err := ad.DeleteMessage(ctx, ref); err != nil {
			p.log.Debug("discard schedule message", logx.Int("message_id", id), logx.Err(err))
		}
	}
}

func (p *Plugin) handleRefresh(ctx context.Context, req *router.Request) error {
	err := p.refresher.Refresh(ctx, req.Chat.ChatID)
	switch {
	case err == nil:
		return req.Reply(ctx, "🟢 Schedule refreshed.")
	case errors.Is(err, kit.ErrMessageGone):
		return router.Reject("A schedule message is gone. A chat admin should run /setup again.")
	case errors.Is(err, refresher.ErrNotSetUp):
		return router.Reject("This schedule has no messages yet. A chat admin can run /setup.")
	}
	return fmt.Errorf("refresh: %w", err)
}

// handleHeader sets the talent name or the description.
func (p *Plugin) handleHeader(field string) router.HandlerFunc {
	label := "Talent"
	if field == "description" {
		label = "Description"
	}
	return func(ctx context.Context, req *router.Request) error {
		v := joinedArgs(req)
		_, err := p.updateGuild(ctx, req.Chat.ChatID, func(g *sched.GuildConfig) error {
			cur := &g.Talent
			if field == "description" {
				cur = &g.Description
			}
			if *cur == v {
				return errUnchanged
			}
			*cur = v
			return nil
		})
		if errors.Is(err, errUnchanged) {
			return req.Reply(ctx, label+" is unchanged.")
		}
		if err != nil {
			return fmt.Errorf("save %s: %w", field, err)
		}
		text := "🟢 " + label + " cleared."
		if v != "" {
			text = fmt.Sprintf("🟢 %s set to %s.", label, tgui.B(v))
		}
		if err := req.Reply(ctx, text); err != nil {
			req.Logger.Debug("reply failed", logx.Err(err))
		}
		p.changed(ctx, req, field, "", v)
		return nil
	}
}

func (p *Plugin) handleEnable(on bool) router.HandlerFunc {
	word, action := "enabled", "enable"
	if !on {
		word, action = "disabled", "disable"
	}
	return func(ctx context.Context, req *router.Request) error {
		_, err := p.updateGuild(ctx, req.Chat.ChatID, func(g *sched.GuildConfig) error {
			if g.Enabled == on {
				return errUnchanged
			}
			g.Enabled = on
			return nil
		})
		if errors.Is(err, errUnchanged) {
			return req.Reply(ctx, "The schedule is already "+word+".")
		}
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		if err := req.Reply(ctx, "🟢 Schedule "+word+"."); err != nil {
			req.Logger.Debug("reply failed", logx.Err(err))
		}
		p.changed(ctx, req, action, "", "")
		return nil
	}
}

func (p *Plugin) handleEditorsList(ctx context.Context, req *router.Request) error {
	g := guild(req)
	var b strings.Builder
	b.WriteString("✏️ <b>Editors</b>")
	if len(g.EditorIDs) == 0 {
		b.WriteString("\nNone yet. Add one with <code>/editors add &lt;user_id&gt;</code>.")
	}
	for _, id := range g.EditorIDs {
		b.WriteString("\n• " + tgui.Mention(strconv.FormatInt(id, 10), id).String())
	}
	b.WriteString("\n\n" + tgui.I("Chat admins can always edit.").String())
	return req.Reply(ctx, b.String())
}

func (p *Plugin) handleEditorsChange(add bool) router.HandlerFunc {
	action := "editor remove"
	if add {
		action = "editor add"
	}
	return func(ctx context.Context, req *router.Request) error {
		v, _ := req.Get(keyUserID)
		id, _ := v.(int64)
		code := tgui.Code(strconv.FormatInt(id, 10))
		_, err := p.updateGuild(ctx, req.Chat.ChatID, func(g *sched.GuildConfig) error {
			if add == g.IsEditor(id) {
				return errUnchanged
			}
			if add {
				g.EditorIDs = append(g.EditorIDs, id)
				return nil
			}
			kept := g.EditorIDs[:0:0]
			for _, e := range g.EditorIDs {
				if e != id {
					kept = append(kept, e)
				}
			}
			g.EditorIDs = kept
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged) && add:
			return req.Reply(ctx, fmt.Sprintf("%s is already an editor.", code))
		case errors.Is(err, errUnchanged):
			return router.Reject("%d is not an editor.", id)
		case err != nil:
			return fmt.Errorf("save editors: %w", err)
		}
		p.audit(ctx, req, action, "", strconv.FormatInt(id, 10))
		if add {
			return req.Reply(ctx, fmt.Sprintf("🟢 %s can now edit the schedule.", code))
		}
		return req.Reply(ctx, fmt.Sprintf("🟢 %s is no longer an editor.", code))
	}
}

type resetScope struct {
	name string
	desc string
}

var resetScopes = []resetScope{
	{"future", "delete all upcoming and undated events"},
	{"past", "delete all past events"},
	{"events", "delete every event"},
	{"config", "clear talent, description and editors"},
	{"all", "delete every event and the schedule itself"},
}

func (p *Plugin) handleReset(scope string) router.HandlerFunc {
	desc := scope
	for _, s := range resetScopes {
		if s.name == scope {
			desc = s.desc
		}
	}
	return func(ctx context.Context, req *router.Request) error {
		kb := tgui.ConfirmInline(group, "reset", scope, "🗑 Reset")
		return req.ReplyMarkup(ctx, fmt.Sprintf("🟠 This will %s. Continue?", tgui.B(desc)), kb.Markup())
	}
}

func (p *Plugin) confirmReset(ctx context.Context, req *router.Request, scope string) error {
	text, err := p.reset(ctx, req, scope)
	if err != nil {
		return err
	}
	_ = req.Answer(ctx, "Done")
	return editPrompt(ctx, req, text, nil)
}

func (p *Plugin) reset(ctx context.Context, req *router.Request, scope string) (string, error) {
	g := guild(req)
	filter := storage.FilterAll
	switch scope {
	case "future":
		filter = storage.FilterFuture
	case "past":
		filter = storage.FilterPast
	case "events":
	case "config":
		_, err := p.updateGuild(ctx, g.GuildID, func(g *sched.GuildConfig) error {
			g.Talent, g.Description, g.EditorIDs = "", "", nil
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("reset config: %w", err)
		}
		p.changed(ctx, req, "reset config", "", "")
		return "🟢 Talent, description and editors cleared.", nil
	case "all":
		return p.resetAll(ctx, req, g)
	default:
		return "", router.Reject("Unknown reset scope %q.", scope)
	}

	n, err := p.store.DeleteEvents(ctx, g.GuildID, filter, p.now())
	if err != nil {
		return "", fmt.Errorf("reset %s: %w", scope, err)
	}
	p.changed(ctx, req, "reset "+scope, "", plural(n, "event"))
	return fmt.Sprintf("🟢 Deleted %s.", plural(n, "event")), nil
}

// resetAll removes the events, the schedule messages and the config. The
// message ids come from the stored guild so a /setup that ran after the
// prompt is cleaned up too.
func (p *Plugin) resetAll(ctx context.Context, req *router.Request, g sched.GuildConfig) (string, error) {
	unlock, err := p.locks.Lock(ctx, g.GuildID)
	if err != nil {
		return "", err
	}
	defer unlock()

	switch cur, err := p.store.GetGuild(ctx, g.GuildID); {
	case err == nil:
		g = cur
	case !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("reset all: %w", err)
	}
	n, err := p.store.DeleteEvents(ctx, g.GuildID, storage.FilterAll, p.now())
	if err != nil {
		return "", fmt.Errorf("reset all: %w", err)
	}
	p.discard(ctx, req.Adapter, kit.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID}, g.MessageIDs)
	if err := p.store.DeleteGuild(ctx, g.GuildID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("reset all: %w", err)
	}
	p.audit(ctx, req, "reset all", "", plural(n, "event"))
	return fmt.Sprintf("🟢 Schedule removed with %s. Run /setup to start over.", plural(n, "event")), nil
}
