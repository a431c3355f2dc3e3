package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

const eventsPerPage = 15

func (p *Plugin) handleAdd(ctx context.Context, req *router.Request) error {
	e := pending(req)
	e.GuildID = req.Chat.ChatID
	created, err := p.store.CreateEvent(ctx, e)
	if errors.Is(err, storage.ErrConflict) {
		return router.Reject("This schedule is full. Delete some events first.")
	}
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	if err := req.Reply(ctx, fmt.Sprintf("🟢 Event %s created.", tgui.Code(created.ID))); err != nil {
		req.Logger.Debug("reply failed", logx.Err(err))
	}
	p.changed(ctx, req, "add", created.ID, created.Title)
	return nil
}

// handleEdit re-applies the fields EventFields checked to the stored
// event; it serves /edit and every single-field command.
func (p *Plugin) handleEdit(ctx context.Context, req *router.Request) error {
	id := event(req).ID
	fields := requestFields(req)
	var changed []string
	after, err := p.updateEvent(ctx, req.Chat.ChatID, id, func(e *sched.Event) error {
		out, err := applyFields(*e, fields, p.now().In(p.loc()))
		if err != nil {
			return err
		}
		if changed = diffFields(*e, out); len(changed) == 0 {
			return errUnchanged
		}
		*e = out
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return req.Reply(ctx, fmt.Sprintf("Event %s already looks like that.", tgui.Code(id)))
	}
	if err != nil {
		return err
	}
	detail := strings.Join(changed, ", ")
	if err := req.Reply(ctx, fmt.Sprintf("🟢 Event %s updated (%s).", tgui.Code(after.ID), tgui.Esc(detail))); err != nil {
		req.Logger.Debug("reply failed", logx.Err(err))
	}
	p.changed(ctx, req, "edit", after.ID, detail)
	return nil
}

// diffFields names the user-visible fields that differ.
func diffFields(a, b sched.Event) []string {
	var out []string
	if a.Title != b.Title {
		out = append(out, "title")
	}
	if a.Type != b.Type {
		out = append(out, "type")
	}
	if a.URL != b.URL {
		out = append(out, "url")
	}
	if a.Note != b.Note {
		out = append(out, "note")
	}
	if !a.Datetime.Equal(b.Datetime) || a.Granularity != b.Granularity {
		out = append(out, "datetime")
	}
	return out
}

func (p *Plugin) handleStash(stash bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		word, action := "stashed", "stash"
		if !stash {
			word, action = "visible", "unstash"
		}
		e, err := p.updateEvent(ctx, req.Chat.ChatID, event(req).ID, func(e *sched.Event) error {
			if e.Stashed == stash {
				return errUnchanged
			}
			e.Stashed = stash
			return nil
		})
		if errors.Is(err, errUnchanged) {
			return req.Reply(ctx, fmt.Sprintf("Event %s is already %s.", tgui.Code(e.ID), word))
		}
		if err != nil {
			return fmt.Errorf("%s event: %w", action, err)
		}
		if err := req.Reply(ctx, fmt.Sprintf("🟢 Event %s is now %s.", tgui.Code(e.ID), word)); err != nil {
			req.Logger.Debug("reply failed", logx.Err(err))
		}
		p.changed(ctx, req, action, e.ID, e.Title)
		return nil
	}
}

func (p *Plugin) handleDelete(ctx context.Context, req *router.Request) error {
	e := event(req)
	kb := tgui.ConfirmInline(group, "del", e.ID, "🗑 Delete")
	text := fmt.Sprintf("🟠 Delete event %s %s?", tgui.Code(e.ID), tgui.B(e.Title))
	return req.ReplyMarkup(ctx, text, kb.Markup())
}

func (p *Plugin) confirmDelete(ctx context.Context, req *router.Request, payload string) error {
	e := event(req)
	if err := p.store.DeleteEvent(ctx, e.GuildID, e.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return router.Reject("Already deleted.")
		}
		return fmt.Errorf("delete event: %w", err)
	}
	_ = req.Answer(ctx, "Deleted")
	if err := editPrompt(ctx, req, fmt.Sprintf("🟢 Event %s %s deleted.", tgui.Code(e.ID), tgui.B(e.Title)), nil); err != nil {
		req.Logger.Debug("edit prompt failed", logx.Err(err))
	}
	p.changed(ctx, req, "delete", e.ID, e.Title)
	return nil
}

func (p *Plugin) cancel(ctx context.Context, req *router.Request, payload string) error {
	_ = req.Answer(ctx, "Cancelled")
	return editPrompt(ctx, req, "✖️ Cancelled.", nil)
}

func (p *Plugin) handleEvents(ctx context.Context, req *router.Request) error {
	page := 0
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil {
			page = n - 1
		}
	}
	text, kb, err := p.eventsPage(ctx, req.Chat.ChatID, page)
	if err != nil {
		return err
	}
	return req.ReplyMarkup(ctx, text, kb)
}

func (p *Plugin) pageEvents(ctx context.Context, req *router.Request, payload string) error {
	page, _ := strconv.Atoi(payload)
	text, kb, err := p.eventsPage(ctx, req.Chat.ChatID, page)
	if err != nil {
		return err
	}
	return editPrompt(ctx, req, text, kb)
}

// eventsPage lists events by time, undated last, with a pager keyboard.
func (p *Plugin) eventsPage(ctx context.Context, guildID int64, page int) (string, *tele.ReplyMarkup, error) {
	events, err := p.store.ListEvents(ctx, guildID)
	if err != nil {
		return "", nil, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return "No events yet. Add one with /add.", nil, nil
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.HasTime() != b.HasTime() {
			return a.HasTime()
		}
		return a.Datetime.Before(b.Datetime)
	})

	loc := p.loc()
	now := p.now()
	f := sched.Formatter{Markup: sched.TelegramHTML{Location: loc}, Location: loc}
	pg := tgui.Paginate(len(events), page, eventsPerPage)

	var b strings.Builder
	b.WriteString("🗓 <b>Events</b>\n")
	for _, e := range events[pg.From:pg.To] {
		abs, _ := f.Format(e, now)
		line := tgui.JoinH(" · ",
			tgui.Code(e.ID)+" "+tgui.B(e.Title),
			tgui.H(abs),
			tgui.I(e.Type.String()),
		)
		if e.Stashed {
			line += " " + tgui.I("(stashed)")
		}
		b.WriteString("\n" + line.String())
	}
	if pg.Pages > 1 {
		b.WriteString("\n\n" + tgui.Esc(pg.Label()).String())
	}
	return b.String(), pg.Nav(group, "events").Markup(), nil
}

// editPrompt rewrites the message carrying the pressed button.
func editPrompt(ctx context.Context, req *router.Request, text string, kb *tele.ReplyMarkup) error {
	cb := req.Update.Callback
	if cb == nil {
		return req.ReplyMarkup(ctx, text, kb)
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if kb != nil {
		opt.ReplyMarkup = kb
	}
	err := req.Adapter.EditText(ctx, ref, text, opt)
	if errors.Is(err, kit.ErrNotModified) {
		return nil
	}
	return err
}

// plural formats "1 event" or "3 events".
func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
