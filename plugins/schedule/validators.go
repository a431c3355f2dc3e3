package schedule

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
)

// Request keys filled by validators.
const (
	keyGuild   = "schedule.guild"
	keyEvent   = "schedule.event"
	keyPending = "schedule.pending"
	keyFields  = "schedule.fields"
	keyCount   = "schedule.count"
	keyUserID  = "schedule.user_id"
)

// GuildSetup loads the chat's schedule config.
func (p *Plugin) GuildSetup() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		g, err := p.store.GetGuild(ctx, req.Chat.ChatID)
		if errors.Is(err, storage.ErrNotFound) {
			return router.Fail("This chat has no schedule yet. A chat admin can create one with /setup.")
		}
		if err != nil {
			req.Logger.Warn("load guild failed", logx.Err(err))
			return router.Fail("Could not load the schedule, try again later.")
		}
		req.Set(keyGuild, g)
		return router.Pass()
	}
}

func (p *Plugin) isAdmin(ctx context.Context, req *router.Request) bool {
	if req.IsOwner() {
		return true
	}
	ok, err := req.Adapter.IsChatAdmin(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		req.Logger.Debug("admin lookup failed", logx.Err(err))
		return false
	}
	return ok
}

// AdminAccess passes chat admins and bot owners.
func (p *Plugin) AdminAccess() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		if p.isAdmin(ctx, req) {
			return router.Pass()
		}
		return router.Fail("Only chat admins can do that.")
	}
}

// EditorAccess passes configured editors, chat admins and bot owners.
// It reads the config loaded by GuildSetup when present.
func (p *Plugin) EditorAccess() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		if guild(req).IsEditor(req.FromID) || p.isAdmin(ctx, req) {
			return router.Pass()
		}
		return router.Fail("You are not an editor of this schedule.")
	}
}

// normalizeID pads numeric ids to four digits: "42" -> "0042".
func normalizeID(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < 10000 && len(s) < 4 {
		return strconv.Itoa(10000 + n)[1:]
	}
	return s
}

// EventExists loads the event named by the first argument, or by the
// callback payload.
func (p *Plugin) EventExists() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		raw := req.Payload
		if req.Update.Callback == nil {
			if len(req.RawArgs) == 0 {
				return router.Fail("Give an event id, e.g. /%s 0042. /events lists them.", req.Command)
			}
			raw = req.RawArgs[0]
		}
		id := normalizeID(raw)
		e, err := p.store.GetEvent(ctx, req.Chat.ChatID, id)
		if errors.Is(err, storage.ErrNotFound) {
			return router.Fail("No event with id %q was found.", id)
		}
		if err != nil {
			req.Logger.Warn("load event failed", logx.String("event_id", id), logx.Err(err))
			return router.Fail("Could not load the event, try again later.")
		}
		req.Set(keyEvent, e)
		return router.Pass()
	}
}

// EventFields applies the request's fields to the loaded event (or to a
// new one) and keeps the result for the handler. Every field is checked
// here so the handler only persists.
func (p *Plugin) EventFields(src fieldSource) router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		fields := src(req)
		if len(fields) == 0 {
			return router.Fail("Nothing to change. Give at least one field, e.g. title=\"New title\".")
		}
		base, ok := req.Get(keyEvent)
		e, _ := base.(sched.Event)
		if !ok {
			e = newEvent(req.Chat.ChatID)
		}
		out, err := applyFields(e, fields, p.now().In(p.loc()))
		if err != nil {
			if reason, ok := router.IsRejection(err); ok {
				return router.Fail("%s", reason)
			}
			return router.Fail("%s", err.Error())
		}
		req.Set(keyPending, out)
		req.Set(keyFields, fields)
		return router.Pass()
	}
}

func requireTitle() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		if strings.TrimSpace(addFields(req)["title"]) == "" {
			return router.Fail("An event needs a title: /add title=\"Karaoke\" date=8/18 time=20:00")
		}
		return router.Pass()
	}
}

// maxRunes checks a free-text value against a length limit.
func maxRunes(label string, limit int, value func(*router.Request) string) router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		if n := utf8.RuneCountInString(value(req)); n > limit {
			return router.Fail("%s too long. Max %d characters (currently %d).", label, limit, n)
		}
		return router.Pass()
	}
}

// messageCount reads messages=N (or a bare N) for /setup.
func messageCount() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		raw, ok := req.Flag("messages")
		if !ok && len(req.Args) > 0 {
			raw, ok = req.Args[0], true
		}
		if !ok {
			return router.Pass()
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 || n > maxMessages {
			return router.Fail("messages must be a number from 1 to %d.", maxMessages)
		}
		req.Set(keyCount, n)
		return router.Pass()
	}
}

// userIDArg parses the numeric user id of /editors add|remove.
func userIDArg() router.Validator {
	return func(ctx context.Context, req *router.Request) router.Verdict {
		if len(req.RawArgs) == 0 {
			return router.Fail("Give a numeric Telegram user id.")
		}
		id, err := strconv.ParseInt(strings.TrimSpace(req.RawArgs[0]), 10, 64)
		if err != nil || id <= 0 {
			return router.Fail("%q is not a Telegram user id.", req.RawArgs[0])
		}
		req.Set(keyUserID, id)
		return router.Pass()
	}
}
