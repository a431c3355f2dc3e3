// Package schedule implements the chat commands that manage a chat's
// schedule: setup, event CRUD, header fields, editors, export and resets.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/refresher"
	"schedbot/internal/runtime/keylock"
	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
)

// group prefixes every callback this package owns.
const group = "sched"

const (
	maxMessages     = 5
	defaultMessages = 2
)

// Refresher is the part of the refresher the commands need.
type Refresher interface {
	Refresh(ctx context.Context, guildID int64) error
	RefreshLocked(ctx context.Context, guildID int64) error
	Renderer() sched.Renderer
}

type Deps struct {
	Store     storage.Store
	Refresher Refresher
	// Bus receives schedule.changed after every mutation. When nil the
	// guild is refreshed inline.
	Bus   eventbus.Bus
	Locks *keylock.Locks
	Log   logx.Logger
	Now   func() time.Time
}

type Config struct {
	// DefaultMessages is the /setup message count when none is given.
	DefaultMessages int
}

type Plugin struct {
	store     storage.Store
	refresher Refresher
	bus       eventbus.Bus
	locks     *keylock.Locks
	log       logx.Logger
	now       func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func New(d Deps, cfg Config) (*Plugin, error) {
	if d.Store == nil || d.Refresher == nil {
		return nil, errors.New("schedule: store and refresher are required")
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	p := &Plugin{
		store:     d.Store,
		refresher: d.Refresher,
		bus:       d.Bus,
		locks:     d.Locks,
		log:       d.Log.With(logx.Component("schedule")),
		now:       d.Now,
	}
	p.Apply(cfg)
	return p, nil
}

// Apply swaps in a new config.
func (p *Plugin) Apply(cfg Config) {
	if cfg.DefaultMessages < 1 || cfg.DefaultMessages > maxMessages {
		cfg.DefaultMessages = defaultMessages
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// loc is the display zone of the active renderer.
func (p *Plugin) loc() *time.Location {
	if l := p.refresher.Renderer().Location; l != nil {
		return l
	}
	return time.UTC
}

// audit appends a log entry for the request's chat. Failures are logged only.
func (p *Plugin) audit(ctx context.Context, req *router.Request, action, eventID, detail string) {
	entry := storage.AuditEntry{
		At:       p.now(),
		GuildID:  req.Chat.ChatID,
		UserID:   req.FromID,
		Username: req.FromUsername,
		Action:   action,
		EventID:  eventID,
		Detail:   detail,
	}
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

// changed records a mutation and asks for a refresh of the guild.
func (p *Plugin) changed(ctx context.Context, req *router.Request, action, eventID, detail string) {
	guildID := req.Chat.ChatID
	p.audit(ctx, req, action, eventID, detail)
	if p.bus != nil {
		eventbus.PublishScheduleChanged(p.bus, guildID, action)
		return
	}
	if err := p.refresher.Refresh(ctx, guildID); err != nil && !errors.Is(err, refresher.ErrNotSetUp) {
		req.Logger.Warn("refresh after change failed", logx.String("action", action), logx.Err(err))
	}
}

// guild returns the config loaded by GuildSetup.
func guild(req *router.Request) sched.GuildConfig {
	v, _ := req.Get(keyGuild)
	g, _ := v.(sched.GuildConfig)
	return g
}

// event returns the event loaded by EventExists.
func event(req *router.Request) sched.Event {
	v, _ := req.Get(keyEvent)
	e, _ := v.(sched.Event)
	return e
}

// pending returns the event produced by EventFields.
func pending(req *router.Request) sched.Event {
	v, _ := req.Get(keyPending)
	e, _ := v.(sched.Event)
	return e
}

// requestFields returns the field=value pairs EventFields accepted.
func requestFields(req *router.Request) map[string]string {
	v, _ := req.Get(keyFields)
	f, _ := v.(map[string]string)
	return f
}

// Commands lists every command in registration order.
func (p *Plugin) Commands() []router.Command {
	editor := []router.Validator{p.GuildSetup(), p.EditorAccess()}
	withEvent := append(append([]router.Validator(nil), editor...), p.EventExists())
	admin := []router.Validator{p.GuildSetup(), p.AdminAccess()}

	cmds := []router.Command{
		{
			Route:       "setup",
			Description: "post the schedule messages in this chat",
			Usage:       "/setup [messages=2]",
			Access:      router.AccessAdmin,
			Timeout:     time.Minute,
			Validators:  []router.Validator{p.AdminAccess(), messageCount()},
			Handle:      p.handleSetup,
		},
		{
			Route:       "add",
			Description: "add an event",
			Usage: "/add title=\"Karaoke\" date=8/18 time=20:00 type=stream\n" +
				"/add title=Birthday date=\"Dec 24\" url=https://… note=\"3D live\"",
			Access:     router.AccessEditor,
			Validators: append(append([]router.Validator(nil), editor...), requireTitle(), p.EventFields(addFields)),
			Handle:     p.handleAdd,
		},
		{
			Route:       "edit",
			Description: "change fields of an event",
			Usage:       "/edit <id> title=… date=… time=… type=… url=… note=…",
			Access:      router.AccessEditor,
			Validators:  append(append([]router.Validator(nil), withEvent...), p.EventFields(flagFields)),
			Handle:      p.handleEdit,
		},
	}
	for _, f := range singleFields {
		cmds = append(cmds, router.Command{
			Route:       f.name,
			Description: f.desc,
			Usage:       "/" + f.name + " <id> " + f.usage,
			Access:      router.AccessEditor,
			Validators:  append(append([]router.Validator(nil), withEvent...), p.EventFields(argField(f.name))),
			Handle:      p.handleEdit,
		})
	}
	cmds = append(cmds,
		router.Command{
			Route:       "stash",
			Description: "hide an event without deleting it",
			Usage:       "/stash <id>",
			Access:      router.AccessEditor,
			Validators:  withEvent,
			Handle:      p.handleStash(true),
		},
		router.Command{
			Route:       "unstash",
			Description: "show a stashed event again",
			Usage:       "/unstash <id>",
			Access:      router.AccessEditor,
			Validators:  withEvent,
			Handle:      p.handleStash(false),
		},
		router.Command{
			Route:       "delete",
			Aliases:     []string{"del", "rm"},
			Description: "delete an event",
			Usage:       "/delete <id>",
			Access:      router.AccessEditor,
			Validators:  withEvent,
			Handle:      p.handleDelete,
		},
		router.Command{
			Route:       "events",
			Aliases:     []string{"ls"},
			Description: "list every event with its id",
			Usage:       "/events [page]",
			Access:      router.AccessEditor,
			Validators:  editor,
			Handle:      p.handleEvents,
		},
		router.Command{
			Route:       "refresh",
			Description: "re-render the schedule now",
			Usage:       "/refresh",
			Access:      router.AccessEditor,
			Validators:  editor,
			Handle:      p.handleRefresh,
		},
		router.Command{
			Route:       "talent",
			Description: "set whose schedule this is",
			Usage:       "/talent <name>   (empty clears)",
			Access:      router.AccessEditor,
			Validators:  append(append([]router.Validator(nil), editor...), maxRunes("Talent name", maxTalent, joinedArgs)),
			Handle:      p.handleHeader("talent"),
		},
		router.Command{
			Route:       "description",
			Aliases:     []string{"desc"},
			Description: "set the text under the schedule title",
			Usage:       "/description <text>   (empty clears)",
			Access:      router.AccessEditor,
			Validators:  append(append([]router.Validator(nil), editor...), maxRunes("Description", maxDescription, joinedArgs)),
			Handle:      p.handleHeader("description"),
		},
		router.Command{
			Route:       "enable",
			Description: "resume automatic refreshes",
			Usage:       "/enable",
			Access:      router.AccessEditor,
			Validators:  editor,
			Handle:      p.handleEnable(true),
		},
		router.Command{
			Route:       "disable",
			Description: "pause automatic refreshes",
			Usage:       "/disable",
			Access:      router.AccessEditor,
			Validators:  editor,
			Handle:      p.handleEnable(false),
		},
		router.Command{
			Route:       "editors",
			Description: "list schedule editors",
			Usage:       "/editors",
			Access:      router.AccessAdmin,
			Validators:  admin,
			Handle:      p.handleEditorsList,
		},
		router.Command{
			Route:       "editors add",
			Description: "allow a user to edit the schedule",
			Usage:       "/editors add <user_id>",
			Access:      router.AccessAdmin,
			Validators:  append(append([]router.Validator(nil), admin...), userIDArg()),
			Handle:      p.handleEditorsChange(true),
		},
		router.Command{
			Route:       "editors remove",
			Description: "revoke a user's edit access",
			Usage:       "/editors remove <user_id>",
			Access:      router.AccessAdmin,
			Validators:  append(append([]router.Validator(nil), admin...), userIDArg()),
			Handle:      p.handleEditorsChange(false),
		},
		router.Command{
			Route:       "history",
			Description: "show every past event",
			Usage:       "/history",
			Access:      router.AccessEveryone,
			Validators:  []router.Validator{p.GuildSetup()},
			Handle:      p.handleHistory,
		},
		router.Command{
			Route:       "export",
			Aliases:     []string{"ics"},
			Description: "download the schedule as a calendar file",
			Usage:       "/export",
			Access:      router.AccessEveryone,
			Validators:  []router.Validator{p.GuildSetup()},
			Handle:      p.handleExport,
		},
		router.Command{
			Route:       "audit",
			Description: "recent changes",
			Usage:       "/audit [n]",
			Access:      router.AccessOwnerOnly,
			Validators:  []router.Validator{router.OwnerOnly()},
			Handle:      p.handleAudit,
		},
	)
	for _, s := range resetScopes {
		cmds = append(cmds, router.Command{
			Route:       "reset " + s.name,
			Description: s.desc,
			Usage:       "/reset " + s.name,
			Access:      router.AccessAdmin,
			Validators:  admin,
			Handle:      p.handleReset(s.name),
		})
	}
	return cmds
}

// Callbacks lists the inline-button handlers.
func (p *Plugin) Callbacks() []router.CallbackRoute {
	editor := []router.Validator{p.GuildSetup(), p.EditorAccess()}
	return []router.CallbackRoute{
		{Group: group, Action: "setup", Validators: []router.Validator{p.AdminAccess()}, Timeout: time.Minute, Handle: p.confirmSetup},
		{Group: group, Action: "del", Validators: append(append([]router.Validator(nil), editor...), p.EventExists()), Handle: p.confirmDelete},
		{Group: group, Action: "reset", Validators: []router.Validator{p.GuildSetup(), p.AdminAccess()}, Handle: p.confirmReset},
		{Group: group, Action: "events", Validators: editor, Handle: p.pageEvents},
		{Group: group, Action: "cancel", Validators: []router.Validator{p.EditorAccess()}, Handle: p.cancel},
	}
}
