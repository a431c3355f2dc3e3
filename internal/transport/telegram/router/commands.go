// Package router dispatches Telegram commands and inline-button callbacks
// to handlers through a bounded worker pool.
package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Access is shown in help and the command menu; enforcement is done by validators.
type Access int

const (
	AccessEveryone Access = iota
	AccessEditor
	AccessAdmin
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "add" or "reset future".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access
	Hidden      bool // kept out of the command menu

	Timeout    time.Duration // overrides the manager default
	Validators []Validator
	Handle     HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data "<Group>:<Action>:<payload>".
type CallbackRoute struct {
	Group      string
	Action     string
	Timeout    time.Duration
	Validators []Validator
	Handle     CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Private      bool
	Path         []string
	Command      string // route, or "cb:group:action"
	Args         []string
	Payload      string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64

	mu       sync.Mutex
	values   map[string]any
	answered bool
}

// IsOwner reports whether the sender is a configured bot owner.
func (r *Request) IsOwner() bool {
	for _, o := range r.Owners {
		if o == r.FromID {
			return true
		}
	}
	return false
}

// Set stores a value for later validators and the handler.
func (r *Request) Set(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = map[string]any{}
	}
	r.values[key] = v
}

func (r *Request) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	return v, ok
}

// Flag returns a key=value flag and whether it was given.
func (r *Request) Flag(key string) (string, bool) {
	v, ok := r.Flags[key]
	return v, ok
}

// Reply sends HTML text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// ReplyPlain sends text without a parse mode.
func (r *Request) ReplyPlain(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyMarkup sends HTML text with an adapter-specific keyboard.
func (r *Request) ReplyMarkup(ctx context.Context, text string, markup any) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: markup})
	return err
}

// Answer acknowledges the callback with a toast. No-op for messages.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Update.Callback == nil {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Update.Callback.ID, text)
}

// Options configures a CommandManager.
type Options struct {
	Owners      []int64
	BotUsername string
	Workers     int
	QueueSize   int
	Timeout     time.Duration
	// Observer, when set, receives per-command outcomes.
	Observer CommandObserver
}

type CommandManager struct {
	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	owners   []int64
	timeout  time.Duration
	botName  string
	commands []Command

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	log      logx.Logger
	adapter  kit.Adapter
	workers  int
	observer CommandObserver

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := opt.QueueSize
	if queue <= 0 {
		queue = 256
	}
	return &CommandManager{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), opt.Owners...),
		timeout:   opt.Timeout,
		botName:   strings.ToLower(strings.TrimPrefix(opt.BotUsername, "@")),
		log:       log.With(logx.Component("router")),
		adapter:   adapter,
		workers:   workers,
		observer:  opt.Observer,
		jobs:      make(chan func(), queue),
	}
}

// SetOwners updates the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetTimeout updates the default handler timeout.
func (m *CommandManager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

func (m *CommandManager) snapshot() (root *cmdNode, alias map[string]*cmdNode, owners []int64, timeout time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root, m.alias, append([]int64(nil), m.owners...), m.timeout
}

// SetRegistry replaces the command and callback tables. /help is added
// automatically. When the adapter supports it the command menu is
// published in the background.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// Multi-token routes get a Telegram-safe shortcut: "reset future" -> /reset_future.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		g, a := strings.TrimSpace(r.Group), strings.TrimSpace(r.Action)
		if g == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[g] == nil {
			cb[g] = map[string]CallbackRoute{}
		}
		cb[g][a] = r
	}

	m.mu.Lock()
	m.root, m.alias, m.commands = root, alias, cmds
	m.mu.Unlock()
	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(root, cmds)
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// tryEnqueue does not block; it reports false when the queue is full or closed.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads updates until ctx ends or updates closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, m.log)
	m.runMu.Lock()
	m.running = true
	m.runMu.Unlock()
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job()
				}
			}
		}, rtsup.RestartPolicy{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second})
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

// resolve maps command text to a command, its path and remaining args.
// addressed is false when the command names another bot.
func (m *CommandManager) resolve(text string) (cmd *Command, path, args []string, word string, addressed bool) {
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return nil, nil, nil, "", false
	}
	word = strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	addressed = true
	if i := strings.IndexByte(word, '@'); i >= 0 {
		if m.botName != "" && word[i+1:] != m.botName {
			addressed = false
		}
		word = word[:i]
	}
	args = parts[1:]

	root, alias, _, _ := m.snapshot()
	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		return leaf.cmd, splitRoute(leaf.cmd.Route), args, word, addressed
	}
	node, path, rest, ok := root.walk(word, args)
	if !ok {
		return nil, nil, args, word, addressed
	}
	return node.cmd, path, rest, word, addressed
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, path, args, word, addressed := m.resolve(text)
	if !addressed {
		return
	}
	if cmd == nil {
		// Groups often host several bots; only answer unknown commands in private.
		if path != nil {
			_, _ = m.adapter.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		} else if msg.IsPrivate {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command /"+word+". Try /help.", nil)
		}
		return
	}

	_, _, owners, timeout := m.snapshot()
	pos, flags, bools := parseFlags(args)
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Private:      msg.IsPrivate,
		Path:         path,
		Command:      cmd.Route,
		Args:         pos,
		RawArgs:      args,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Adapter:      m.adapter,
		Owners:       owners,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWObserve(m.observer),
		MWReplyErrors(),
		MWTimeout(timeout),
		MWValidate(cmd.Validators...),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	group, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[group][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "This button has expired.")
		return
	}

	_, _, owners, timeout := m.snapshot()
	if route.Timeout > 0 {
		timeout = route.Timeout
	}
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:       cb.FromID,
		FromUsername: cb.FromUsername,
		Command:      "cb:" + group + ":" + action,
		Payload:      payload,
		ReqID:        rid,
		Adapter:      m.adapter,
		Owners:       owners,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+group+":"+action),
		),
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWObserve(m.observer),
		MWReplyErrors(),
		MWTimeout(timeout),
		MWValidate(route.Validators...),
	)

	if !m.tryEnqueue(func() {
		_ = final(ctx, req)
		if !req.answered {
			// Stops the client's loading spinner.
			_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}
