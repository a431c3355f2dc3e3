package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier delivers a plain text alert to a chat. The Telegram adapter
// satisfies it.
type Notifier interface {
	NotifyText(ctx context.Context, chatID int64, threadID int, text string) error
}

// TelegramConfig forwards entries at MinLevel (default warn) and above to
// a chat. Identical alerts within Dedupe (default 10m) are folded into a
// repeat count on the next one that gets through.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
	Dedupe     time.Duration
}

const (
	defaultDedupe = 10 * time.Minute
	alertQueue    = 64
	alertMaxLen   = 3500
	alertSendWait = 10 * time.Second
)

type alertSink struct {
	mu       sync.Mutex
	notifier Notifier
	chatID   int64
	threadID int
	minLevel Level
	dedupe   time.Duration
	limiter  *rate.Limiter
	seen     map[string]*seenAlert
	now      func() time.Time

	queue   chan string
	once    sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

type seenAlert struct {
	last     time.Time
	repeated int
}

func newAlertSink() *alertSink {
	return &alertSink{
		seen:  map[string]*seenAlert{},
		now:   time.Now,
		queue: make(chan string, alertQueue),
	}
}

func (a *alertSink) setNotifier(n Notifier) {
	a.mu.Lock()
	a.notifier = n
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg TelegramConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatID, a.threadID = cfg.ChatID, cfg.ThreadID
	a.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	a.dedupe = cfg.Dedupe
	if a.dedupe <= 0 {
		a.dedupe = defaultDedupe
	}
	rps := max(1, cfg.RatePerSec)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if !cfg.Enabled {
		return
	}
	if a.chatID == 0 {
		fmt.Fprintln(stderr, "logx: telegram alerts enabled without logging.telegram.chat_id")
	}
	a.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel, a.stopped = cancel, make(chan struct{})
		go a.run(ctx)
	})
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, stopped := a.cancel, a.stopped
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (a *alertSink) run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.mu.Lock()
			n, chatID, threadID := a.notifier, a.chatID, a.threadID
			a.mu.Unlock()
			if n == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendWait)
			_ = n.NotifyText(sctx, chatID, threadID, msg)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

// WriteLevel never blocks the logging goroutine; a full queue drops.
func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := level >= a.minLevel && a.chatID != 0
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	rec := parseAlert(p)
	msg, send := a.admit(rec)
	if !send {
		return len(p), nil
	}
	select {
	case a.queue <- msg:
	default:
	}
	return len(p), nil
}

// admit applies dedupe and the rate limit and renders the text.
func (a *alertSink) admit(rec alertRecord) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	key := rec.key()
	s := a.seen[key]
	if s != nil && now.Sub(s.last) < a.dedupe {
		s.repeated++
		return "", false
	}
	if !a.limiter.Allow() {
		return "", false
	}
	repeated := 0
	if s != nil {
		repeated = s.repeated
	}
	a.seen[key] = &seenAlert{last: now}
	for k, v := range a.seen {
		if now.Sub(v.last) >= a.dedupe && v.repeated == 0 {
			delete(a.seen, k)
		}
	}
	return rec.render(repeated), true
}

type alertRecord struct {
	level     string
	message   string
	component string
	fields    map[string]any
	raw       string
}

func parseAlert(p []byte) alertRecord {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return alertRecord{raw: line}
	}
	rec := alertRecord{fields: m}
	rec.level, _ = m[zerolog.LevelFieldName].(string)
	rec.message, _ = m[zerolog.MessageFieldName].(string)
	rec.component, _ = m[KeyComponent].(string)
	for _, k := range []string{zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, KeyComponent} {
		delete(m, k)
	}
	return rec
}

// key identifies an alert for dedupe; errors and guild ids are part of it
// so different failures still come through.
func (r alertRecord) key() string {
	if r.raw != "" {
		return r.raw
	}
	return fmt.Sprint(r.level, "|", r.component, "|", r.message, "|", r.fields[zerolog.ErrorFieldName], "|", r.fields[KeyGuild])
}

// render formats "⚠️ WARN refresher: msg" followed by sorted key=value lines.
func (r alertRecord) render(repeated int) string {
	if r.raw != "" {
		return truncate(r.raw, alertMaxLen)
	}
	var b strings.Builder
	b.WriteString(levelIcon(r.level) + " " + strings.ToUpper(r.level))
	if r.component != "" {
		b.WriteString(" " + r.component)
	}
	b.WriteString(": " + r.message)
	if repeated > 0 {
		fmt.Fprintf(&b, " (repeated %dx)", repeated)
	}
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == KeyStack {
			limit = 900
		}
		fmt.Fprintf(&b, "\n%s=%s", k, truncate(fmt.Sprint(r.fields[k]), limit))
	}
	return truncate(b.String(), alertMaxLen)
}

func levelIcon(level string) string {
	switch level {
	case "error", "fatal", "panic":
		return "🔴"
	case "warn":
		return "⚠️"
	}
	return "ℹ️"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
