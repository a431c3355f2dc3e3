package schedule

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"schedbot/internal/export"
	"schedbot/internal/refresher"
	sched "schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	"schedbot/internal/transport/transporttest"
	logx "schedbot/pkg/logx"
)

var jst = time.FixedZone("JST", 9*3600)

const (
	chat     = int64(-1001)
	owner    = int64(1)
	admin    = int64(10)
	stranger = int64(20)
)

// results receives the outcome of every dispatched request.
type results chan string

func (r results) ObserveCommand(command, result string, d time.Duration) { r <- result }

type fixture struct {
	plugin  *Plugin
	store   storage.Store
	fake    *transporttest.Fake
	updates chan kit.Update
	done    results
	now     time.Time
	cbSeq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:   st,
		fake:    transporttest.New(),
		updates: make(chan kit.Update, 8),
		done:    make(results, 16),
		now:     time.Date(2024, 8, 15, 12, 0, 0, 0, jst),
	}
	f.fake.SetAdmin(chat, admin)
	now := func() time.Time { return f.now }

	r, err := refresher.New(refresher.Deps{Store: st, Adapter: f.fake, Log: logx.Nop(), Now: now},
		refresher.Config{Every: "2m", Location: jst, Markup: sched.TelegramHTML{Location: jst}})
	if err != nil {
		t.Fatalf("refresher.New: %v", err)
	}
	p, err := New(Deps{Store: st, Refresher: r, Locks: r.Locks(), Log: logx.Nop(), Now: now}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.plugin = p

	m := router.NewCommandManager(logx.Nop(), f.fake, router.Options{
		Owners: []int64{owner}, Workers: 1, Timeout: 5 * time.Second, Observer: f.done,
	})
	ctx, cancel := context.WithCancel(context.Background())
	m.SetRegistry(ctx, p.Commands(), p.Callbacks())
	stopped := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, f.updates)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return f
}

func (f *fixture) wait(t *testing.T) string {
	t.Helper()
	select {
	case res := <-f.done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("request did not finish")
		return ""
	}
}

// send dispatches a command and returns its result and the last reply.
func (f *fixture) send(t *testing.T, from int64, text string) (string, string) {
	t.Helper()
	f.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: chat, FromID: from, FromUsername: "user" + strconv.FormatInt(from, 10), Text: text,
	}}
	res := f.wait(t)
	return res, f.fake.LastSent()
}

// press taps an inline button on message msgID.
func (f *fixture) press(t *testing.T, from int64, msgID int, data string) (string, string) {
	t.Helper()
	f.cbSeq++
	id := "cb" + strconv.Itoa(f.cbSeq)
	f.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: id, ChatID: chat, FromID: from, MessageID: msgID, Data: data,
	}}
	res := f.wait(t)
	answer, _ := f.fake.Answer(id)
	return res, answer
}

// lastPrompt returns the id of the latest sent message and checks it has buttons.
func (f *fixture) lastPrompt(t *testing.T) int {
	t.Helper()
	sent := f.fake.Sent()
	if len(sent) == 0 {
		t.Fatal("nothing sent")
	}
	last := sent[len(sent)-1]
	if last.Opt.ReplyMarkup == nil {
		t.Fatalf("message %q has no keyboard", last.Text)
	}
	return last.Ref.MessageID
}

func (f *fixture) schedule(t *testing.T) string {
	t.Helper()
	g, err := f.store.GetGuild(context.Background(), chat)
	if err != nil {
		t.Fatalf("GetGuild: %v", err)
	}
	var parts []string
	for _, id := range g.MessageIDs {
		text, _ := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: id})
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

func (f *fixture) events(t *testing.T) []sched.Event {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), chat)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return events
}

func (f *fixture) setup(t *testing.T) {
	t.Helper()
	if res, reply := f.send(t, admin, "/setup messages=2"); res != "ok" {
		t.Fatalf("/setup = %s %q", res, reply)
	}
}

func (f *fixture) add(t *testing.T, text string) sched.Event {
	t.Helper()
	before := len(f.events(t))
	if res, reply := f.send(t, admin, text); res != "ok" {
		t.Fatalf("%s = %s %q", text, res, reply)
	}
	events := f.events(t)
	if len(events) != before+1 {
		t.Fatalf("event count %d after %s", len(events), text)
	}
	return events[len(events)-1]
}

func expectRejected(t *testing.T, res, reply, want string) {
	t.Helper()
	if res != "rejected" || !strings.Contains(reply, want) {
		t.Fatalf("got %s %q, want rejection containing %q", res, reply, want)
	}
}

func TestSetupAndAdd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, reply := f.send(t, admin, "/add title=Karaoke")
	expectRejected(t, res, reply, "no schedule yet")
	res, reply = f.send(t, stranger, "/setup")
	expectRejected(t, res, reply, "Only chat admins")

	res, reply = f.send(t, admin, "/setup messages=2")
	if res != "ok" || !strings.Contains(reply, "set up with 2 messages") {
		t.Fatalf("/setup = %s %q", res, reply)
	}
	g, err := f.store.GetGuild(context.Background(), chat)
	if err != nil || len(g.MessageIDs) != 2 || !g.Enabled {
		t.Fatalf("guild after setup = %+v, %v", g, err)
	}
	if s := f.schedule(t); !strings.Contains(s, "unnamed schedule") {
		t.Fatalf("schedule not rendered: %q", s)
	}

	e := f.add(t, `/add title="Karaoke <night>" date=8/18 time=20:00`)
	if !strings.Contains(f.fake.LastSent(), "<code>"+e.ID+"</code> created") {
		t.Fatalf("add reply = %q", f.fake.LastSent())
	}
	want := time.Date(2024, 8, 18, 20, 0, 0, 0, jst)
	if !e.Datetime.Equal(want) || e.Type != sched.TypeStream || e.Title != "Karaoke <night>" {
		t.Fatalf("stored event = %+v", e)
	}
	if s := f.schedule(t); !strings.Contains(s, "Karaoke &lt;night&gt;") {
		t.Fatalf("schedule missing new event: %q", s)
	}

	// Bare words are the title.
	e = f.add(t, "/add Birthday party date=12/24 type=event")
	if e.Title != "Birthday party" || e.Type != sched.TypeEvent || !sched.IsSentinel(e.Datetime, jst) {
		t.Fatalf("bare title event = %+v", e)
	}

	res, reply = f.send(t, admin, "/add date=8/18")
	expectRejected(t, res, reply, "needs a title")
	res, reply = f.send(t, admin, "/add title=x time=20:00")
	expectRejected(t, res, reply, "Set a date before setting a time")
}

func TestSetupOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)
	first, _ := f.store.GetGuild(context.Background(), chat)

	res, reply := f.send(t, admin, "/setup 1")
	if res != "ok" || !strings.Contains(reply, "already has a schedule") {
		t.Fatalf("/setup again = %s %q", res, reply)
	}
	prompt := f.lastPrompt(t)
	if res, _ := f.press(t, stranger, prompt, "sched:setup:1"); res != "rejected" {
		t.Fatalf("stranger confirm = %s", res)
	}
	if res, _ := f.press(t, admin, prompt, "sched:setup:1"); res != "ok" {
		t.Fatalf("confirm = %s", res)
	}
	g, _ := f.store.GetGuild(context.Background(), chat)
	if len(g.MessageIDs) != 1 || g.MessageIDs[0] == first.MessageIDs[0] {
		t.Fatalf("guild after override = %+v", g)
	}
	if text, _ := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: prompt}); !strings.Contains(text, "set up with 1 message") {
		t.Fatalf("prompt after confirm = %q", text)
	}
}

func TestEditCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)
	id := f.add(t, "/add title=Stream date=8/18").ID

	get := func() sched.Event {
		e, err := f.store.GetEvent(context.Background(), chat, id)
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		return e
	}
	run := func(text string) {
		t.Helper()
		if res, reply := f.send(t, admin, text); res != "ok" {
			t.Fatalf("%s = %s %q", text, res, reply)
		}
	}

	run("/time " + id + " 21:30")
	if want := time.Date(2024, 8, 18, 21, 30, 0, 0, jst); !get().Datetime.Equal(want) {
		t.Fatalf("after /time = %v, want %v", get().Datetime, want)
	}
	run("/date " + id + " 8/20")
	if want := time.Date(2024, 8, 20, 21, 30, 0, 0, jst); !get().Datetime.Equal(want) {
		t.Fatalf("date edit lost the time: %v", get().Datetime)
	}
	run("/time " + id)
	if !sched.IsSentinel(get().Datetime, jst) {
		t.Fatalf("empty /time should reset to the sentinel: %v", get().Datetime)
	}
	run("/date " + id)
	if get().HasTime() {
		t.Fatalf("empty /date should clear the datetime: %v", get().Datetime)
	}

	res, reply := f.send(t, admin, "/time "+id+" 20:00")
	expectRejected(t, res, reply, "Set a date before setting a time")
	res, reply = f.send(t, admin, "/url "+id+" ftp://example.com")
	expectRejected(t, res, reply, "Invalid URL")
	res, reply = f.send(t, admin, "/title "+id+" "+strings.Repeat("x", 31))
	expectRejected(t, res, reply, "Title too long")
	res, reply = f.send(t, admin, "/edit 9999 title=x")
	expectRejected(t, res, reply, "No event with id")

	run(`/edit ` + id + ` title="Collab" note="with Bob" url=https://youtu.be/abc type=video`)
	e := get()
	if e.Title != "Collab" || e.Note != "with Bob" || e.URL != "https://youtu.be/abc" || e.Type != sched.TypeVideo {
		t.Fatalf("after /edit = %+v", e)
	}
	run("/note " + id)
	if get().Note != "" {
		t.Fatal("empty /note should clear the note")
	}

	// Short ids are padded.
	n, _ := strconv.Atoi(id)
	run("/stash " + strconv.Itoa(n))
	if !get().Stashed {
		t.Fatal("event not stashed")
	}
	if _, reply := f.send(t, admin, "/stash "+id); !strings.Contains(reply, "already stashed") {
		t.Fatalf("second /stash reply = %q", reply)
	}
	run("/unstash " + id)
	if get().Stashed {
		t.Fatal("event still stashed")
	}
}

func TestEditorAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)

	res, reply := f.send(t, stranger, "/add title=Sneaky")
	expectRejected(t, res, reply, "not an editor")
	res, reply = f.send(t, stranger, "/editors add 20")
	expectRejected(t, res, reply, "Only chat admins")

	if res, _ := f.send(t, admin, "/editors add 20"); res != "ok" {
		t.Fatalf("/editors add = %s", res)
	}
	if _, reply := f.send(t, admin, "/editors"); !strings.Contains(reply, "tg://user?id=20") {
		t.Fatalf("/editors = %q", reply)
	}
	if res, _ := f.send(t, stranger, "/add title=Allowed"); res != "ok" {
		t.Fatalf("editor /add = %s", res)
	}
	if res, _ := f.send(t, owner, "/talent Alice"); res != "ok" {
		t.Fatalf("owner /talent = %s", res)
	}

	if res, _ := f.send(t, admin, "/editors remove 20"); res != "ok" {
		t.Fatalf("/editors remove = %s", res)
	}
	res, reply = f.send(t, stranger, "/add title=Again")
	expectRejected(t, res, reply, "not an editor")
	res, reply = f.send(t, admin, "/editors remove 20")
	expectRejected(t, res, reply, "is not an editor")
}

func TestHeaderAndEnable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)

	if res, _ := f.send(t, admin, "/talent Alice"); res != "ok" {
		t.Fatalf("/talent = %s", res)
	}
	if s := f.schedule(t); !strings.Contains(s, "Alice's schedule") {
		t.Fatalf("schedule header = %q", s)
	}
	res, reply := f.send(t, admin, "/talent "+strings.Repeat("a", 41))
	expectRejected(t, res, reply, "Talent name too long")
	res, reply = f.send(t, admin, "/description "+strings.Repeat("d", 201))
	expectRejected(t, res, reply, "Description too long")

	if res, _ := f.send(t, admin, "/description Weekly streams & more"); res != "ok" {
		t.Fatalf("/description = %s", res)
	}
	if s := f.schedule(t); !strings.Contains(s, "Weekly streams &amp; more") {
		t.Fatalf("description not rendered: %q", s)
	}

	if res, _ := f.send(t, admin, "/disable"); res != "ok" {
		t.Fatalf("/disable = %s", res)
	}
	if s := f.schedule(t); !strings.Contains(s, "Currently disabled") {
		t.Fatalf("disabled notice missing: %q", s)
	}
	if _, reply := f.send(t, admin, "/disable"); !strings.Contains(reply, "already disabled") {
		t.Fatalf("second /disable = %q", reply)
	}
	if res, _ := f.send(t, admin, "/enable"); res != "ok" {
		t.Fatalf("/enable = %s", res)
	}
	g, _ := f.store.GetGuild(context.Background(), chat)
	if !g.Enabled || g.Talent != "Alice" {
		t.Fatalf("guild = %+v", g)
	}
}

func TestDeleteAndReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)
	doomed := f.add(t, "/add title=Doomed date=8/20")
	f.add(t, "/add title=Old date=8/1")
	f.add(t, "/add title=Upcoming date=8/30")

	if _, reply := f.send(t, admin, "/delete "+doomed.ID); !strings.Contains(reply, "Delete event") {
		t.Fatalf("/delete prompt = %q", reply)
	}
	prompt := f.lastPrompt(t)
	if res, answer := f.press(t, admin, prompt, "sched:del:"+doomed.ID); res != "ok" || answer != "Deleted" {
		t.Fatalf("confirm delete = %s %q", res, answer)
	}
	if _, err := f.store.GetEvent(context.Background(), chat, doomed.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("event still present: %v", err)
	}
	if text, _ := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: prompt}); !strings.Contains(text, "deleted") {
		t.Fatalf("prompt after delete = %q", text)
	}
	if res, _ := f.press(t, admin, prompt, "sched:del:"+doomed.ID); res != "rejected" {
		t.Fatalf("second confirm = %s", res)
	}

	f.send(t, admin, "/reset past")
	prompt = f.lastPrompt(t)
	if res, _ := f.press(t, admin, prompt, "sched:cancel"); res != "ok" {
		t.Fatalf("cancel = %s", res)
	}
	if text, _ := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: prompt}); !strings.Contains(text, "Cancelled") {
		t.Fatalf("prompt after cancel = %q", text)
	}
	if len(f.events(t)) != 2 {
		t.Fatal("cancel deleted events")
	}

	f.send(t, admin, "/reset past")
	if res, _ := f.press(t, admin, f.lastPrompt(t), "sched:reset:past"); res != "ok" {
		t.Fatalf("reset past = %s", res)
	}
	if events := f.events(t); len(events) != 1 || events[0].Title != "Upcoming" {
		t.Fatalf("events after reset past = %+v", events)
	}

	g, _ := f.store.GetGuild(context.Background(), chat)
	f.send(t, admin, "/reset all")
	if res, _ := f.press(t, admin, f.lastPrompt(t), "sched:reset:all"); res != "ok" {
		t.Fatalf("reset all = %s", res)
	}
	if _, err := f.store.GetGuild(context.Background(), chat); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("guild survived reset all: %v", err)
	}
	for _, id := range g.MessageIDs {
		if _, ok := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: id}); ok {
			t.Fatalf("schedule message %d not deleted", id)
		}
	}
}

func TestEventsList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)
	for i := 0; i < eventsPerPage+2; i++ {
		f.add(t, "/add title=E"+strconv.Itoa(i)+" date=8/"+strconv.Itoa(16+i%10))
	}
	f.add(t, "/add title=Someday")

	_, reply := f.send(t, admin, "/events")
	if !strings.Contains(reply, "Page 1/2") || strings.Contains(reply, "Someday") {
		t.Fatalf("/events page 1 = %q", reply)
	}
	prompt := f.lastPrompt(t)
	if res, _ := f.press(t, admin, prompt, "sched:events:1"); res != "ok" {
		t.Fatalf("next page = %s", res)
	}
	text, _ := f.fake.Text(kit.MessageRef{ChatID: chat, MessageID: prompt})
	if !strings.Contains(text, "Page 2/2") || !strings.Contains(text, "Someday") {
		t.Fatalf("/events page 2 = %q", text)
	}
}

func TestExportHistoryAudit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.setup(t)
	past := f.add(t, "/add title=Debut date=8/1 time=19:00 url=https://youtu.be/x")
	f.add(t, "/add title=Anniversary date=8/20")
	f.add(t, "/add title=Someday")

	if res, _ := f.send(t, stranger, "/export"); res != "ok" {
		t.Fatalf("/export = %s", res)
	}
	docs := f.fake.Documents()
	if len(docs) != 1 {
		t.Fatalf("documents = %d", len(docs))
	}
	doc := docs[0]
	body := string(doc.Data)
	if doc.MIME != "text/calendar" || !strings.HasSuffix(doc.FileName, ".ics") ||
		!strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, export.EventUID(chat, past.ID)) {
		t.Fatalf("document = %s %s %q", doc.FileName, doc.MIME, body)
	}
	if !strings.Contains(doc.Caption, "2 events") || !strings.Contains(doc.Caption, "1 event without a date") {
		t.Fatalf("caption = %q", doc.Caption)
	}

	if _, reply := f.send(t, stranger, "/history"); !strings.Contains(reply, "Debut") || strings.Contains(reply, "Anniversary") {
		t.Fatalf("/history = %q", reply)
	}

	res, reply := f.send(t, admin, "/audit")
	expectRejected(t, res, reply, "bot owner")
	if _, reply := f.send(t, owner, "/audit 2"); strings.Count(reply, "\n• ") != 2 || !strings.Contains(reply, "@user10") {
		t.Fatalf("/audit = %q", reply)
	}
}

func TestApplyFields(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 8, 15, 12, 0, 0, 0, jst)
	timed := sched.Event{
		ID: "0001", Title: "x", Type: sched.TypeStream,
		Datetime: time.Date(2024, 8, 18, 20, 0, 0, 0, jst), Granularity: sched.DayGranularity,
	}
	monthOnly := sched.Event{ID: "0002", Title: "y", Datetime: sched.AtSentinel(2024, 10, 31, jst), Granularity: sched.Granularity{Year: true, Month: true}}

	tests := []struct {
		name   string
		base   sched.Event
		fields map[string]string
		want   time.Time
		reject string
	}{
		{"time keeps date", timed, map[string]string{"time": "9pm"}, time.Date(2024, 8, 18, 21, 0, 0, 0, jst), ""},
		{"date keeps time", timed, map[string]string{"date": "9/1"}, time.Date(2024, 9, 1, 20, 0, 0, 0, jst), ""},
		{"date and time together", sched.Event{Title: "z"}, map[string]string{"date": "8/20", "time": "27:00"}, time.Date(2024, 8, 21, 3, 0, 0, 0, jst), ""},
		{"clear date clears time", timed, map[string]string{"date": ""}, time.Time{}, ""},
		{"month date drops time", timed, map[string]string{"date": "October"}, sched.AtSentinel(2024, 10, 31, jst), ""},
		{"time needs a full date", monthOnly, map[string]string{"time": "20:00"}, time.Time{}, "Set a date"},
		{"bad date", timed, map[string]string{"date": "13/45"}, time.Time{}, "Bad date input"},
		{"bad time", timed, map[string]string{"time": "25:99"}, time.Time{}, "Bad time input"},
		{"unknown field", timed, map[string]string{"colour": "red"}, time.Time{}, `Unknown field "colour"`},
		{"note too long", timed, map[string]string{"note": strings.Repeat("n", 31)}, time.Time{}, "Note too long"},
		{"empty type", timed, map[string]string{"type": ""}, time.Time{}, "Give a type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := applyFields(tc.base, tc.fields, now)
			if tc.reject != "" {
				reason, ok := router.IsRejection(err)
				if !ok || !strings.Contains(reason, tc.reject) {
					t.Fatalf("err = %v, want rejection %q", err, tc.reject)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyFields: %v", err)
			}
			if !got.Datetime.Equal(tc.want) {
				t.Fatalf("Datetime = %v, want %v", got.Datetime, tc.want)
			}
		})
	}
}

func TestChunkLines(t *testing.T) {
	t.Parallel()
	lines := []string{"aaaa", "bbbb", "cccc", strings.Repeat("z", 20)}
	got := chunkLines(lines, 9)
	want := []string{"aaaa\nbbbb", "cccc", "zzzzzzzz…"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunkLines = %q, want %q", got, want)
	}
	if got := chunkLines(nil, 10); len(got) != 1 || got[0] != "" {
		t.Fatalf("chunkLines(nil) = %q", got)
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"42": "0042", "0042": "0042", " 7 ": "0007", "abc": "abc", "12345": "12345"} {
		if got := normalizeID(in); got != want {
			t.Fatalf("normalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
