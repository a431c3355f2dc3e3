package schedule

import (
	"strconv"
	"strings"
	"time"
)

// DefaultPastLimit is how many past events the schedule shows.
const DefaultPastLimit = 3

// subIndent lines up title and note sub-lines under the event time.
const subIndent = "               "

// Renderer turns a guild snapshot into schedule lines.
type Renderer struct {
	Markup    Markup
	Location  *time.Location
	Glyphs    Glyphs
	PastLimit int
}

// NewRenderer returns a Renderer with the default glyphs and past limit.
func NewRenderer(m Markup, loc *time.Location) Renderer {
	return Renderer{Markup: m, Location: loc, Glyphs: DefaultGlyphs(), PastLimit: DefaultPastLimit}
}

func (r Renderer) formatter() Formatter { return Formatter{Markup: r.Markup, Location: r.loc()} }

func (r Renderer) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Renderer) glyphs() Glyphs {
	if r.Glyphs.DD == "" {
		return DefaultGlyphs()
	}
	return r.Glyphs
}

func (r Renderer) pastLimit() int {
	if r.PastLimit <= 0 {
		return DefaultPastLimit
	}
	return r.PastLimit
}

// Render produces the schedule as display lines. An empty string is a blank line.
func (r Renderer) Render(cfg GuildConfig, events []Event, now time.Time) []string {
	lines := r.headline(cfg, now)
	lines = append(lines, "")
	if len(events) == 0 {
		return append(lines, "Use /add to add some events!")
	}

	c := Classify(events, now)
	if len(c.Past) > 0 {
		lines = append(lines, r.pastBlock(c.Past, now)...)
		lines = append(lines, "")
	}
	lines = append(lines, r.nextUpBlock(c.NextUp, now)...)
	if len(c.Future) > 0 {
		lines = append(lines, "")
		lines = append(lines, r.futureBlock(c.Future, now)...)
	}
	return lines
}

// RenderHistory lists every past event, oldest first.
func (r Renderer) RenderHistory(cfg GuildConfig, events []Event, now time.Time) []string {
	m := r.Markup
	title := "Past events"
	if name := strings.TrimSpace(cfg.Talent); name != "" {
		title = possessive(name) + " past events"
	}
	lines := []string{"🗂️  " + m.Underline(m.Bold(m.Escape(title))), ""}

	past := Classify(events, now).Past
	if len(past) == 0 {
		return append(lines, "Nothing has happened yet.")
	}
	return append(lines, r.eventTree(past, now)...)
}

func (r Renderer) headline(cfg GuildConfig, now time.Time) []string {
	m := r.Markup
	var lines []string
	if name := strings.TrimSpace(cfg.Talent); name != "" {
		lines = append(lines, m.Heading(m.Underline(m.Escape(possessive(name))+" schedule")))
	} else {
		lines = append(lines, m.Heading(m.Underline("An unnamed schedule")))
	}

	zone := m.Bold(now.In(r.loc()).Format("MST"))
	if _, native := m.(DiscordMarkup); native {
		lines = append(lines, "(Events with timestamps are in your "+m.Bold("local timezone")+", and all other times are in "+zone+".)")
	} else {
		lines = append(lines, "(All times are in "+zone+".)")
	}

	if desc := strings.TrimSpace(cfg.Description); desc != "" {
		lines = append(lines, "", m.Quote(m.Escape(desc)))
	}
	lines = append(lines, "", m.Quote("Last refreshed "+m.Timestamp(now, now, StyleRelative)+"."))
	if !cfg.Enabled {
		lines = append(lines, m.Quote("⛔  "+m.Italic("Currently disabled.")))
	}
	return lines
}

func (r Renderer) pastBlock(past []Event, now time.Time) []string {
	m := r.Markup
	shown := past
	if len(shown) > r.pastLimit() {
		shown = shown[len(shown)-r.pastLimit():]
	}

	noun := "Events"
	if len(shown) == 1 {
		noun = "Event"
	}
	header := "🗂️  " + m.Underline(m.Bold("Past "+strconv.Itoa(len(shown))+" "+noun))
	if len(past) > len(shown) {
		header += "  (See all " + strconv.Itoa(len(past)) + " events with /history)"
	}
	return append([]string{header}, r.eventTree(shown, now)...)
}

// eventTree draws past events as a closed tree; the last one gets the corner glyph.
func (r Renderer) eventTree(events []Event, now time.Time) []string {
	g := r.glyphs()
	f := r.formatter()
	var lines []string
	for i, e := range events {
		last := i == len(events)-1
		branch, stem := g.DR, g.DD
		if last {
			branch, stem = g.TR, g.None
		}
		abs, _ := f.Format(e, now)
		lines = append(lines, g.DD, branch+"  "+r.eventHead(e, abs, true))
		lines = append(lines, stem+subIndent+r.titleText(e))
		if note := r.noteText(e); note != "" {
			lines = append(lines, stem+subIndent+note)
		}
	}
	return lines
}

func (r Renderer) nextUpBlock(e *Event, now time.Time) []string {
	m := r.Markup
	g := r.glyphs()
	lines := []string{"⏰  " + m.Underline(m.Bold("Next Up"))}
	if e == nil {
		return append(lines, g.DD, g.TR+"  Nothing planned in the future...")
	}

	abs, rel := r.formatter().Format(*e, now)
	lines = append(lines, g.DD, g.DR+"  "+r.eventHead(*e, abs, false))
	if rel != "" {
		lines = append(lines, g.DD+subIndent+rel)
	}
	lines = append(lines, g.TR+"  "+m.Bold(r.titleText(*e)))
	if note := r.noteText(*e); note != "" {
		lines = append(lines, g.None+subIndent+note)
	}
	return lines
}

func (r Renderer) futureBlock(future []Event, now time.Time) []string {
	m := r.Markup
	g := r.glyphs()
	f := r.formatter()
	lines := []string{"☁️  " + m.Underline(m.Bold("Upcoming"))}

	var prev *Event
	for i := range future {
		e := future[i]
		if prev == nil || r.needsSeparator(*prev, e) {
			lines = append(lines, g.DD)
		}
		abs, rel := f.Format(e, now)
		head := g.DR + "  " + r.eventHead(e, abs, false)
		if rel == "" {
			lines = append(lines, head+"  "+r.titleText(e))
		} else {
			lines = append(lines, head, g.DD+subIndent+r.titleText(e))
		}
		if note := r.noteText(e); note != "" {
			lines = append(lines, g.DD+subIndent+note)
		}
		prev = &future[i]
	}
	return append(lines, g.ED)
}

// needsSeparator reports whether a spacer line goes between two upcoming events.
func (r Renderer) needsSeparator(prev, cur Event) bool {
	if r.noteText(prev) != "" {
		return true
	}
	return r.dayKey(prev) != r.dayKey(cur)
}

func (r Renderer) dayKey(e Event) string {
	if !e.HasTime() {
		return ""
	}
	return e.Datetime.In(r.loc()).Format("2006-01-02")
}

// eventHead is the id, glyph and time part of an event line.
func (r Renderer) eventHead(e Event, abs string, past bool) string {
	m := r.Markup
	when := abs
	if e.Stashed {
		when = m.Strike(when)
	}
	return m.Spoiler(m.Code(m.Escape(e.ID))) + "  " + r.glyph(e, past) + "  " + m.Bold(when)
}

func (r Renderer) glyph(e Event, past bool) string {
	g := r.glyphs()
	if e.Stashed {
		return g.Stash
	}
	tg := g.forType(e.Type)
	switch {
	case past:
		return tg.Past
	case e.Confirmed(r.loc()):
		return tg.Confirmed
	default:
		return tg.Unconfirmed
	}
}

func (r Renderer) titleText(e Event) string {
	m := r.Markup
	title := m.Escape(e.Title)
	if e.Stashed {
		title = m.Strike(title)
	}
	url := strings.TrimSpace(e.URL)
	if url == "" {
		return title
	}
	icon := r.glyphs().Link
	if IsYouTubeURL(url) {
		icon = r.glyphs().YouTube
	}
	return icon + " " + m.Link(title, url)
}

func (r Renderer) noteText(e Event) string {
	note := strings.TrimSpace(e.Note)
	if note == "" {
		return ""
	}
	return r.Markup.Italic("(" + r.Markup.Escape(note) + ")")
}

// possessive appends 's, or only an apostrophe when the name ends in s.
func possessive(name string) string {
	if strings.HasSuffix(strings.ToLower(name), "s") {
		return name + "'"
	}
	return name + "'s"
}
