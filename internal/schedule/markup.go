package schedule

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// TimestampStyle selects absolute or relative timestamp rendering.
type TimestampStyle int

const (
	StyleFull TimestampStyle = iota
	StyleRelative
)

// Markup is a chat formatting dialect. Every wrapper expects already escaped text.
type Markup interface {
	Escape(s string) string
	Bold(s string) string
	Italic(s string) string
	Underline(s string) string
	Strike(s string) string
	Spoiler(s string) string
	Code(s string) string
	Quote(s string) string
	Heading(s string) string
	Link(text, url string) string
	Timestamp(t, now time.Time, style TimestampStyle) string
	// Blank is a line the platform will not collapse.
	Blank() string
	// ParseMode is passed to the transport when sending the text.
	ParseMode() string
}

// Markup dialect names accepted by MarkupByName.
const (
	MarkupDiscord      = "discord"
	MarkupTelegramHTML = "telegram_html"
)

// MarkupByName resolves a dialect. loc is the display zone used by dialects
// that have no native client-side timestamps.
func MarkupByName(name string, loc *time.Location) (Markup, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MarkupDiscord:
		return DiscordMarkup{}, nil
	case "", MarkupTelegramHTML, "html":
		return TelegramHTML{Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown markup %q", name)
	}
}

// DiscordMarkup is the markdown flavour with <t:N:x> timestamps.
type DiscordMarkup struct{}

var discordEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "|", `\|`, "`", "\\`", ">", `\>`,
)

func (DiscordMarkup) Escape(s string) string    { return discordEscaper.Replace(s) }
func (DiscordMarkup) Bold(s string) string      { return "**" + s + "**" }
func (DiscordMarkup) Italic(s string) string    { return "*" + s + "*" }
func (DiscordMarkup) Underline(s string) string { return "__" + s + "__" }
func (DiscordMarkup) Strike(s string) string    { return "~~" + s + "~~" }
func (DiscordMarkup) Spoiler(s string) string   { return "||" + s + "||" }
func (DiscordMarkup) Code(s string) string      { return "`" + s + "`" }
func (DiscordMarkup) Quote(s string) string     { return "> " + s }
func (DiscordMarkup) Heading(s string) string   { return "# " + s }
func (DiscordMarkup) Blank() string             { return "** **" }
func (DiscordMarkup) ParseMode() string         { return "Markdown" }

func (DiscordMarkup) Link(text, url string) string {
	return "[" + text + "](<" + url + ">)"
}

func (DiscordMarkup) Timestamp(t, _ time.Time, style TimestampStyle) string {
	code := "f"
	if style == StyleRelative {
		code = "R"
	}
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), code)
}

// TelegramHTML renders Telegram's HTML parse mode. Timestamps are printed
// in Location since Telegram has no client-side timestamp entity.
type TelegramHTML struct {
	Location *time.Location
}

var telegramEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (TelegramHTML) Escape(s string) string    { return telegramEscaper.Replace(s) }
func (TelegramHTML) Bold(s string) string      { return "<b>" + s + "</b>" }
func (TelegramHTML) Italic(s string) string    { return "<i>" + s + "</i>" }
func (TelegramHTML) Underline(s string) string { return "<u>" + s + "</u>" }
func (TelegramHTML) Strike(s string) string    { return "<s>" + s + "</s>" }
func (TelegramHTML) Spoiler(s string) string   { return "<tg-spoiler>" + s + "</tg-spoiler>" }
func (TelegramHTML) Code(s string) string      { return "<code>" + s + "</code>" }
func (TelegramHTML) Quote(s string) string     { return "<blockquote>" + s + "</blockquote>" }
func (TelegramHTML) Heading(s string) string   { return "<b>" + s + "</b>" }
func (TelegramHTML) Blank() string             { return "\u200b" }
func (TelegramHTML) ParseMode() string         { return "HTML" }

func (TelegramHTML) Link(text, url string) string {
	return `<a href="` + html.EscapeString(url) + `">` + text + "</a>"
}

const telegramStampLayout = "Mon, Jan 2 15:04 MST"

func (m TelegramHTML) Timestamp(t, now time.Time, style TimestampStyle) string {
	if style == StyleRelative {
		return humanize.RelTime(t, now, "ago", "from now")
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(telegramStampLayout)
}
