package tgui

import (
	"html"
	"strconv"
	"strings"
)

// H is text already safe for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// Mention links name to a user; an empty name shows the id.
func Mention(name string, userID int64) H {
	id := strconv.FormatInt(userID, 10)
	if name == "" {
		name = id
	}
	return H(`<a href="tg://user?id=` + id + `">` + html.EscapeString(name) + `</a>`)
}

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

// TruncRunes cuts s to at most n runes; a cut string ends in "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
