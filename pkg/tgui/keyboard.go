package tgui

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

// maxData is Telegram's callback_data limit in bytes.
const maxData = 64

// Inline builds an inline keyboard row by row.
type Inline struct {
	rows [][]tele.InlineButton
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of callback buttons; buttons are (text, data) pairs
// built with Btn. Empty rows are ignored.
func (k *Inline) Row(btns ...tele.InlineButton) *Inline {
	if len(btns) > 0 {
		k.rows = append(k.rows, btns)
	}
	return k
}

// Markup returns the keyboard, or nil when it has no rows.
func (k *Inline) Markup() *tele.ReplyMarkup {
	if len(k.rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: k.rows}
}

// Btn is a callback button for group:action:payload. A payload that would
// push the data past Telegram's limit is cut.
func Btn(text, group, action, payload string) tele.InlineButton {
	data := group + ":" + action
	if payload != "" {
		data += ":" + payload
	}
	if len(data) > maxData {
		data = data[:maxData]
	}
	return tele.InlineButton{Text: text, Data: data}
}

// ConfirmInline is a confirm/cancel pair. Cancel always maps to
// group:cancel.
func ConfirmInline(group, action, payload, yesText string) *Inline {
	if yesText == "" {
		yesText = "✅ Confirm"
	}
	return NewInline().Row(
		Btn(yesText, group, action, payload),
		Btn("✖️ Cancel", group, "cancel", ""),
	)
}

// Page is one window over a list of Total items.
type Page struct {
	Index   int // 0-based, clamped
	Pages   int
	From    int // inclusive
	To      int // exclusive
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate clamps page into range and returns its window.
func Paginate(total, page, size int) Page {
	if size <= 0 {
		size = 10
	}
	pages := max(1, (total+size-1)/size)
	page = min(max(page, 0), pages-1)
	from := min(page*size, total)
	to := min(from+size, total)
	return Page{
		Index: page, Pages: pages, From: from, To: to, Total: total,
		HasPrev: page > 0, HasNext: to < total,
	}
}

// Label renders "Page 2/3 • 11–20 of 27".
func (p Page) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, p.Pages, p.From+1, p.To, p.Total)
}

// Nav is a prev/position/next row over group:action:<page>. The middle
// button reloads the current page. A single page has no keyboard.
func (p Page) Nav(group, action string) *Inline {
	kb := NewInline()
	if p.Pages <= 1 {
		return kb
	}
	var row []tele.InlineButton
	if p.HasPrev {
		row = append(row, Btn("◀️", group, action, strconv.Itoa(p.Index-1)))
	}
	row = append(row, Btn(fmt.Sprintf("%d/%d", p.Index+1, p.Pages), group, action, strconv.Itoa(p.Index)))
	if p.HasNext {
		row = append(row, Btn("▶️", group, action, strconv.Itoa(p.Index+1)))
	}
	return kb.Row(row...)
}
