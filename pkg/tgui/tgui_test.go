package tgui

import (
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 6, "hello…"},
		{"ライブ配信です", 4, "ライブ…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestHTML(t *testing.T) {
	t.Parallel()
	cases := []struct {
		got  H
		want string
	}{
		{B("<x>"), "<b>&lt;x&gt;</b>"},
		{Code("a&b"), "<code>a&amp;b</code>"},
		{Mention("", 42), `<a href="tg://user?id=42">42</a>`},
		{Mention("<Ann>", 7), `<a href="tg://user?id=7">&lt;Ann&gt;</a>`},
		{JoinH(" · ", "a", " ", "", "b"), "a · b"},
	}
	for _, tc := range cases {
		if tc.got.String() != tc.want {
			t.Fatalf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestBtnData(t *testing.T) {
	t.Parallel()
	if got := Btn("x", "sched", "cancel", "").Data; got != "sched:cancel" {
		t.Fatalf("no payload = %q", got)
	}
	if got := Btn("x", "sched", "del", "0042").Data; got != "sched:del:0042" {
		t.Fatalf("payload = %q", got)
	}
	if got := Btn("x", "sched", "del", strings.Repeat("y", 80)).Data; len(got) != maxData {
		t.Fatalf("long data kept %d bytes", len(got))
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		total, page, size int
		want              Page
	}{
		{0, 0, 10, Page{Index: 0, Pages: 1, Total: 0}},
		{27, 1, 10, Page{Index: 1, Pages: 3, From: 10, To: 20, Total: 27, HasPrev: true, HasNext: true}},
		{27, 9, 10, Page{Index: 2, Pages: 3, From: 20, To: 27, Total: 27, HasPrev: true}},
		{5, -1, 10, Page{Index: 0, Pages: 1, From: 0, To: 5, Total: 5}},
		{5, 0, 0, Page{Index: 0, Pages: 1, From: 0, To: 5, Total: 5}},
	}
	for _, tc := range cases {
		if got := Paginate(tc.total, tc.page, tc.size); got != tc.want {
			t.Fatalf("Paginate(%d,%d,%d) = %+v, want %+v", tc.total, tc.page, tc.size, got, tc.want)
		}
	}
	if got := Paginate(27, 1, 10).Label(); got != "Page 2/3 • 11–20 of 27" {
		t.Fatalf("Label = %q", got)
	}
}

func TestKeyboards(t *testing.T) {
	t.Parallel()
	if NewInline().Markup() != nil {
		t.Fatal("empty keyboard should have nil markup")
	}
	rm := ConfirmInline("sched", "del", "0001", "").Markup()
	if rm == nil || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("ConfirmInline markup = %+v", rm)
	}
	if rm.InlineKeyboard[0][1].Data != "sched:cancel" {
		t.Fatalf("cancel data = %q", rm.InlineKeyboard[0][1].Data)
	}
	if Paginate(5, 0, 10).Nav("sched", "events").Markup() != nil {
		t.Fatal("single page should have no nav")
	}

	first := Paginate(30, 0, 10).Nav("sched", "events").Markup()
	if row := first.InlineKeyboard[0]; len(row) != 2 || row[0].Text != "1/3" || row[1].Data != "sched:events:1" {
		t.Fatalf("first page nav = %+v", row)
	}
	mid := Paginate(30, 1, 10).Nav("sched", "events").Markup()
	if row := mid.InlineKeyboard[0]; len(row) != 3 || row[0].Data != "sched:events:0" || row[1].Data != "sched:events:1" {
		t.Fatalf("middle page nav = %+v", row)
	}
}
