package schedule

// TypeGlyphs are the per-type icons for each display state.
type TypeGlyphs struct {
	Past        string
	Confirmed   string
	Unconfirmed string
}

// Glyphs is the icon set used by the renderer. DD, DR, TR and ED draw the
// tree on the left of the event list.
type Glyphs struct {
	DD, DR, TR, ED string
	None           string
	Stash          string
	YouTube        string
	Link           string
	Types          [5]TypeGlyphs
}

// DefaultGlyphs uses box drawing characters and emoji only, so they render
// on any client.
func DefaultGlyphs() Glyphs {
	live := TypeGlyphs{Past: "✅", Confirmed: "▶️", Unconfirmed: "💭"}
	return Glyphs{
		DD:      "│",
		DR:      "├",
		TR:      "└",
		ED:      "╵",
		None:    "      ",
		Stash:   "❌",
		YouTube: "📺",
		Link:    "🔗",
		Types: [5]TypeGlyphs{
			TypeStream:  live,
			TypeVideo:   {Past: "🎞️", Confirmed: "🎞️", Unconfirmed: "🎞️"},
			TypeEvent:   {Past: "🎆", Confirmed: "🎆", Unconfirmed: "🎆"},
			TypeRelease: {Past: "💿", Confirmed: "💿", Unconfirmed: "💿"},
			TypeOther:   live,
		},
	}
}

func (g Glyphs) forType(t EventType) TypeGlyphs {
	if !t.Valid() {
		t = TypeOther
	}
	return g.Types[t]
}
