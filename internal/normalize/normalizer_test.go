package normalize

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kalambet/ankiexplainer/internal/anki"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clozeCard(cardID, noteID int64, ord int, deck, text string) anki.Card {
	return anki.Card{
		CardID:   cardID,
		NoteID:   noteID,
		Ord:      ord,
		DeckName: deck,
		Fields: map[string]anki.Field{
			"Text": {Value: text},
		},
	}
}

func TestCollapseAll(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The capital is {{c1::Paris}}.", "The capital is Paris."},
		{"{{c1::A}} and {{c2::B}} and {{c12::C}}", "A and B and C"},
		{"{{c1::Paris::capital}}", "Paris"},
		{"{{c1::line1\nline2}}", "line1\nline2"},
		{"{{c1::outer {{c2::inner}} }}", "outer inner "},
		{"no cloze here", "no cloze here"},
	}
	for _, tt := range tests {
		if got := CollapseAll(tt.in); got != tt.want {
			t.Errorf("CollapseAll(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollapseAll_Idempotent(t *testing.T) {
	inputs := []string{
		"{{c1::A}} {{c2::B::hint}}",
		"{{c1::outer {{c2::inner}} }}",
		"{{c1::{{c2::{{c3::deep}}}}}}",
		"plain {{ not a cloze }}",
	}
	for _, in := range inputs {
		once := CollapseAll(in)
		if twice := CollapseAll(once); twice != once {
			t.Errorf("CollapseAll not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCollapseOthers_KeepsOwnOrdinal(t *testing.T) {
	got := CollapseOthers("{{c1::A}} {{c2::B}} {{c12::C}}", 2)
	want := "A {{c2::B}} C"
	if got != want {
		t.Errorf("CollapseOthers = %q, want %q", got, want)
	}
}

func TestRemoveMedia(t *testing.T) {
	in := `Heart <img src="heart.png"> sound [sound:beat.mp3] <audio src="a.mp3"></audio>end`
	got := RemoveMedia(in)
	for _, bad := range []string{"<img", "[sound:", "<audio"} {
		if strings.Contains(got, bad) {
			t.Errorf("RemoveMedia left %q in %q", bad, got)
		}
	}
	if !strings.Contains(got, "Heart") || !strings.Contains(got, "end") {
		t.Errorf("RemoveMedia dropped text: %q", got)
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<div><b>Bold</b> &amp; <i>italic</i></div>`)
	if got != "Bold & italic" {
		t.Errorf("StripHTML = %q", got)
	}
}

func TestContent_NoteMode(t *testing.T) {
	n := New(Options{Fields: []string{"Text"}, NoteMode: true}, quietLogger())
	card := clozeCard(1, 10, 0, "Geo", "The capital of France is {{c1::Paris}}<br>and of Italy {{c2::Rome}}")

	got := n.Content(card)
	want := "Text: The capital of France is Paris\nand of Italy Rome"
	if got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}
}

func TestContent_PerCardMode(t *testing.T) {
	n := New(Options{Fields: []string{"Text"}, NoteMode: false}, quietLogger())
	card := clozeCard(2, 10, 1, "Geo", "{{c1::Paris}} and {{c2::Rome}}")

	got := n.Content(card)
	if !strings.Contains(got, "{{c2::Rome}}") {
		t.Errorf("own ordinal should stay marked: %q", got)
	}
	if strings.Contains(got, "{{c1::") {
		t.Errorf("other ordinal should be collapsed: %q", got)
	}
}

func TestContent_TransformApplied(t *testing.T) {
	n := New(Options{
		Fields:    []string{"Text"},
		NoteMode:  true,
		Transform: func(cloze string) string { return strings.ReplaceAll(cloze, "France", "FR") },
	}, quietLogger())

	got := n.Content(clozeCard(1, 1, 0, "Geo", "{{c1::France}}"))
	if got != "Text: FR" {
		t.Errorf("Content = %q", got)
	}
}

func TestContent_FieldLabels(t *testing.T) {
	n := New(Options{Fields: []string{"Text", "back extra"}, NoteMode: true}, quietLogger())
	card := anki.Card{Fields: map[string]anki.Field{
		"Text":       {Value: " front "},
		"back extra": {Value: "more"},
	}}
	want := "Text: front\nBack Extra: more"
	if got := n.Content(card); got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}
}

func TestFilter_NoteModeKeepsFirstSeen(t *testing.T) {
	n := New(Options{Fields: []string{"Text"}, NoteMode: true}, quietLogger())
	cards := []anki.Card{
		clozeCard(200, 10, 1, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
		clozeCard(100, 10, 0, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
		clozeCard(300, 20, 0, "Geo", "{{c1::Berlin}}"),
	}

	res := n.Filter(cards)
	if len(res.Cards) != 2 {
		t.Fatalf("kept %d cards, want 2", len(res.Cards))
	}
	if res.Cards[0].CardID != 200 {
		t.Errorf("first kept card = %d, want 200 (first seen)", res.Cards[0].CardID)
	}
	if len(res.Excluded) != 1 || res.Excluded[0] != 100 {
		t.Errorf("excluded = %v, want [100]", res.Excluded)
	}
	if strings.Contains(res.Cards[0].FormattedContent, "{{") {
		t.Errorf("cloze markers left: %q", res.Cards[0].FormattedContent)
	}
}

func TestFilter_PerCardModeKeepsSiblings(t *testing.T) {
	n := New(Options{Fields: []string{"Text"}, NoteMode: false}, quietLogger())
	cards := []anki.Card{
		clozeCard(1, 10, 0, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
		clozeCard(2, 10, 1, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
	}
	if res := n.Filter(cards); len(res.Cards) != 2 {
		t.Errorf("kept %d cards, want 2", len(res.Cards))
	}
}

func TestFilter_Skip(t *testing.T) {
	n := New(Options{
		Fields:   []string{"Text"},
		NoteMode: true,
		Skip:     func(c anki.Card) bool { return c.CardID == 1 },
	}, quietLogger())

	res := n.Filter([]anki.Card{clozeCard(1, 10, 0, "A", "x"), clozeCard(2, 20, 0, "A", "y")})
	if len(res.Cards) != 1 || res.Cards[0].CardID != 2 {
		t.Errorf("kept = %+v", res.Cards)
	}
}

func TestGroupByDeck_ReverseOrder(t *testing.T) {
	cards := []anki.Card{
		{CardID: 1, DeckName: "Alpha", FormattedContent: "b"},
		{CardID: 2, DeckName: "Zeta", FormattedContent: "z"},
		{CardID: 3, DeckName: "Alpha", FormattedContent: "a"},
		{CardID: 4, DeckName: "Mid", FormattedContent: "m"},
	}

	decks := GroupByDeck(cards)
	names := []string{decks[0].Name, decks[1].Name, decks[2].Name}
	want := []string{"Zeta", "Mid", "Alpha"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("deck order = %v, want %v", names, want)
		}
	}
	if decks[2].Cards[0].CardID != 3 {
		t.Errorf("Alpha cards not sorted by content: %+v", decks[2].Cards)
	}
}
