package normalize

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kalambet/ankiexplainer/internal/anki"
)

// Options controls how card content is normalized and deduplicated.
type Options struct {
	// Fields are concatenated in this order, each labeled with its name.
	Fields []string
	// NoteMode collapses every cloze ordinal and keeps one card per note.
	// When false, the card's own ordinal stays marked.
	NoteMode bool
	// Transform, when non-nil, runs after media removal and before cloze
	// resolution.
	Transform func(cloze string) string
	// Skip reports cards to exclude up front, e.g. those already explained
	// at the current version.
	Skip func(card anki.Card) bool
}

// Normalizer turns raw Anki cards into the plain text sent to the model.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger uses slog.Default().
func New(opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{opts: opts, logger: logger}
}

// Content returns the normalized text for a single card.
func (n *Normalizer) Content(card anki.Card) string {
	var sb strings.Builder
	for _, name := range n.opts.Fields {
		sb.WriteString("\n")
		sb.WriteString(titleCase(name))
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(card.FieldValue(name)))
	}
	content := strings.TrimSpace(sb.String())

	content = RemoveMedia(content)

	if n.opts.Transform != nil {
		content = n.opts.Transform(content)
	}

	if n.opts.NoteMode {
		content = CollapseAll(content)
	} else {
		content = CollapseOthers(content, card.Ord+1)
	}

	content = BreaksToNewlines(content)
	return StripHTML(content)
}

// Result is the outcome of Filter.
type Result struct {
	Cards    []anki.Card
	Excluded []int64
}

// Filter normalizes every card in fetch order, storing the text in
// FormattedContent, and drops duplicates. In note mode only the first card
// seen for each note survives.
func (n *Normalizer) Filter(cards []anki.Card) Result {
	excluded := make(map[int64]bool)
	seenNotes := make(map[int64]bool)
	var order []int64

	normalized := make([]anki.Card, len(cards))
	for i, card := range cards {
		if n.opts.NoteMode {
			if seenNotes[card.NoteID] {
				if !excluded[card.CardID] {
					order = append(order, card.CardID)
				}
				excluded[card.CardID] = true
			} else {
				seenNotes[card.NoteID] = true
			}
		}
		if n.opts.Skip != nil && n.opts.Skip(card) {
			if !excluded[card.CardID] {
				order = append(order, card.CardID)
			}
			excluded[card.CardID] = true
		}

		card.FormattedContent = n.Content(card)
		n.logger.Debug("normalized card", "card_id", card.CardID, "content", card.FormattedContent)
		normalized[i] = card
	}

	kept := make([]anki.Card, 0, len(normalized))
	for _, card := range normalized {
		if !excluded[card.CardID] {
			kept = append(kept, card)
		}
	}

	n.logger.Info("cards filtered", "excluded", len(order), "remaining", len(kept))
	return Result{Cards: kept, Excluded: order}
}

// Deck is one deck's share of the filtered cards.
type Deck struct {
	Name  string
	Cards []anki.Card
}

// GroupByDeck partitions cards by deck name. Decks come back in reverse
// lexicographic order and cards within a deck are sorted by their
// normalized content.
func GroupByDeck(cards []anki.Card) []Deck {
	byName := make(map[string][]anki.Card)
	for _, c := range cards {
		byName[c.DeckName] = append(byName[c.DeckName], c)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	decks := make([]Deck, len(names))
	for i, name := range names {
		dc := byName[name]
		sort.SliceStable(dc, func(a, b int) bool {
			return dc[a].FormattedContent < dc[b].FormattedContent
		})
		decks[i] = Deck{Name: name, Cards: dc}
	}
	return decks
}

// titleCase upper-cases the first letter of each word and lower-cases the
// rest, so "back extra" becomes "Back Extra".
func titleCase(s string) string {
	var sb strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		sb.WriteRune(r)
		prevLetter = false
	}
	return sb.String()
}
