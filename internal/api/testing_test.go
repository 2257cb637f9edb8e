package api

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/kalambet/ankiexplainer/internal/anki"
	"github.com/kalambet/ankiexplainer/internal/history"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cost(v float64) *float64 { return &v }

// writeHistory saves a small two-card history and returns a loader for it.
func writeHistory(t *testing.T) Loader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "explainer_history.json")
	store, err := history.Load(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	store.Append("11", history.Event{
		Card:        anki.Card{CardID: 11, NoteID: 7, DeckName: "Geo"},
		Timestamp:   100,
		Date:        "18/10/2026",
		Explanation: "first",
		DollarCost:  cost(0.25),
		Version:     "1.6",
		Model:       "anthropic/claude-3.5-sonnet",
	})
	store.Append("11", history.Event{
		Card:        anki.Card{CardID: 11, NoteID: 7, DeckName: "Geo"},
		Timestamp:   200,
		Date:        "19/10/2026",
		Explanation: "second",
		DollarCost:  cost(0.125),
		Version:     "1.7",
		Model:       "anthropic/claude-3.5-sonnet",
	})
	store.Append("12", history.Event{
		Card:        anki.Card{CardID: 12, NoteID: 8, DeckName: "Med::Cardio"},
		Timestamp:   300,
		Date:        "19/10/2026",
		Explanation: "third",
		DollarCost:  cost(0.5),
		Version:     "1.7",
		Model:       "openai/gpt-4o",
	})
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}
	return FileLoader(path, quietLogger())
}
