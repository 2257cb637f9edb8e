package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kalambet/ankiexplainer/internal/anki"
)

// ErrMissingCost is returned by Load when an event carries neither
// dollar_cost nor dollar_cost_retroactive.
var ErrMissingCost = errors.New("missing dollar_cost (or retroactive) column in history")

// Event is one explanation written onto a card. JSON names match the
// history files produced by earlier versions of the explainer.
type Event struct {
	Card         anki.Card `json:"cardsInfo"`
	Timestamp    int64     `json:"timestamp"`
	Date         string    `json:"datetime"`
	Explanation  string    `json:"explan"`
	Obsolete     bool      `json:"obsolete"`
	InputTokens  int       `json:"input_cost"`
	OutputTokens int       `json:"output_cost"`
	DollarCost   *float64  `json:"dollar_cost,omitempty"`
	// Older files computed the cost after the fact.
	RetroactiveCost *float64 `json:"dollar_cost_retroactive,omitempty"`
	InputString     string   `json:"input_string"`
	Version         string   `json:"version,omitempty"`
	Model           string   `json:"model,omitempty"`
	RunID           string   `json:"run_id,omitempty"`
}

// Cost returns the event's dollar cost and whether one was recorded.
func (e Event) Cost() (float64, bool) {
	switch {
	case e.DollarCost != nil:
		return *e.DollarCost, true
	case e.RetroactiveCost != nil:
		return *e.RetroactiveCost, true
	}
	return 0, false
}

// Store holds the explanation history keyed by card id. It has exactly one
// writer; Save replaces the file atomically after every append.
type Store struct {
	path   string
	events map[string][]Event
	logger *slog.Logger
}

// renameFile is swapped in tests to simulate a crash before the rename.
var renameFile = os.Rename

// Load reads the history file at path. A missing file yields an empty store.
// An unreadable or malformed file is moved aside to <path>.corrupt-<unix>
// and the run starts empty; an event without a cost is fatal.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, events: make(map[string][]Event), logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("history file not found, starting empty", "path", path)
		return s, nil
	case err != nil:
		logger.Error("failed to read history file", "path", path, "error", err)
		s.quarantine()
		return s, nil
	}

	if err := json.Unmarshal(data, &s.events); err != nil {
		logger.Error("failed to parse history file", "path", path, "error", err)
		s.events = make(map[string][]Event)
		s.quarantine()
		return s, nil
	}
	if s.events == nil {
		s.events = make(map[string][]Event)
	}

	for cid, events := range s.events {
		for i, e := range events {
			if _, ok := e.Cost(); !ok {
				return nil, fmt.Errorf("card %s event %d: %w", cid, i, ErrMissingCost)
			}
		}
	}

	logger.Info("history loaded", "cards", len(s.events), "total_spent", fmt.Sprintf("$%.2f", s.TotalCost()))
	return s, nil
}

// quarantine moves an unusable history file out of the way so the next
// Save cannot overwrite it.
func (s *Store) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		s.logger.Error("could not move unusable history file aside", "path", s.path, "error", err)
		return
	}
	s.logger.Warn("unusable history file moved aside, starting empty", "path", s.path, "moved_to", dst)
}

// Path returns the durable file location.
func (s *Store) Path() string {
	return s.path
}

// Append adds an event to the card's list, creating the list if needed.
func (s *Store) Append(cardID string, e Event) {
	s.events[cardID] = append(s.events[cardID], e)
}

// Events returns the card's events in append order.
func (s *Store) Events(cardID string) []Event {
	return s.events[cardID]
}

// CardIDs returns every card id with at least one event, sorted.
func (s *Store) CardIDs() []string {
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of cards in the history.
func (s *Store) Len() int {
	return len(s.events)
}

// TotalCost sums the dollar cost of every event.
func (s *Store) TotalCost() float64 {
	var total float64
	for _, events := range s.events {
		for _, e := range events {
			c, _ := e.Cost()
			total += c
		}
	}
	return total
}

// AnnotatedAt reports whether the card already has an explanation produced
// by the given explainer version.
func (s *Store) AnnotatedAt(cardID, version string) bool {
	for _, e := range s.events[cardID] {
		if e.Version == version {
			return true
		}
	}
	return false
}

// Entry pairs an event with the card it belongs to.
type Entry struct {
	CardID string
	Event  Event
}

// Recent returns the n most recent events across all cards, newest first.
func (s *Store) Recent(n int) []Entry {
	var all []Entry
	for cid, events := range s.events {
		for _, e := range events {
			all = append(all, Entry{CardID: cid, Event: e})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Event.Timestamp != all[j].Event.Timestamp {
			return all[i].Event.Timestamp > all[j].Event.Timestamp
		}
		return all[i].CardID < all[j].CardID
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Save writes the whole history to a temporary file next to the durable one
// and renames it into place, so an interrupted save never leaves a partial
// file behind.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	data, err := json.MarshalIndent(s.events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling history: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp history file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp history file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp history file: %w", err)
	}

	if err := renameFile(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing history file: %w", err)
	}
	return nil
}
