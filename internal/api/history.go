package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/kalambet/ankiexplainer/internal/history"
)

// Loader returns a fresh view of the history. Handlers call it once per
// request so they always see what the last run saved.
type Loader func() (*history.Store, error)

// FileLoader loads the history file at path on every call.
func FileLoader(path string, logger *slog.Logger) Loader {
	return func() (*history.Store, error) {
		return history.Load(path, logger)
	}
}

// HTTPDeps holds dependencies for the history HTTP API.
type HTTPDeps struct {
	Load Loader
	// Token enables bearer auth on every route except /health when set.
	Token string
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
}

// CardSummary is one row of GET /history.
type CardSummary struct {
	CardID   string  `json:"card_id"`
	Deck     string  `json:"deck"`
	Events   int     `json:"events"`
	LastDate string  `json:"last_date"`
	Version  string  `json:"version"`
	Cost     float64 `json:"cost"`
}

// NewHistoryHandler returns the read-only history API.
func NewHistoryHandler(deps HTTPDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token, "/health"))
	}

	r.Get("/health", handleHealth)
	r.Get("/history", handleHistory(deps.Load))
	r.Get("/history/{cardID}", handleCardHistory(deps.Load))
	r.Get("/spending", handleSpending(deps.Load))

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Accept"},
		MaxAge:         86400,
	}).Handler(r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleHistory(load Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := load()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "history_error", "loading history: %v", err)
			return
		}
		writeJSON(w, summarize(store))
	}
}

func handleCardHistory(load Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cardID := chi.URLParam(r, "cardID")
		store, err := load()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "history_error", "loading history: %v", err)
			return
		}
		events := store.Events(cardID)
		if len(events) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no history for card %s", cardID)
			return
		}
		writeJSON(w, events)
	}
}

func handleSpending(load Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := load()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "history_error", "loading history: %v", err)
			return
		}
		writeJSON(w, store.Spending())
	}
}

// summarize lists every card with its latest event, sorted by card id.
func summarize(store *history.Store) []CardSummary {
	ids := store.CardIDs()
	out := make([]CardSummary, 0, len(ids))
	for _, id := range ids {
		events := store.Events(id)
		last := events[len(events)-1]
		var total float64
		for _, e := range events {
			c, _ := e.Cost()
			total += c
		}
		out = append(out, CardSummary{
			CardID:   id,
			Deck:     last.Card.DeckName,
			Events:   len(events),
			LastDate: last.Date,
			Version:  last.Version,
			Cost:     total,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
