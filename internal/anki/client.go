package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultURL is where the AnkiConnect add-on listens by default.
	DefaultURL = "http://127.0.0.1:8765"

	apiVersion     = 6
	defaultTimeout = 60 * time.Second
	syncTimeout    = 5 * time.Minute
)

// Client talks to a running Anki instance through the AnkiConnect add-on.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// New creates a Client targeting the given AnkiConnect URL. key is the
// optional AnkiConnect API key; pass "" when the add-on has none configured.
func New(baseURL, key string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// request is the JSON body for every AnkiConnect action.
type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
	Key     string `json:"key,omitempty"`
}

func invoke[T any](ctx context.Context, c *Client, timeout time.Duration, action string, params any) (T, error) {
	var zero T

	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params, Key: c.key})
	if err != nil {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
	}

	var result response[T]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, fmt.Errorf("decoding %s response: %w", action, err)
	}
	if result.Error != nil && *result.Error != "" {
		return zero, fmt.Errorf("%s: %s", action, *result.Error)
	}
	return result.Result, nil
}

// FindCards returns the ids of every card matching the Anki search query, in
// the order Anki returns them.
func (c *Client) FindCards(ctx context.Context, query string) ([]int64, error) {
	return invoke[[]int64](ctx, c, defaultTimeout, "findCards", map[string]any{"query": query})
}

// CardsInfo returns the full card payload for each id, in request order.
func (c *Client) CardsInfo(ctx context.Context, ids []int64) ([]Card, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cards, err := invoke[[]Card](ctx, c, defaultTimeout, "cardsInfo", map[string]any{"cards": ids})
	if err != nil {
		return nil, err
	}
	if len(cards) != len(ids) {
		return nil, fmt.Errorf("%w: asked for %d, got %d", ErrCountMismatch, len(ids), len(cards))
	}
	return cards, nil
}

// UpdateNoteFields overwrites the given fields of a note.
func (c *Client) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	_, err := invoke[json.RawMessage](ctx, c, defaultTimeout, "updateNoteFields", map[string]any{
		"note": map[string]any{
			"id":     noteID,
			"fields": fields,
		},
	})
	return err
}

// AddTags adds space-separated tags to a note.
func (c *Client) AddTags(ctx context.Context, noteID int64, tags string) error {
	_, err := invoke[json.RawMessage](ctx, c, defaultTimeout, "addTags", map[string]any{
		"notes": []int64{noteID},
		"tags":  tags,
	})
	return err
}

// RemoveTags removes space-separated tags from a note.
func (c *Client) RemoveTags(ctx context.Context, noteID int64, tags string) error {
	_, err := invoke[json.RawMessage](ctx, c, defaultTimeout, "removeTags", map[string]any{
		"notes": []int64{noteID},
		"tags":  tags,
	})
	return err
}

// Sync triggers an AnkiWeb synchronization.
func (c *Client) Sync(ctx context.Context) error {
	_, err := invoke[json.RawMessage](ctx, c, syncTimeout, "sync", nil)
	return err
}

// CardKey formats a card id the way the history file keys it.
func CardKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
