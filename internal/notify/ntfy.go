package notify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Ntfy posts notifications to an ntfy.sh topic URL.
type Ntfy struct {
	url        string
	httpClient *http.Client
}

// NewNtfy creates a notifier for the given topic URL.
func NewNtfy(url string) *Ntfy {
	return &Ntfy{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts body to the topic with title in the Title header. Non-ASCII
// titles are RFC 2047 encoded, which ntfy decodes.
func (n *Ntfy) Send(ctx context.Context, title, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}
	req.Header.Set("Title", mime.QEncoding.Encode("utf-8", title))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ntfy: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
