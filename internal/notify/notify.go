// Package notify sends run summaries to the user's phone.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TitlePrefix starts every notification title.
const TitlePrefix = "AnkiExplainer"

// Notifier delivers a titled message.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Multi fans a message out to every notifier in order and joins their
// errors.
type Multi []Notifier

// Send delivers to every notifier, continuing past failures.
func (m Multi) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Title formats a notification title for label, e.g. a deck name or
// "error".
func Title(label string) string {
	return fmt.Sprintf("%s - '%s'", TitlePrefix, label)
}

// ShortenDeck keeps the last two "::" components of a deck name, then at
// most its last 30 characters.
func ShortenDeck(deck string) string {
	parts := strings.Split(deck, "::")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	short := []rune(strings.Join(parts, "::"))
	if len(short) > 30 {
		short = short[len(short)-30:]
	}
	return string(short)
}

// FormatBatch numbers each explanation as "# i/n ####" and converts
// Anki line breaks back to newlines.
func FormatBatch(contents []string) string {
	var sb strings.Builder
	n := len(contents)
	br := strings.NewReplacer("<br>", "\n", "<br/>", "\n")
	for i, c := range contents {
		fmt.Fprintf(&sb, "\n\n# %d/%d ####\n\n%s", i+1, n, br.Replace(c))
	}
	return sb.String()
}
