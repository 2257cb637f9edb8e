package notify

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramLimit is the maximum length of one Telegram message, in runes.
const telegramLimit = 4096

// Telegram sends notifications to a chat through the Bot API. The bot is
// created on first use, since construction calls getMe.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string

	once sync.Once
	api  *tgbotapi.BotAPI
	err  error
}

// NewTelegram creates a notifier for chatID using the bot token.
func NewTelegram(token string, chatID int64) *Telegram {
	return &Telegram{token: token, chatID: chatID, endpoint: tgbotapi.APIEndpoint}
}

func (t *Telegram) bot() (*tgbotapi.BotAPI, error) {
	t.once.Do(func() {
		t.api, t.err = tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	})
	return t.api, t.err
}

// Send posts the title and body as plain text, split into as many
// messages as the size limit requires.
func (t *Telegram) Send(ctx context.Context, title, body string) error {
	api, err := t.bot()
	if err != nil {
		return fmt.Errorf("connecting telegram bot: %w", err)
	}

	for _, chunk := range splitRunes(title+"\n"+body, telegramLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		if _, err := api.Send(msg); err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
	}
	return nil
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
