package composer

import (
	"errors"
	"fmt"

	"github.com/kalambet/ankiexplainer/internal/dataset"
	"github.com/kalambet/ankiexplainer/internal/proxy"
)

// DefaultMaxTokens is the prompt budget used when none is configured.
const DefaultMaxTokens = 3000

// messageOverhead approximates the role and framing tokens each chat
// message costs on top of its content.
const messageOverhead = 4

// ErrPromptOverBudget is returned when the system prompt and card alone
// exceed the token budget.
var ErrPromptOverBudget = errors.New("prompt exceeds token budget")

// Composer assembles the chat messages sent for one card: the system
// prompt, the selected few-shot examples, then the card itself.
type Composer struct {
	MaxTokens int
}

// New creates a Composer with the given prompt budget. If maxTokens <= 0,
// DefaultMaxTokens is used.
func New(maxTokens int) *Composer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Composer{MaxTokens: maxTokens}
}

// Compose builds the message list. The estimated size of the result never
// exceeds MaxTokens; if it would, ErrPromptOverBudget is returned and no
// messages are produced.
func (c *Composer) Compose(ds dataset.Dataset, selected []dataset.Example, cardContent string) ([]proxy.Message, error) {
	msgs := make([]proxy.Message, 0, 2+2*len(selected))
	msgs = append(msgs, proxy.Message{Role: proxy.RoleSystem, Content: ds.System})
	for _, ex := range selected {
		msgs = append(msgs,
			proxy.Message{Role: proxy.RoleUser, Content: ex.User},
			proxy.Message{Role: proxy.RoleAssistant, Content: ex.Assistant},
		)
	}
	msgs = append(msgs, proxy.Message{Role: proxy.RoleUser, Content: cardContent})

	if n := MessagesTokens(msgs); n > c.MaxTokens {
		return nil, fmt.Errorf("%w: %d > %d tokens", ErrPromptOverBudget, n, c.MaxTokens)
	}
	return msgs, nil
}

// ExampleBudget returns how many tokens remain for examples once the system
// prompt and the card are accounted for. It is negative when even those do
// not fit.
func (c *Composer) ExampleBudget(ds dataset.Dataset, cardContent string) int {
	fixed := EstimateTokens(ds.System) + EstimateTokens(cardContent) + 2*messageOverhead
	return c.MaxTokens - fixed
}

// ExampleTokens is the estimated cost of including ex in a prompt.
func ExampleTokens(ex dataset.Example) int {
	return EstimateTokens(ex.User) + EstimateTokens(ex.Assistant) + 2*messageOverhead
}

// MessagesTokens estimates the token count of a message list.
func MessagesTokens(msgs []proxy.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + messageOverhead
	}
	return total
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
