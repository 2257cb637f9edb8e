package proxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownModel is returned when no price is known for a model.
var ErrUnknownModel = errors.New("no price known for model")

// Price is the dollar cost of one token.
type Price struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Cost returns the dollar cost of a completion.
func (p Price) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*p.Input + float64(completionTokens)*p.Output
}

// knownPrices are per-token dollar prices for common OpenRouter models.
var knownPrices = map[string]Price{
	"anthropic/claude-3.5-sonnet":          {Input: 3e-6, Output: 15e-6},
	"anthropic/claude-3-5-sonnet-20240620": {Input: 3e-6, Output: 15e-6},
	"anthropic/claude-3-haiku":             {Input: 0.25e-6, Output: 1.25e-6},
	"anthropic/claude-3-opus":              {Input: 15e-6, Output: 75e-6},
	"openai/gpt-4o":                        {Input: 5e-6, Output: 15e-6},
	"openai/gpt-4o-mini":                   {Input: 0.15e-6, Output: 0.6e-6},
	"openai/gpt-4-turbo":                   {Input: 10e-6, Output: 30e-6},
	"google/gemini-pro-1.5":                {Input: 2.5e-6, Output: 7.5e-6},
	"meta-llama/llama-3.1-70b-instruct":    {Input: 0.52e-6, Output: 0.75e-6},
	"mistralai/mistral-large":              {Input: 3e-6, Output: 9e-6},
}

// NormalizeModelName drops the "openrouter/" routing prefix and any
// ":variant" suffix such as ":beta".
func NormalizeModelName(model string) string {
	m := strings.TrimPrefix(model, openRouterPrefix)
	if i := strings.LastIndex(m, ":"); i >= 0 {
		m = m[:i]
	}
	return m
}

// LookupPrice finds the price for model by exact name, then by the name
// without its first path component, then by its normalized name.
func LookupPrice(model string) (Price, error) {
	if p, ok := knownPrices[model]; ok {
		return p, nil
	}
	if _, rest, ok := strings.Cut(model, "/"); ok {
		if p, ok := knownPrices[rest]; ok {
			return p, nil
		}
	}
	if p, ok := knownPrices[NormalizeModelName(model)]; ok {
		return p, nil
	}
	return Price{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// RemotePrice looks model up in OpenRouter's model list and returns its
// published price.
func (c *Client) RemotePrice(ctx context.Context, model string) (Price, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return Price{}, err
	}
	want := NormalizeModelName(model)
	for _, m := range models {
		if m.ID != want && m.ID != strings.TrimPrefix(model, openRouterPrefix) {
			continue
		}
		in, err := strconv.ParseFloat(m.Pricing.Prompt, 64)
		if err != nil {
			return Price{}, fmt.Errorf("parsing prompt price for %s: %w", m.ID, err)
		}
		out, err := strconv.ParseFloat(m.Pricing.Completion, 64)
		if err != nil {
			return Price{}, fmt.Errorf("parsing completion price for %s: %w", m.ID, err)
		}
		return Price{Input: in, Output: out}, nil
	}
	return Price{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// ResolvePrice returns override when it is set, else the built-in price,
// else the price OpenRouter publishes.
func (c *Client) ResolvePrice(ctx context.Context, model string, override Price) (Price, error) {
	if override.Input > 0 || override.Output > 0 {
		return override, nil
	}
	if p, err := LookupPrice(model); err == nil {
		return p, nil
	}
	return c.RemotePrice(ctx, model)
}
