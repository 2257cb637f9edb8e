package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RecentLimit is how many events the explainer://recent resource lists.
const RecentLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Load    Loader
	Version string
}

// NewMCPServer creates an MCP server exposing the explanation history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ankiexplainer",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Read-only access to the explanations the Anki explainer wrote onto flashcards and what they cost."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("card_history",
			mcp.WithDescription("Return every explanation written for a card, oldest first."),
			mcp.WithString("card_id", mcp.Description("Anki card id"), mcp.Required()),
		),
		mcpCardHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("spending",
			mcp.WithDescription("Return the total dollar cost of all explanations, split by model and by date."),
		),
		mcpSpending(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"explainer://recent",
			"Recent Explanations",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d explanations across all cards", RecentLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpCardHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}

		store, err := deps.Load()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading history: %v", err)), nil
		}
		events := store.Events(cardID)
		if len(events) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("no history for card %s", cardID)), nil
		}

		b, err := json.Marshal(events)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal events: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	}
}

func mcpSpending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		store, err := deps.Load()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading history: %v", err)), nil
		}
		b, err := json.Marshal(store.Spending())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal spending: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		store, err := deps.Load()
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}

		type recentExplanation struct {
			CardID      string `json:"card_id"`
			Deck        string `json:"deck"`
			Date        string `json:"date"`
			CreatedAt   string `json:"created_at"`
			Model       string `json:"model,omitempty"`
			Explanation string `json:"explanation"`
		}

		entries := store.Recent(RecentLimit)
		recent := make([]recentExplanation, len(entries))
		for i, en := range entries {
			text := en.Event.Explanation
			if utf8.RuneCountInString(text) > 200 {
				runes := []rune(text)
				text = string(runes[:200]) + "..."
			}
			recent[i] = recentExplanation{
				CardID:      en.CardID,
				Deck:        en.Event.Card.DeckName,
				Date:        en.Event.Date,
				CreatedAt:   time.Unix(en.Event.Timestamp, 0).UTC().Format(time.RFC3339),
				Model:       en.Event.Model,
				Explanation: text,
			}
		}

		b, err := json.Marshal(recent)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recent explanations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}
