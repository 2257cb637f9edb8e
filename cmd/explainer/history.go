package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/kalambet/ankiexplainer/internal/config"
	"github.com/kalambet/ankiexplainer/internal/history"
	"github.com/kalambet/ankiexplainer/internal/pipeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the explanations written so far",
}

// loadHistory opens the history file under the configured data directory.
var loadHistory = func() (*history.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return history.Load(historyPath(cfg), quietLogger())
}

func historyPath(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, pipeline.DirName, pipeline.HistoryFile)
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent explanations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := loadHistory()
		if err != nil {
			return err
		}
		writeRecent(cmd.OutOrStdout(), store.Recent(limit))
		return nil
	},
}

func writeRecent(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No explanations yet.")
		return
	}
	for _, en := range entries {
		e := en.Event
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			colorize(stepStyle, en.CardID),
			e.Date,
			e.Card.DeckName,
			colorize(dimStyle, e.Model),
		)
		text := plainText(e.Explanation)
		if r := []rune(text); len(r) > 300 {
			text = string(r[:300]) + "..."
		}
		fmt.Fprintln(w, indent(wordwrap.String(text, 76), "    "))
	}
}

var historyShowCmd = &cobra.Command{
	Use:   "show <card-id>",
	Short: "Show every explanation written for a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadHistory()
		if err != nil {
			return err
		}
		events := store.Events(args[0])
		if len(events) == 0 {
			return fmt.Errorf("no history for card %s", args[0])
		}

		md := cardMarkdown(args[0], events)
		if noColor {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
		if err != nil {
			return fmt.Errorf("creating renderer: %w", err)
		}
		out, err := r.Render(md)
		if err != nil {
			return fmt.Errorf("rendering: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var boldTagRe = regexp.MustCompile(`</?b>`)

// plainText turns field markup back into text with newlines.
func plainText(s string) string {
	s = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n").Replace(s)
	return strings.TrimSpace(s)
}

// cardMarkdown renders a card's events as a markdown document, newest
// first.
func cardMarkdown(cardID string, events []history.Event) string {
	var sb strings.Builder
	first := events[0].Card
	fmt.Fprintf(&sb, "# Card %s\n\n", cardID)
	fmt.Fprintf(&sb, "Deck **%s**, note %d\n\n", first.DeckName, first.NoteID)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		c, _ := e.Cost()
		fmt.Fprintf(&sb, "## %s · %s\n\n", e.Date, orUnknown(e.Model))
		fmt.Fprintf(&sb, "_version %s, %d+%d tokens, $%.4f_\n\n", orUnknown(e.Version), e.InputTokens, e.OutputTokens, c)
		if e.InputString != "" {
			sb.WriteString("```\n" + e.InputString + "\n```\n\n")
		}
		sb.WriteString(boldTagRe.ReplaceAllString(plainText(e.Explanation), "**"))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var historyCostCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show how much the explanations cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadHistory()
		if err != nil {
			return err
		}
		writeSpending(cmd.OutOrStdout(), store.Spending())
		return nil
	},
}

func writeSpending(w io.Writer, sp history.Spending) {
	fmt.Fprintf(w, "%s $%.4f over %d explanations on %d cards\n",
		colorize(boldStyle, "Total:"), sp.Total, sp.Events, sp.Cards)

	if len(sp.ByModel) > 0 {
		fmt.Fprintln(w, colorize(boldStyle, "By model:"))
		for _, m := range sp.Models() {
			fmt.Fprintf(w, "  %-40s $%.4f\n", m, sp.ByModel[m])
		}
	}

	if len(sp.ByDate) > 0 {
		dates := make([]string, 0, len(sp.ByDate))
		for d := range sp.ByDate {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool {
			return parseDate(dates[i]).Before(parseDate(dates[j]))
		})
		fmt.Fprintln(w, colorize(boldStyle, "By date:"))
		for _, d := range dates {
			fmt.Fprintf(w, "  %-12s $%.4f\n", d, sp.ByDate[d])
		}
	}
}

// parseDate reads an annotation date; unparsable dates sort first.
func parseDate(s string) time.Time {
	t, _ := time.Parse("02/01/2006", s)
	return t
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every event as JSON lines or an .xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		xlsx, _ := cmd.Flags().GetString("xlsx")
		store, err := loadHistory()
		if err != nil {
			return err
		}
		if xlsx == "" {
			return exportJSONL(cmd.OutOrStdout(), store)
		}
		if err := exportXLSX(xlsx, store); err != nil {
			return err
		}
		printSuccess("History exported to %s", xlsx)
		return nil
	},
}

func exportJSONL(w io.Writer, store *history.Store) error {
	enc := json.NewEncoder(w)
	for _, id := range store.CardIDs() {
		for _, e := range store.Events(id) {
			if err := enc.Encode(map[string]any{"card_id": id, "event": e}); err != nil {
				return fmt.Errorf("encoding card %s: %w", id, err)
			}
		}
	}
	return nil
}

var exportColumns = []string{
	"card_id", "note_id", "deck", "date", "timestamp", "model", "version",
	"input_tokens", "output_tokens", "cost", "input", "explanation",
}

func exportXLSX(path string, store *history.Store) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	set := func(col, row int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}

	for i, name := range exportColumns {
		if err := set(i+1, 1, name); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	row := 2
	for _, id := range store.CardIDs() {
		cardID, _ := strconv.ParseInt(id, 10, 64)
		for _, e := range store.Events(id) {
			c, _ := e.Cost()
			values := []any{
				cardID, e.Card.NoteID, e.Card.DeckName, e.Date, e.Timestamp, e.Model, e.Version,
				e.InputTokens, e.OutputTokens, c, e.InputString, plainText(e.Explanation),
			}
			for i, v := range values {
				if err := set(i+1, row, v); err != nil {
					return fmt.Errorf("writing row %d: %w", row, err)
				}
			}
			row++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of explanations to list")
	historyExportCmd.Flags().String("xlsx", "", "write an Excel workbook to this path instead of JSON lines to stdout")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCostCmd)
	historyCmd.AddCommand(historyExportCmd)
}
