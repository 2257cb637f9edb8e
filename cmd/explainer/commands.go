package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/ankiexplainer/internal/config"
	"github.com/kalambet/ankiexplainer/internal/pipeline"
	"github.com/kalambet/ankiexplainer/internal/proxy"
	"github.com/kalambet/ankiexplainer/internal/storage"
)

// quietLogger reports only warnings, so inspection commands keep stdout
// clean.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n",
				colorize(boldStyle, k.Key), k.Value, colorize(dimStyle, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys are stored in the platform keychain.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the embedding cache",
}

// openCache opens the embedding cache under the configured data directory.
var openCache = func() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return storage.Open(filepath.Join(cfg.Storage.DataDir, pipeline.DirName))
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached embeddings per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		embs, err := store.ListEmbeddings(cmd.Context())
		if err != nil {
			return err
		}
		if len(embs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Embedding cache is empty.")
			return nil
		}

		type modelStats struct {
			count int
			dims  int
		}
		stats := make(map[string]*modelStats)
		var models []string
		for _, e := range embs {
			s, ok := stats[e.Model]
			if !ok {
				s = &modelStats{dims: e.Dims}
				stats[e.Model] = s
				models = append(models, e.Model)
			}
			s.count++
		}
		for _, m := range models {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d vectors  %d dims\n", colorize(boldStyle, m), stats[m].count, stats[m].dims)
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <model>",
	Short: "Delete every cached embedding of a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Removed %d embeddings of %s", n, args[0])
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// --- models ---

// newProxyClient builds the OpenRouter client from config.
var newProxyClient = func() (*proxy.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	return proxy.NewClient(cfg.Proxy.OpenRouterAPIKey), nil
}

var modelsCmd = &cobra.Command{
	Use:   "models [filter]",
	Short: "List OpenRouter models and their per-token prices",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newProxyClient()
		if err != nil {
			return err
		}
		models, err := client.ListModels(cmd.Context())
		if err != nil {
			return err
		}

		filter := ""
		if len(args) == 1 {
			filter = strings.ToLower(args[0])
		}
		shown := 0
		for _, m := range models {
			if filter != "" && !strings.Contains(strings.ToLower(m.ID), filter) {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-50s in %-12s out %s\n", m.ID, m.Pricing.Prompt, m.Pricing.Completion)
			shown++
		}
		if shown == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No models found.")
		}
		return nil
	},
}
