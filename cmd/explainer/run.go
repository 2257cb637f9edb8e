package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/ankiexplainer/internal/anki"
	"github.com/kalambet/ankiexplainer/internal/config"
	"github.com/kalambet/ankiexplainer/internal/dataset"
	"github.com/kalambet/ankiexplainer/internal/formatting"
	"github.com/kalambet/ankiexplainer/internal/history"
	"github.com/kalambet/ankiexplainer/internal/notify"
	"github.com/kalambet/ankiexplainer/internal/ollama"
	"github.com/kalambet/ankiexplainer/internal/pipeline"
	"github.com/kalambet/ankiexplainer/internal/proxy"
	"github.com/kalambet/ankiexplainer/internal/retrieval"
	"github.com/kalambet/ankiexplainer/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Explain the cards matching the query and write the explanations back",
	Long: `Explain the cards matching the query and write the explanations back.

Every flag defaults to the value from "explainer config show".

Examples:
  explainer run --dataset ~/anki/dataset.yaml
  explainer run --query "deck:Med rated:1:1" --note-mode=false --sync
  explainer run --force --model openai/gpt-4o`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := applyRunFlags(cmd, &cfg); err != nil {
			return err
		}
		return runExplainer(cmd.Context(), cfg, force)
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("query", "", "Anki search query (config: explainer.query)")
	f.String("fields", "", "comma-separated note fields sent to the model (config: explainer.fields)")
	f.String("dataset", "", "few-shot dataset file, .yaml or text (config: explainer.dataset)")
	f.Int("max-tokens", 0, "prompt token budget (config: llm.max_tokens)")
	f.String("model", "", "OpenRouter model (config: llm.model)")
	f.String("embed-model", "", "Ollama embedding model for example selection, empty for lexical (config: embed.model)")
	f.String("formatter", "", "Go source file defining ClozeInputParser (config: explainer.formatter)")
	f.Bool("note-mode", true, "collapse every cloze and explain each note once (config: explainer.note_mode)")
	f.Bool("sync", false, "sync Anki before and after the run (config: explainer.sync)")
	f.Bool("force", false, "include cards already explained at this version")
	f.String("ntfy-url", "", "ntfy topic URL for notifications (config: notify.ntfy_url)")
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetString(name)
		}
	}
	str("query", &cfg.Explainer.Query)
	str("fields", &cfg.Explainer.Fields)
	str("dataset", &cfg.Explainer.Dataset)
	str("model", &cfg.LLM.Model)
	str("embed-model", &cfg.Embed.Model)
	str("formatter", &cfg.Explainer.Formatter)
	str("ntfy-url", &cfg.Notify.NtfyURL)
	if err == nil && f.Changed("max-tokens") {
		cfg.LLM.MaxTokens, err = f.GetInt("max-tokens")
	}
	if err == nil && f.Changed("note-mode") {
		cfg.Explainer.NoteMode, err = f.GetBool("note-mode")
	}
	if err == nil && f.Changed("sync") {
		cfg.Explainer.Sync, err = f.GetBool("sync")
	}
	return err
}

// buildNotifier returns nil when no backend is configured.
func buildNotifier(cfg config.Config) notify.Notifier {
	var m notify.Multi
	if cfg.Notify.NtfyURL != "" {
		m = append(m, notify.NewNtfy(cfg.Notify.NtfyURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		m = append(m, notify.NewTelegram(cfg.Notify.TelegramToken, int64(cfg.Notify.TelegramChatID)))
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runExplainer(parent context.Context, cfg config.Config, force bool) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup failures get the same error notification as pipeline failures.
	notifier := buildNotifier(cfg)
	pipelineStarted := false
	defer func() {
		if err != nil && !pipelineStarted && notifier != nil {
			if nerr := notifier.Send(context.WithoutCancel(ctx), notify.Title("error"), err.Error()); nerr != nil {
				printWarning("error notification failed: %v", nerr)
			}
		}
	}()

	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	if cfg.Explainer.Dataset == "" {
		return errors.New("no dataset configured: pass --dataset or run \"explainer config set explainer.dataset <file>\"")
	}

	env, err := pipeline.NewEnv(cfg.Storage.DataDir, parseLevel(cfg.Log.Level), os.Stderr)
	if err != nil {
		return err
	}
	defer env.Close()
	log := env.Logger

	ds, err := dataset.Load(cfg.Explainer.Dataset)
	if err != nil {
		return err
	}
	log.Info("dataset loaded", "path", cfg.Explainer.Dataset, "examples", len(ds.Examples))

	var transform formatting.Transform
	if cfg.Explainer.Formatter != "" {
		transform, err = formatting.LoadFile(cfg.Explainer.Formatter)
		if err != nil {
			return err
		}
		log.Info("formatter loaded", "path", cfg.Explainer.Formatter)
	}

	selector, closeCache := buildSelector(ctx, cfg, env)
	defer closeCache()

	llm := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey).
		WithRetries(cfg.LLM.Retries).
		WithLogger(log)
	price, err := llm.ResolvePrice(ctx, cfg.LLM.Model, proxy.Price{Input: cfg.LLM.InputPrice, Output: cfg.LLM.OutputPrice})
	if err != nil {
		return fmt.Errorf("pricing %s: %w", cfg.LLM.Model, err)
	}

	store, err := history.Load(env.HistoryPath, log)
	if err != nil {
		return err
	}

	explainer := pipeline.New(env, pipeline.Deps{
		Anki:      anki.New(cfg.Anki.URL, cfg.Anki.Key),
		Generator: llm,
		Selector:  selector,
		History:   store,
		Dataset:   ds,
		Price:     price,
		Notifier:  notifier,
	}, pipeline.Options{
		Query:     cfg.Explainer.Query,
		Fields:    pipeline.ParseFields(cfg.Explainer.Fields),
		NoteMode:  cfg.Explainer.NoteMode,
		Sync:      cfg.Explainer.Sync,
		Force:     force,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Transform: transform,
	})
	explainer.OnProgress(newProgressBar(os.Stderr).Update)

	pipelineStarted = true
	report, err := explainer.Execute(ctx)
	if err != nil {
		if pipeline.IsContractViolation(err) {
			printError("the prompt does not fit in %d tokens; raise --max-tokens or shorten the system prompt", cfg.LLM.MaxTokens)
		}
		return err
	}

	switch report.Outcome {
	case pipeline.OutcomeNoMatches, pipeline.OutcomeNothingLeft:
		printWarning("Nothing to do: %s", report.Outcome)
		return nil
	}
	printSuccess("Explained %d of %d cards", report.Explained, report.Filtered)
	if report.Failed > 0 {
		printWarning("%d cards could not be updated and were tagged %s", report.Failed, pipeline.TagFailed)
	}
	printStatus("Cost", "$%.4f", report.Cost)
	printStatus("History", "%s", env.HistoryPath)
	return nil
}

// buildSelector returns an embedding selector backed by the SQLite cache
// when Ollama serves the embedding model, and a lexical one otherwise. The
// returned func closes whatever was opened.
func buildSelector(ctx context.Context, cfg config.Config, env *pipeline.Env) (*retrieval.Selector, func()) {
	log := env.Logger
	noop := func() {}
	if cfg.Embed.Model == "" {
		return retrieval.NewSelector(nil, log), noop
	}

	oc := ollama.New(cfg.Embed.OllamaURL)
	if err := ollama.EnsureReady(ctx, oc, cfg.Embed.Model, os.Stderr); err != nil {
		log.Warn("embedding model unavailable, selecting examples lexically", "error", err)
		return retrieval.NewSelector(nil, log), noop
	}

	cache, err := storage.Open(env.Dir)
	if err != nil {
		log.Warn("embedding cache unavailable, embeddings will not be reused", "error", err)
		emb := retrieval.NewEmbedder(oc, cfg.Embed.Model, nil).WithLogger(log)
		return retrieval.NewSelector(emb, log), noop
	}
	emb := retrieval.NewEmbedder(oc, cfg.Embed.Model, cache).WithLogger(log)
	return retrieval.NewSelector(emb, log), func() {
		if err := cache.Close(); err != nil {
			log.Warn("closing embedding cache", "error", err)
		}
	}
}
