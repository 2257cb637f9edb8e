package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/ankiexplainer/internal/anki"
	"github.com/kalambet/ankiexplainer/internal/composer"
	"github.com/kalambet/ankiexplainer/internal/dataset"
	"github.com/kalambet/ankiexplainer/internal/history"
	"github.com/kalambet/ankiexplainer/internal/normalize"
	"github.com/kalambet/ankiexplainer/internal/notify"
	"github.com/kalambet/ankiexplainer/internal/proxy"
	"github.com/kalambet/ankiexplainer/internal/retrieval"
)

const (
	// Version is stamped in every card footer and history event.
	Version = "1.7"

	// FieldName is the note field that receives explanations.
	FieldName = "AnkiExplainer"

	// DefaultQuery selects cards failed or answered hard in the last two
	// days plus anything tagged for (re)processing.
	DefaultQuery = "(rated:2:1 OR rated:2:2 OR tag:AnkiExplainer::todo OR tag:AnkiExplainer::failed) -is:suspended -tag:AnkiExplainer::to_keep"

	// MaxCards bounds how many matching cards one run processes.
	MaxCards = 1000

	// SyncEvery is the number of processed cards between Anki syncs.
	SyncEvery = 100
)

// Workflow tags.
const (
	TagDonePrefix = "AnkiExplainer::done::"
	TagFailed     = "AnkiExplainer::failed"
	TagTodo       = "AnkiExplainer::todo"
	TagKeepAlive  = "AnkiExplainer::TODO"
)

// Anki is the subset of the AnkiConnect client the pipeline uses.
type Anki interface {
	FindCards(ctx context.Context, query string) ([]int64, error)
	CardsInfo(ctx context.Context, ids []int64) ([]anki.Card, error)
	UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error
	AddTags(ctx context.Context, noteID int64, tags string) error
	RemoveTags(ctx context.Context, noteID int64, tags string) error
	Sync(ctx context.Context) error
}

// Generator produces chat completions.
type Generator interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (proxy.ChatResponse, error)
}

// ExampleSelector chooses few-shot examples for a card.
type ExampleSelector interface {
	Warm(ctx context.Context, examples []dataset.Example) error
	Select(ctx context.Context, query string, examples []dataset.Example, budget int) ([]dataset.Example, error)
}

// Outcome tells normal empty runs apart from completed ones.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeNoMatches
	OutcomeNothingLeft
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeNoMatches:
		return "no cards match the query"
	case OutcomeNothingLeft:
		return "no cards left after filtering"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Report summarizes a run.
type Report struct {
	Outcome   Outcome
	Fetched   int
	Filtered  int
	Explained int
	Failed    int
	Cost      float64
}

// Options are the per-run settings.
type Options struct {
	Query     string
	Fields    []string
	NoteMode  bool
	Sync      bool
	Force     bool
	Model     string
	MaxTokens int
	Transform func(cloze string) string
}

// Deps are the collaborators a run needs. Notifier and Selector may be nil.
type Deps struct {
	Anki      Anki
	Generator Generator
	Selector  ExampleSelector
	History   *history.Store
	Dataset   dataset.Dataset
	Price     proxy.Price
	Notifier  notify.Notifier
}

// Explainer runs the fetch, normalize, annotate, persist and notify stages.
type Explainer struct {
	env      *Env
	deps     Deps
	opts     Options
	composer *composer.Composer
	progress func(done, total int)
}

// New creates an Explainer. Empty options fall back to DefaultQuery and
// the composer's default budget.
func New(env *Env, deps Deps, opts Options) *Explainer {
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if deps.Selector == nil {
		deps.Selector = retrieval.NewSelector(nil, env.Logger)
	}
	return &Explainer{
		env:      env,
		deps:     deps,
		opts:     opts,
		composer: composer.New(opts.MaxTokens),
	}
}

// OnProgress registers a callback invoked after each card.
func (e *Explainer) OnProgress(fn func(done, total int)) {
	e.progress = fn
}

// Execute runs the pipeline and then always attempts a final sync. On
// failure an error notification is sent before the error is returned.
func (e *Explainer) Execute(ctx context.Context) (Report, error) {
	report, err := e.Run(ctx)
	if err != nil {
		e.env.Logger.Error("run failed", "error", err)
		if e.deps.Notifier != nil {
			if nerr := e.deps.Notifier.Send(context.WithoutCancel(ctx), notify.Title("error"), err.Error()); nerr != nil {
				e.env.Logger.Warn("error notification failed", "error", nerr)
			}
		}
	}
	if serr := e.deps.Anki.Sync(context.WithoutCancel(ctx)); serr != nil {
		e.env.Logger.Warn("final sync failed", "error", serr)
	}
	return report, err
}

// Run processes every matching card once.
func (e *Explainer) Run(ctx context.Context) (Report, error) {
	log := e.env.Logger
	var report Report

	if e.opts.Sync {
		if err := e.deps.Anki.Sync(ctx); err != nil {
			return report, fmt.Errorf("initial sync: %w", err)
		}
	}

	cards, err := e.fetch(ctx)
	if err != nil {
		return report, err
	}
	report.Fetched = len(cards)
	if len(cards) == 0 {
		report.Outcome = OutcomeNoMatches
		log.Info("nothing to do", "outcome", report.Outcome)
		return report, nil
	}

	cards = e.filter(cards)
	report.Filtered = len(cards)
	if len(cards) == 0 {
		report.Outcome = OutcomeNothingLeft
		log.Info("nothing to do", "outcome", report.Outcome)
		return report, nil
	}

	if err := e.deps.Selector.Warm(ctx, e.deps.Dataset.Examples); err != nil {
		return report, fmt.Errorf("embedding examples: %w", err)
	}

	date := AnnotationDate(e.env.Now())
	decks := normalize.GroupByDeck(cards)
	names := make([]string, len(decks))
	for i, d := range decks {
		names[i] = d.Name
	}
	log.Info("decks to process", "decks", names)

	processed := 0
	var last anki.Card
	for _, deck := range decks {
		var explanations []string
		for _, card := range deck.Cards {
			explanation, cost, ok, err := e.process(ctx, card, date)
			if err != nil {
				return report, err
			}
			processed++
			last = card
			explanations = append(explanations, explanation)
			report.Cost += cost
			if ok {
				report.Explained++
			} else {
				report.Failed++
			}
			if e.progress != nil {
				e.progress(processed, len(cards))
			}

			if processed%SyncEvery == 0 {
				if err := e.deps.Anki.Sync(ctx); err != nil {
					return report, fmt.Errorf("periodic sync: %w", err)
				}
			}
		}
		log.Info("deck done", "deck", deck.Name, "cards", len(deck.Cards))
		e.notify(ctx, deck.Name, explanations)
	}

	// Anki drops unused tags on cleanup; touching the tag keeps it available
	// for the user to reapply.
	if err := e.deps.Anki.AddTags(ctx, last.NoteID, TagKeepAlive); err != nil {
		log.Warn("adding keep-alive tag failed", "error", err)
	} else if err := e.deps.Anki.RemoveTags(ctx, last.NoteID, TagKeepAlive); err != nil {
		log.Warn("removing keep-alive tag failed", "error", err)
	}

	report.Outcome = OutcomeCompleted
	log.Info("finished", "explained", report.Explained, "failed", report.Failed, "cost", report.Cost)
	return report, nil
}

func (e *Explainer) fetch(ctx context.Context) ([]anki.Card, error) {
	query := BuildQuery(e.opts.Query, Version, e.opts.Force)
	if e.opts.Force {
		e.env.Logger.Warn("force enabled, cards already explained at this version are included")
	}
	e.env.Logger.Info("finding cards", "query", query)

	ids, err := e.deps.Anki.FindCards(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("finding cards: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxCards {
		e.env.Logger.Warn("too many cards, keeping the first ones", "found", len(ids), "kept", MaxCards)
		ids = ids[:MaxCards]
	}
	e.env.Logger.Info("cards found", "count", len(ids))

	cards, err := e.deps.Anki.CardsInfo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading card info: %w", err)
	}
	return cards, nil
}

func (e *Explainer) filter(cards []anki.Card) []anki.Card {
	opts := normalize.Options{
		Fields:    e.opts.Fields,
		NoteMode:  e.opts.NoteMode,
		Transform: e.opts.Transform,
	}
	if !e.opts.Force && e.deps.History != nil {
		opts.Skip = func(c anki.Card) bool {
			return e.deps.History.AnnotatedAt(anki.CardKey(c.CardID), Version)
		}
	}
	return normalize.New(opts, e.env.Logger).Filter(cards).Cards
}

// process explains one card, writes it back, and persists the history
// event. ok is false when only the card update failed; err is set for
// failures that abort the run.
func (e *Explainer) process(ctx context.Context, card anki.Card, date string) (explanation string, cost float64, ok bool, err error) {
	log := e.env.Logger.With("card_id", card.CardID, "deck", card.DeckName)
	content := card.FormattedContent

	resp, err := e.explain(ctx, content)
	if err != nil {
		return "", 0, false, fmt.Errorf("explaining card %d: %w", card.CardID, err)
	}
	explanation = Emphasize(resp.Text())
	cost = e.deps.Price.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	ok = e.update(ctx, card, explanation, date)
	if !ok {
		log.Warn("card tagged as failed")
	}

	if e.deps.History != nil {
		c := cost
		e.deps.History.Append(anki.CardKey(card.CardID), history.Event{
			Card:         card,
			Timestamp:    e.env.Now().Unix(),
			Date:         date,
			Explanation:  explanation,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			DollarCost:   &c,
			InputString:  content,
			Version:      Version,
			Model:        e.opts.Model,
			RunID:        e.env.RunID,
		})
		if err := e.deps.History.Save(); err != nil {
			return explanation, cost, ok, fmt.Errorf("saving history: %w", err)
		}
	}

	log.Debug("card explained", "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens, "cost", cost)
	return explanation, cost, ok, nil
}

func (e *Explainer) explain(ctx context.Context, content string) (proxy.ChatResponse, error) {
	ds := e.deps.Dataset
	budget := e.composer.ExampleBudget(ds, content)
	selected, err := e.deps.Selector.Select(ctx, content, ds.Examples, budget)
	if err != nil {
		return proxy.ChatResponse{}, fmt.Errorf("selecting examples: %w", err)
	}

	msgs, err := e.composer.Compose(ds, selected, content)
	if err != nil {
		return proxy.ChatResponse{}, err
	}

	return e.deps.Generator.Complete(ctx, proxy.ChatRequest{
		Model:    e.opts.Model,
		Messages: msgs,
	})
}

// update writes the explanation to the card's note and advances its tags.
// Any failure tags the note as failed and returns false.
func (e *Explainer) update(ctx context.Context, card anki.Card, explanation, date string) bool {
	log := e.env.Logger.With("card_id", card.CardID, "note_id", card.NoteID)
	value := ComposeField(explanation, card.FieldValue(FieldName), date, Version, e.opts.Model)

	err := e.deps.Anki.UpdateNoteFields(ctx, card.NoteID, map[string]string{FieldName: value})
	if err == nil {
		err = e.deps.Anki.AddTags(ctx, card.NoteID, TagDonePrefix+date)
	}
	if err == nil {
		err = e.deps.Anki.RemoveTags(ctx, card.NoteID, TagFailed+" "+TagTodo)
	}
	if err == nil {
		return true
	}

	log.Error("editing card failed", "error", err)
	if terr := e.deps.Anki.AddTags(ctx, card.NoteID, TagFailed); terr != nil {
		log.Error("tagging card as failed", "error", terr)
	}
	return false
}

func (e *Explainer) notify(ctx context.Context, deck string, explanations []string) {
	if e.deps.Notifier == nil || len(explanations) == 0 {
		return
	}
	title := notify.Title(notify.ShortenDeck(deck))
	if err := e.deps.Notifier.Send(ctx, title, notify.FormatBatch(explanations)); err != nil {
		e.env.Logger.Warn("notification failed", "deck", deck, "error", err)
	}
}

// IsContractViolation reports whether err means the prompt could not be
// built within budget.
func IsContractViolation(err error) bool {
	return errors.Is(err, composer.ErrPromptOverBudget)
}

// ParseFields splits a comma-separated field list, trimming spaces and
// dropping empties.
func ParseFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
