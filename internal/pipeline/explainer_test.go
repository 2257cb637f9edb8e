package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/ankiexplainer/internal/anki"
	"github.com/kalambet/ankiexplainer/internal/composer"
	"github.com/kalambet/ankiexplainer/internal/dataset"
	"github.com/kalambet/ankiexplainer/internal/history"
	"github.com/kalambet/ankiexplainer/internal/proxy"
)

// --- fakes ---

type tagCall struct {
	noteID int64
	tags   string
	add    bool
}

type fakeAnki struct {
	ids       []int64
	cards     map[int64]anki.Card
	queries   []string
	infoCalls [][]int64
	updates   map[int64]string
	tags      []tagCall
	syncs     int
	updateErr func(noteID int64) error
	findErr   error
}

func newFakeAnki(cards ...anki.Card) *fakeAnki {
	f := &fakeAnki{cards: make(map[int64]anki.Card), updates: make(map[int64]string)}
	for _, c := range cards {
		f.ids = append(f.ids, c.CardID)
		f.cards[c.CardID] = c
	}
	return f
}

func (f *fakeAnki) FindCards(_ context.Context, query string) ([]int64, error) {
	f.queries = append(f.queries, query)
	return f.ids, f.findErr
}

func (f *fakeAnki) CardsInfo(_ context.Context, ids []int64) ([]anki.Card, error) {
	f.infoCalls = append(f.infoCalls, ids)
	out := make([]anki.Card, len(ids))
	for i, id := range ids {
		out[i] = f.cards[id]
	}
	return out, nil
}

func (f *fakeAnki) UpdateNoteFields(_ context.Context, noteID int64, fields map[string]string) error {
	if f.updateErr != nil {
		if err := f.updateErr(noteID); err != nil {
			return err
		}
	}
	f.updates[noteID] = fields[FieldName]
	return nil
}

func (f *fakeAnki) AddTags(_ context.Context, noteID int64, tags string) error {
	f.tags = append(f.tags, tagCall{noteID: noteID, tags: tags, add: true})
	return nil
}

func (f *fakeAnki) RemoveTags(_ context.Context, noteID int64, tags string) error {
	f.tags = append(f.tags, tagCall{noteID: noteID, tags: tags})
	return nil
}

func (f *fakeAnki) Sync(context.Context) error {
	f.syncs++
	return nil
}

func (f *fakeAnki) hasTag(noteID int64, tags string, add bool) bool {
	for _, c := range f.tags {
		if c.noteID == noteID && c.tags == tags && c.add == add {
			return true
		}
	}
	return false
}

type fakeGenerator struct {
	calls    int
	requests []proxy.ChatRequest
	text     string
	err      error
}

func (g *fakeGenerator) Complete(_ context.Context, req proxy.ChatRequest) (proxy.ChatResponse, error) {
	g.calls++
	g.requests = append(g.requests, req)
	if g.err != nil {
		return proxy.ChatResponse{}, g.err
	}
	return proxy.ChatResponse{
		Choices: []proxy.Choice{{Message: proxy.Message{Role: proxy.RoleAssistant, Content: g.text}}},
		Usage:   proxy.Usage{PromptTokens: 100, CompletionTokens: 20},
	}, nil
}

type fakeNotifier struct {
	titles []string
	bodies []string
}

func (n *fakeNotifier) Send(_ context.Context, title, body string) error {
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

// --- helpers ---

var fixedNow = time.Date(2026, 10, 19, 14, 0, 0, 0, time.Local)

func testEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	return &Env{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dir:         dir,
		HistoryPath: filepath.Join(dir, HistoryFile),
		LogPath:     filepath.Join(dir, LogFile),
		RunID:       "run-1",
		Now:         func() time.Time { return fixedNow },
	}
}

func testStore(t *testing.T, env *Env) *history.Store {
	t.Helper()
	s, err := history.Load(env.HistoryPath, env.Logger)
	if err != nil {
		t.Fatalf("history.Load: %v", err)
	}
	return s
}

func card(cardID, noteID int64, ord int, deck, text string) anki.Card {
	return anki.Card{
		CardID:   cardID,
		NoteID:   noteID,
		Ord:      ord,
		DeckName: deck,
		Fields: map[string]anki.Field{
			"Text":    {Value: text},
			FieldName: {Value: ""},
		},
	}
}

func testDataset() dataset.Dataset {
	return dataset.Dataset{
		System:   "Explain the card.",
		Examples: []dataset.Example{{User: "Text: Rome", Assistant: "Capital of Italy."}},
	}
}

func testOptions() Options {
	return Options{
		Fields:    []string{"Text"},
		NoteMode:  true,
		Model:     "anthropic/claude-3.5-sonnet",
		MaxTokens: 3000,
	}
}

// --- tests ---

func TestRun_NoMatchesSkipsGeneration(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki()
	gen := &fakeGenerator{text: "x"}

	report, err := New(env, Deps{Anki: a, Generator: gen, History: testStore(t, env), Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome != OutcomeNoMatches {
		t.Errorf("Outcome = %v, want OutcomeNoMatches", report.Outcome)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
	if len(a.infoCalls) != 0 {
		t.Error("cardsInfo should not be called when nothing matches")
	}
}

func TestRun_QueryExcludesCurrentVersion(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki()
	New(env, Deps{Anki: a, Generator: &fakeGenerator{}, Dataset: testDataset()}, testOptions()).Run(context.Background())

	want := DefaultQuery + " -AnkiExplainer:*VERSION:1.7* "
	if len(a.queries) != 1 || a.queries[0] != want {
		t.Errorf("query = %q, want %q", a.queries, want)
	}

	opts := testOptions()
	opts.Force = true
	a2 := newFakeAnki()
	New(env, Deps{Anki: a2, Generator: &fakeGenerator{}, Dataset: testDataset()}, opts).Run(context.Background())
	if a2.queries[0] != DefaultQuery {
		t.Errorf("forced query = %q, want unchanged", a2.queries[0])
	}
}

func TestRun_ExplainsAndPersists(t *testing.T) {
	env := testEnv(t)
	c := card(11, 7, 0, "Geo", "The capital of France is {{c1::Paris}}")
	a := newFakeAnki(c)
	gen := &fakeGenerator{text: "* ANSWER: Paris"}
	store := testStore(t, env)
	notifier := &fakeNotifier{}

	report, err := New(env, Deps{
		Anki:      a,
		Generator: gen,
		History:   store,
		Dataset:   testDataset(),
		Price:     proxy.Price{Input: 0.25, Output: 0.5},
		Notifier:  notifier,
	}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome != OutcomeCompleted || report.Explained != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	field := a.updates[7]
	if !strings.HasPrefix(field, "* <b>ANSWER</b>: Paris<br><br>[DATE:19/10/2026 VERSION:1.7 LLMMODEL:anthropic/claude-3.5-sonnet]") {
		t.Errorf("field = %q", field)
	}
	if !a.hasTag(7, "AnkiExplainer::done::19/10/2026", true) {
		t.Error("done tag not added")
	}
	if !a.hasTag(7, TagFailed+" "+TagTodo, false) {
		t.Error("failed/todo tags not removed")
	}
	if !a.hasTag(7, TagKeepAlive, true) || !a.hasTag(7, TagKeepAlive, false) {
		t.Error("keep-alive tag not touched")
	}

	reloaded, err := history.Load(env.HistoryPath, env.Logger)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	events := reloaded.Events("11")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.InputString != "Text: The capital of France is Paris" {
		t.Errorf("input string = %q", ev.InputString)
	}
	if ev.DollarCost == nil || *ev.DollarCost != 35 {
		t.Errorf("dollar cost = %v", ev.DollarCost)
	}
	if ev.Version != Version || ev.RunID != "run-1" || ev.Date != "19/10/2026" {
		t.Errorf("event metadata = %+v", ev)
	}

	if len(notifier.titles) != 1 || notifier.titles[0] != "AnkiExplainer - 'Geo'" {
		t.Errorf("notifications = %v", notifier.titles)
	}
	if !strings.Contains(notifier.bodies[0], "# 1/1 ####") {
		t.Errorf("body = %q", notifier.bodies[0])
	}

	msgs := gen.requests[0].Messages
	if last := msgs[len(msgs)-1]; last.Role != proxy.RoleUser || last.Content != ev.InputString {
		t.Errorf("last message = %+v", last)
	}
}

func TestRun_NoteModeDedup(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki(
		card(1, 10, 0, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
		card(2, 10, 1, "Geo", "{{c1::Paris}} {{c2::Rome}}"),
	)
	gen := &fakeGenerator{text: "ok"}

	report, err := New(env, Deps{Anki: a, Generator: gen, History: testStore(t, env), Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Fetched != 2 || report.Filtered != 1 || gen.calls != 1 {
		t.Errorf("report = %+v, calls = %d", report, gen.calls)
	}
	if got := gen.requests[0].Messages; got[len(got)-1].Content != "Text: Paris Rome" {
		t.Errorf("card text = %q", got[len(got)-1].Content)
	}
}

func TestRun_SkipsCardsAnnotatedAtVersion(t *testing.T) {
	env := testEnv(t)
	store := testStore(t, env)
	cost := 0.1
	store.Append("1", history.Event{Version: Version, DollarCost: &cost})

	a := newFakeAnki(card(1, 10, 0, "Geo", "x"))
	report, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{}, History: store, Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome != OutcomeNothingLeft {
		t.Errorf("Outcome = %v, want OutcomeNothingLeft", report.Outcome)
	}
}

func TestRun_UpdateFailureTagsAndContinues(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki(
		card(1, 10, 0, "Geo", "first"),
		card(2, 20, 0, "Geo", "second"),
	)
	a.updateErr = func(noteID int64) error {
		if noteID == 10 {
			return errors.New("note locked")
		}
		return nil
	}
	gen := &fakeGenerator{text: "ok"}

	report, err := New(env, Deps{Anki: a, Generator: gen, History: testStore(t, env), Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Explained != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if !a.hasTag(10, TagFailed, true) {
		t.Error("failed tag not added to note 10")
	}
	if _, ok := a.updates[20]; !ok {
		t.Error("second card not processed after the first failed")
	}
}

func TestRun_GenerationFailureAborts(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki(card(1, 10, 0, "Geo", "x"))
	gen := &fakeGenerator{err: errors.New("rate limited after 5 attempts")}

	_, err := New(env, Deps{Anki: a, Generator: gen, History: testStore(t, env), Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(a.updates) != 0 {
		t.Error("card updated despite generation failure")
	}
}

func TestRun_PromptOverBudgetAborts(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki(card(1, 10, 0, "Geo", strings.Repeat("long ", 200)))
	gen := &fakeGenerator{text: "ok"}
	opts := testOptions()
	opts.MaxTokens = 50

	_, err := New(env, Deps{Anki: a, Generator: gen, History: testStore(t, env), Dataset: testDataset()}, opts).Run(context.Background())
	if !errors.Is(err, composer.ErrPromptOverBudget) || !IsContractViolation(err) {
		t.Fatalf("err = %v, want ErrPromptOverBudget", err)
	}
	if gen.calls != 0 {
		t.Error("generator called with an over-budget prompt")
	}
}

func TestRun_SyncEveryHundredCards(t *testing.T) {
	env := testEnv(t)
	var cards []anki.Card
	for i := range 250 {
		cards = append(cards, card(int64(i+1), int64(i+1), 0, "Deck", fmt.Sprintf("card %03d", i)))
	}
	a := newFakeAnki(cards...)

	_, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{text: "ok"}, Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.syncs != 2 {
		t.Errorf("syncs = %d, want 2 (after 100 and 200 cards)", a.syncs)
	}

	opts := testOptions()
	opts.Sync = true
	a2 := newFakeAnki(cards...)
	if _, err := New(env, Deps{Anki: a2, Generator: &fakeGenerator{text: "ok"}, Dataset: testDataset()}, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a2.syncs != 3 {
		t.Errorf("syncs with sync enabled = %d, want 3 (start, 100, 200)", a2.syncs)
	}
}

func TestExecute_SyncsOnceAtEnd(t *testing.T) {
	env := testEnv(t)
	var cards []anki.Card
	for i := range 250 {
		cards = append(cards, card(int64(i+1), int64(i+1), 0, "Deck", fmt.Sprintf("card %03d", i)))
	}

	tests := []struct {
		name string
		sync bool
		want int
	}{
		{"sync disabled", false, 3},
		{"sync enabled", true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.Sync = tt.sync
			a := newFakeAnki(cards...)
			if _, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{text: "ok"}, Dataset: testDataset()}, opts).Execute(context.Background()); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if a.syncs != tt.want {
				t.Errorf("syncs = %d, want %d", a.syncs, tt.want)
			}
		})
	}
}

func TestRun_TruncatesToMaxCards(t *testing.T) {
	env := testEnv(t)
	var cards []anki.Card
	for i := range MaxCards + 5 {
		cards = append(cards, card(int64(i+1), int64(i+1), 0, "Deck", fmt.Sprintf("c%d", i)))
	}
	a := newFakeAnki(cards...)

	report, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{text: "ok"}, Dataset: testDataset()}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Fetched != MaxCards {
		t.Errorf("Fetched = %d, want %d", report.Fetched, MaxCards)
	}
	if got := a.infoCalls[0]; len(got) != MaxCards || got[0] != 1 || got[MaxCards-1] != MaxCards {
		t.Errorf("cardsInfo ids not the first %d in fetch order", MaxCards)
	}
}

func TestRun_DecksInReverseOrder(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki(
		card(1, 1, 0, "Alpha", "a"),
		card(2, 2, 0, "Zeta", "z"),
	)
	notifier := &fakeNotifier{}
	_, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{text: "ok"}, Dataset: testDataset(), Notifier: notifier}, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"AnkiExplainer - 'Zeta'", "AnkiExplainer - 'Alpha'"}
	if len(notifier.titles) != 2 || notifier.titles[0] != want[0] || notifier.titles[1] != want[1] {
		t.Errorf("titles = %v, want %v", notifier.titles, want)
	}
}

func TestExecute_ErrorNotifiesAndSyncs(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki()
	a.findErr = errors.New("anki unreachable")
	notifier := &fakeNotifier{}

	_, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{}, Dataset: testDataset(), Notifier: notifier}, testOptions()).Execute(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "AnkiExplainer - 'error'" {
		t.Errorf("notifications = %v", notifier.titles)
	}
	if a.syncs != 1 {
		t.Errorf("final sync attempts = %d, want 1", a.syncs)
	}
}

func TestExecute_NoNotifierIsSilent(t *testing.T) {
	env := testEnv(t)
	a := newFakeAnki()
	a.findErr = errors.New("boom")
	if _, err := New(env, Deps{Anki: a, Generator: &fakeGenerator{}, Dataset: testDataset()}, testOptions()).Execute(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
