package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kalambet/ankiexplainer/internal/composer"
	"github.com/kalambet/ankiexplainer/internal/dataset"
)

// Selector picks the few-shot examples most similar to a card that fit a
// token budget. Similarity is cosine over embeddings of the examples' user
// turns; when the embedding engine is unavailable it falls back to word
// overlap.
type Selector struct {
	embedder *Embedder
	logger   *slog.Logger

	mu       sync.Mutex
	vectors  map[string][]float32
	fallback bool
}

// NewSelector creates a Selector. A nil embedder means lexical similarity
// only.
func NewSelector(embedder *Embedder, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		embedder: embedder,
		logger:   logger,
		vectors:  make(map[string][]float32),
		fallback: embedder == nil,
	}
}

// Lexical reports whether the selector has fallen back to word overlap.
func (s *Selector) Lexical() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Warm embeds every example's user turn up front. An engine failure
// switches the selector to lexical similarity instead of failing the run.
func (s *Selector) Warm(ctx context.Context, examples []dataset.Example) error {
	if s.Lexical() || len(examples) == 0 {
		return nil
	}

	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.User
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.degrade(err)
		return nil
	}

	s.mu.Lock()
	for i, t := range texts {
		s.vectors[t] = vecs[i]
	}
	s.mu.Unlock()
	s.logger.Info("examples embedded", "count", len(texts), "model", s.embedder.Model())
	return nil
}

func (s *Selector) degrade(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fallback {
		s.logger.Warn("embedding engine unavailable, using lexical similarity", "error", err)
	}
	s.fallback = true
}

type scored struct {
	idx   int
	score float32
}

// Select ranks examples by similarity to query, greedily keeps the best
// ones whose cost fits budget, and returns them in dataset order.
func (s *Selector) Select(ctx context.Context, query string, examples []dataset.Example, budget int) ([]dataset.Example, error) {
	if len(examples) == 0 || budget <= 0 {
		return nil, nil
	}

	scores, err := s.score(ctx, query, examples)
	if err != nil {
		return nil, err
	}

	ranked := make([]scored, len(examples))
	for i := range examples {
		ranked[i] = scored{idx: i, score: scores[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	keep := make([]bool, len(examples))
	remaining := budget
	for _, r := range ranked {
		cost := composer.ExampleTokens(examples[r.idx])
		if cost > remaining {
			continue
		}
		keep[r.idx] = true
		remaining -= cost
	}

	var out []dataset.Example
	for i, ex := range examples {
		if keep[i] {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (s *Selector) score(ctx context.Context, query string, examples []dataset.Example) ([]float32, error) {
	if !s.Lexical() {
		scores, err := s.semantic(ctx, query, examples)
		if err == nil {
			return scores, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.degrade(err)
	}

	scores := make([]float32, len(examples))
	for i, ex := range examples {
		scores[i] = lexical(query, ex.User)
	}
	return scores, nil
}

func (s *Selector) semantic(ctx context.Context, query string, examples []dataset.Example) ([]float32, error) {
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scores := make([]float32, len(examples))
	for i, ex := range examples {
		ev, err := s.exampleVector(ctx, ex.User)
		if err != nil {
			return nil, err
		}
		scores[i] = cosine(qv, ev)
	}
	return scores, nil
}

func (s *Selector) exampleVector(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	v, ok := s.vectors[text]
	s.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.vectors[text] = v
	s.mu.Unlock()
	return v, nil
}
