package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Engine produces embedding vectors. *ollama.Client satisfies it.
type Engine interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Cache stores embeddings keyed by model and text. *storage.Store
// satisfies it. Any Get error is treated as a miss.
type Cache interface {
	GetEmbedding(ctx context.Context, model, text string) ([]float32, error)
	PutEmbedding(ctx context.Context, model, text string, vec []float32) error
}

// batchConcurrency bounds parallel requests to the embedding engine.
const batchConcurrency = 4

// Embedder wraps an Engine to generate text embeddings, consulting an
// optional cache first.
type Embedder struct {
	engine Engine
	model  string
	cache  Cache
	logger *slog.Logger
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// cache may be nil.
func NewEmbedder(e Engine, model string, cache Cache) *Embedder {
	return &Embedder{engine: e, model: model, cache: cache, logger: slog.Default()}
}

// WithLogger sets the logger used for cache warnings.
func (e *Embedder) WithLogger(l *slog.Logger) *Embedder {
	if l != nil {
		e.logger = l
	}
	return e
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, err := e.cache.GetEmbedding(ctx, e.model, text); err == nil {
			return vec, nil
		}
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.PutEmbedding(ctx, e.model, text, vec); err != nil {
			e.logger.Warn("caching embedding failed", "model", e.model, "error", err)
		}
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
