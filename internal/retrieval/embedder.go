package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

// Backend produces the embedding vector for one text.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, text string) ([]float32, error)

func (f BackendFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Embedder wraps a Backend with a TTL cache for repeated query texts and a
// bounded-concurrency batch path used when indexing the corpus.
type Embedder struct {
	backend Backend
	cache   *cache.Cache
	name    string
}

// NewEmbedder creates an Embedder. A zero ttl disables query caching.
func NewEmbedder(b Backend, ttl time.Duration) *Embedder {
	e := &Embedder{backend: b}
	if ttl > 0 {
		e.cache = cache.New(ttl, 2*ttl)
	}
	return e
}

// Named sets the name recorded with indexes built by e, for example
// "ollama/nomic-embed-text".
func (e *Embedder) Named(name string) *Embedder {
	e.name = name
	return e
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v.([]float32), nil
		}
	}
	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.cache != nil {
		e.cache.Set(text, vec, cache.DefaultExpiration)
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
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.backend.Embed(gCtx, text)
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
