package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CategoryBoost is added to the similarity of documents in the requested
// category when ranking a category-scoped search.
const CategoryBoost = 0.15

const (
	metaEmbedder  = "embedder"
	identityProbe = "omnidesk embedding probe"
)

// Document is a chunk of knowledge waiting to be indexed.
type Document struct {
	Source   string
	Category string
	Text     string
}

// Match is a retrieved chunk with its cosine similarity.
type Match struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Category   string  `json:"category"`
	Similarity float64 `json:"similarity"`
}

// Retriever combines embedding and vector search to find relevant knowledge.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Index embeds docs in batch and appends them to the store in slice order.
func (r *Retriever) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("indexing documents: %w", err)
	}

	records := make([]Record, len(docs))
	for i, d := range docs {
		records[i] = Record{
			ID:        uuid.NewString(),
			Source:    d.Source,
			Category:  d.Category,
			TextChunk: d.Text,
			Embedding: vecs[i],
		}
	}
	return r.store.Insert(ctx, records)
}

// Count returns the number of indexed chunks.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Reset drops the whole index.
func (r *Retriever) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}

// Identity names the embedder and its vector width as "name/dims". Vectors
// from embedders with different identities are not comparable.
func (r *Retriever) Identity(ctx context.Context) (string, error) {
	vec, err := r.embedder.Embed(ctx, identityProbe)
	if err != nil {
		return "", err
	}
	name := r.embedder.name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%s/%d", name, len(vec)), nil
}

// IndexedIdentity returns the identity recorded when the index was built, or
// "" for an index built before identities were recorded.
func (r *Retriever) IndexedIdentity(ctx context.Context) (string, error) {
	return r.store.Meta(ctx, metaEmbedder)
}

func (r *Retriever) SetIndexedIdentity(ctx context.Context, id string) error {
	return r.store.SetMeta(ctx, metaEmbedder, id)
}

// Search embeds the query and returns at most topK chunks by descending
// similarity, ties broken by insertion order.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	return r.search(ctx, query, SearchOptions{TopK: topK})
}

// SearchCategory ranks a widened candidate pool with CategoryBoost applied to
// chunks of category, then keeps the best maxResults.
func (r *Retriever) SearchCategory(ctx context.Context, category, query string, maxResults int) ([]Match, error) {
	pool := maxResults * 3
	if pool < 10 {
		pool = 10
	}
	matches, err := r.search(ctx, query, SearchOptions{TopK: pool, BoostCategory: category, Boost: CategoryBoost})
	if err != nil {
		return nil, err
	}
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

func (r *Retriever) search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	if strings.TrimSpace(query) == "" || opts.TopK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Search(ctx, vec, opts)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{
			ID:         s.ID,
			Text:       s.TextChunk,
			Source:     s.Source,
			Category:   s.Category,
			Similarity: float64(s.Similarity),
		}
	}
	return matches, nil
}
