package retrieval

import (
	"context"
	"time"
)

// VectorStore stores document chunks with their embeddings and answers
// nearest-neighbor queries over them.
type VectorStore interface {
	// Insert appends records; insertion order is preserved and used to break score ties.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to opts.TopK records ordered by ranking score
	// descending, then insertion order ascending.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset removes every record and its metadata.
	Reset(ctx context.Context) error

	// Meta returns the metadata value for key, or "" when unset.
	Meta(ctx context.Context, key string) (string, error)

	SetMeta(ctx context.Context, key, value string) error
}

// Record represents a document chunk in the vector store.
type Record struct {
	Seq       int64 // assigned by the store on insert
	ID        string
	Source    string
	Category  string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// SearchOptions controls ranking. When BoostCategory is set, records of that
// category have Boost added to their similarity before ranking.
type SearchOptions struct {
	TopK          int
	BoostCategory string
	Boost         float32
}

// ScoredRecord is a Record with its cosine similarity and ranking score.
type ScoredRecord struct {
	Record
	Similarity float32
	Score      float32
}
