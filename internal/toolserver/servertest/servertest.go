// Package servertest builds a fully seeded tool server for tests in other
// packages.
package servertest

import (
	"context"
	"testing"
	"time"

	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/ingest"
	"github.com/omnitech/omnidesk/internal/retrieval"
	"github.com/omnitech/omnidesk/internal/storage"
	"github.com/omnitech/omnidesk/internal/toolserver"
)

// New returns a tool server over an in-memory store carrying the default
// seed data and the bundled corpus. The store is closed on test cleanup.
func New(t testing.TB) *toolserver.Server {
	t.Helper()
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sd, err := storage.DefaultSeed()
	if err != nil {
		t.Fatalf("default seed: %v", err)
	}
	if _, err := st.Seed(ctx, sd); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	tbl, err := classify.DefaultTable()
	if err != nil {
		t.Fatalf("category table: %v", err)
	}

	r := retrieval.NewRetriever(
		retrieval.NewEmbedder(retrieval.NewHashEmbedder(512), time.Minute),
		retrieval.NewSQLiteStore(st.DB()),
	)
	if _, err := ingest.NewLoader(r, tbl, nil).Load(ctx, ingest.Options{ChunkSize: 800}); err != nil {
		t.Fatalf("loading corpus: %v", err)
	}

	return toolserver.New(toolserver.Deps{
		Store:      st,
		Categories: tbl,
		Retriever:  r,
		Generation: toolserver.GenerationInfo{Provider: "offline", Model: "test"},
	})
}
