package retrieval

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []Document{
	{Source: "security.md", Category: "account_security", Text: "To reset your password open Settings, choose Security and click Reset password. A reset link is emailed to you."},
	{Source: "shipping.md", Category: "shipping_delivery", Text: "Orders ship within two business days. Track your order with the tracking number in the confirmation email."},
	{Source: "returns.md", Category: "returns_refunds", Text: "Items can be returned within 30 days for a full refund. Start a return from the Orders page."},
	{Source: "billing.md", Category: "billing_payments", Text: "We accept credit cards and PayPal. Duplicate charges are refunded within five business days."},
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	r := NewRetriever(NewEmbedder(NewHashEmbedder(256), time.Minute), openTestStore(t))
	require.NoError(t, r.Index(context.Background(), corpus))
	return r
}

func TestRetriever_SearchRanksRelevantFirst(t *testing.T) {
	r := newTestRetriever(t)

	got, err := r.Search(context.Background(), "how do I reset my password", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "security.md", got[0].Source)
	assert.LessOrEqual(t, len(got), 3)
}

func TestRetriever_SearchBoundedAndSorted(t *testing.T) {
	r := newTestRetriever(t)
	ctx := context.Background()

	for _, k := range []int{1, 2, 4, 10} {
		got, err := r.Search(ctx, "refund for my order", k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), k)
		assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
			return got[i].Similarity > got[j].Similarity
		}), "similarity must be non-increasing")
		for _, m := range got {
			assert.GreaterOrEqual(t, m.Similarity, 0.0)
			assert.LessOrEqual(t, m.Similarity, 1.0+1e-6)
		}
	}
}

func TestRetriever_SearchCategoryPrefersCategory(t *testing.T) {
	r := newTestRetriever(t)

	got, err := r.SearchCategory(context.Background(), "billing_payments", "refunded order", 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Equal(t, "billing_payments", got[0].Category)
}

func TestRetriever_EmptyQuery(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEmbedder_CachesQueries(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{1, 2}, nil
	})
	e := NewEmbedder(backend, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "same text")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestEmbedder_BatchPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	e := NewEmbedder(BackendFunc(func(ctx context.Context, text string) ([]float32, error) {
		if text == "bad" {
			return nil, boom
		}
		return []float32{1}, nil
	}), 0)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "bad", "c"})
	assert.ErrorIs(t, err, boom)

	vecs, err = e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	a, _ := h.Embed(context.Background(), "Where is my order?")
	b, _ := h.Embed(context.Background(), "where is MY order")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestRetrieverIdentity(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	r := NewRetriever(NewEmbedder(NewHashEmbedder(128), time.Minute), store)
	id, err := r.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unnamed/128", id)

	r = NewRetriever(NewEmbedder(NewHashEmbedder(128), time.Minute).Named("hash"), store)
	id, err = r.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash/128", id)

	require.NoError(t, r.SetIndexedIdentity(ctx, id))
	got, err := r.IndexedIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
