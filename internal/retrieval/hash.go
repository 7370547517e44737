package retrieval

import (
	"context"
	"hash/fnv"

	"github.com/omnitech/omnidesk/internal/textnorm"
)

// HashEmbedder maps text to a bag-of-words vector using the hashing trick.
// Weights are non-negative term counts, so cosine similarity between two
// hashed vectors always lies in [0, 1]. It needs no model and is fully
// deterministic, which makes it the default for offline runs and tests.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, tok := range textnorm.ContentTokens(text) {
		vec[h.bucket(tok)]++
		if s := textnorm.Stem(tok); s != tok {
			vec[h.bucket(s)] += 0.5
		}
	}
	return vec, nil
}

func (h *HashEmbedder) bucket(tok string) int {
	f := fnv.New32a()
	f.Write([]byte(tok))
	return int(f.Sum32() % uint32(h.dims))
}
