package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"my", "order", "hasnt", "arrived"}, Tokenize("My order hasn't arrived!"))
	assert.Equal(t, []string{"ord", "1003"}, Tokenize("ORD-1003"))
	assert.Empty(t, Tokenize("  ?! "))
}

func TestContentTokens(t *testing.T) {
	assert.Equal(t, []string{"reset", "password"}, ContentTokens("How do I reset my password?"))
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"orders":   "order",
		"refunded": "refund",
		"charging": "charg",
		"is":       "is",
		"bus":      "bus",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), in)
	}
}
