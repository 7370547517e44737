package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := DefaultTable()
	require.NoError(t, err)
	return tbl
}

func TestDefaultTable_TemplatesHavePlaceholders(t *testing.T) {
	tbl := defaultTable(t)
	require.NotZero(t, tbl.Len())
	for _, c := range tbl.Categories() {
		assert.Contains(t, c.Template, PlaceholderQuery, c.ID)
		assert.Contains(t, c.Template, PlaceholderKnowledge, c.ID)
		assert.NotEmpty(t, c.Description, c.ID)
		assert.NotEmpty(t, c.IssueType, c.ID)
	}
	assert.Equal(t, "general_support", tbl.Default().ID)
}

func TestClassify_PasswordReset(t *testing.T) {
	res := defaultTable(t).Classify("How do I reset my password?")

	assert.Equal(t, "account_security", res.Category)
	assert.False(t, res.Fallback)
	assert.Greater(t, res.Confidence, 0.5)
	assert.False(t, res.NeedsTicket)
	assert.Contains(t, res.MatchedKeywords, "password")
}

func TestClassify_FuriousLateOrder(t *testing.T) {
	res := defaultTable(t).Classify("My order ORD-1003 hasn't arrived and I'm furious")

	assert.Equal(t, "shipping_delivery", res.Category)
	assert.Equal(t, UrgencyHigh, res.Urgency)
	assert.True(t, res.NeedsTicket)
	assert.Equal(t, "delivery_issue", res.IssueType)
}

func TestClassify_Fallback(t *testing.T) {
	res := defaultTable(t).Classify("zebra quantum marmalade")

	assert.True(t, res.Fallback)
	assert.Equal(t, "general_support", res.Category)
	assert.Equal(t, FallbackConfidence, res.Confidence)
	assert.Empty(t, res.Alternates)
	assert.NotNil(t, res.MatchedKeywords)
}

func TestClassify_Deterministic(t *testing.T) {
	tbl := defaultTable(t)
	queries := []string{
		"How do I reset my password?",
		"I was charged twice for my order",
		"My laptop won't turn on after the update",
		"Can I return the earbuds for a refund?",
		"",
		"???",
		"What are the specs of the tablet?",
	}
	for _, q := range queries {
		first := tbl.Classify(q)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, tbl.Classify(q), q)
		}
	}
}

func TestClassify_ConfidenceInRange(t *testing.T) {
	tbl := defaultTable(t)
	for _, q := range []string{
		"password login locked out hacked 2fa reset password sign in",
		"refund",
		"the",
		"My package hasn't arrived, where is my order? tracking says delivered",
	} {
		res := tbl.Classify(q)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, q)
		assert.LessOrEqual(t, res.Confidence, 1.0, q)
		assert.LessOrEqual(t, len(res.Alternates), 3, q)
		for _, a := range res.Alternates {
			assert.NotEqual(t, res.Category, a.Category)
			assert.GreaterOrEqual(t, a.Confidence, 0.0)
			assert.LessOrEqual(t, a.Confidence, 1.0)
		}
	}
}

const tieTable = `
categories:
  - id: first
    description: First
    keywords: [widget]
    template: "{query} {knowledge}"
  - id: second
    description: Second
    keywords: [widget]
    template: "{query} {knowledge}"
  - id: fallback
    description: Fallback
    default: true
    keywords: []
    template: "{query} {knowledge}"
`

func TestClassify_TieBrokenByDeclarationOrder(t *testing.T) {
	tbl, err := LoadTable([]byte(tieTable))
	require.NoError(t, err)

	res := tbl.Classify("my widget widget")
	assert.Equal(t, "first", res.Category)
	require.Len(t, res.Alternates, 1)
	assert.Equal(t, "second", res.Alternates[0].Category)
	assert.Equal(t, res.Score, res.Alternates[0].Score)

	// Swapping the declaration order swaps the winner.
	swapped := strings.Replace(strings.Replace(tieTable, "id: first", "id: tmp", 1), "id: second", "id: first", 1)
	swapped = strings.Replace(swapped, "id: tmp", "id: second", 1)
	tbl, err = LoadTable([]byte(swapped))
	require.NoError(t, err)
	assert.Equal(t, "second", tbl.Classify("widget").Category)
}

func TestLoadTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `categories: []`},
		{"missing knowledge placeholder", `
categories:
  - id: a
    default: true
    template: "{query}"
`},
		{"missing query placeholder", `
categories:
  - id: a
    default: true
    template: "{knowledge}"
`},
		{"duplicate id", `
categories:
  - id: a
    default: true
    template: "{query} {knowledge}"
  - id: a
    template: "{query} {knowledge}"
`},
		{"no default", `
categories:
  - id: a
    template: "{query} {knowledge}"
`},
		{"two defaults", `
categories:
  - id: a
    default: true
    template: "{query} {knowledge}"
  - id: b
    default: true
    template: "{query} {knowledge}"
`},
		{"bad yaml", `categories: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestGet(t *testing.T) {
	tbl := defaultTable(t)
	c, ok := tbl.Get("billing_payments")
	require.True(t, ok)
	assert.Equal(t, "Billing and Payments", c.Description)

	_, ok = tbl.Get("nope")
	assert.False(t, ok)
}

func TestContainsPhrase_TokenBoundaries(t *testing.T) {
	assert.True(t, containsPhrase([]string{"i", "got", "locked", "out"}, []string{"locked", "out"}))
	assert.False(t, containsPhrase([]string{"passwords"}, []string{"pass"}))
	assert.False(t, containsPhrase([]string{"locked"}, []string{"locked", "out"}))
}
