package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omnitech/omnidesk/internal/textnorm"
)

//go:embed categories.yaml
var defaultCategories []byte

// Placeholders a category template may reference. Query and knowledge are mandatory.
const (
	PlaceholderQuery     = "{query}"
	PlaceholderKnowledge = "{knowledge}"
	PlaceholderCustomer  = "{customer_context}"
	PlaceholderHistory   = "{history}"
)

// Category is one support topic. Categories are immutable once loaded.
type Category struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description" json:"description"`
	IssueType   string   `yaml:"issue_type" json:"issue_type"`
	Default     bool     `yaml:"default" json:"default"`
	Template    string   `yaml:"template" json:"-"`
	Examples    []string `yaml:"examples" json:"examples"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Escalation  []string `yaml:"escalation" json:"escalation,omitempty"`
}

// phrase is a keyword split into stemmed tokens for boundary-aware matching.
type phrase struct {
	text   string
	tokens []string
}

type compiled struct {
	Category
	keywords   []phrase
	escalation []phrase
	examples   []map[string]bool
}

// Table is an ordered, validated set of categories.
type Table struct {
	cats []compiled
	byID map[string]int
	def  int
}

// DefaultTable returns the category table bundled with the binary.
func DefaultTable() (*Table, error) {
	return LoadTable(defaultCategories)
}

// LoadTableFile reads a category table from a YAML file.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading categories file: %w", err)
	}
	return LoadTable(data)
}

// LoadTable parses and validates a YAML category table. Ids must be unique,
// every template must contain {query} and {knowledge}, and exactly one
// category must be marked default.
func LoadTable(data []byte) (*Table, error) {
	var doc struct {
		Categories []Category `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("category table is empty")
	}

	t := &Table{byID: make(map[string]int, len(doc.Categories)), def: -1}
	for i, c := range doc.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("category %d has no id", i)
		}
		if _, dup := t.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %q", c.ID)
		}
		for _, ph := range []string{PlaceholderQuery, PlaceholderKnowledge} {
			if !strings.Contains(c.Template, ph) {
				return nil, fmt.Errorf("category %q: template missing %s", c.ID, ph)
			}
		}
		if c.Default {
			if t.def >= 0 {
				return nil, fmt.Errorf("categories %q and %q are both marked default", t.cats[t.def].ID, c.ID)
			}
			t.def = i
		}
		if c.IssueType == "" {
			c.IssueType = c.ID
		}
		t.byID[c.ID] = i
		t.cats = append(t.cats, compile(c))
	}
	if t.def < 0 {
		return nil, fmt.Errorf("no default category declared")
	}
	return t, nil
}

func compile(c Category) compiled {
	cc := compiled{Category: c}
	cc.keywords = compilePhrases(c.Keywords)
	cc.escalation = compilePhrases(c.Escalation)
	for _, ex := range c.Examples {
		cc.examples = append(cc.examples, stemSet(textnorm.ContentTokens(ex)))
	}
	return cc
}

// compilePhrases drops phrases that stem to one already seen, so "return" and
// "returns" count once.
func compilePhrases(in []string) []phrase {
	seen := make(map[string]bool, len(in))
	var out []phrase
	for _, p := range in {
		toks := stemAll(textnorm.Tokenize(p))
		key := strings.Join(toks, " ")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, phrase{text: p, tokens: toks})
	}
	return out
}

// Categories returns the categories in declaration order.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.cats))
	for i, c := range t.cats {
		out[i] = c.Category
	}
	return out
}

// Get returns the category with the given id.
func (t *Table) Get(id string) (Category, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Category{}, false
	}
	return t.cats[i].Category, true
}

// Default returns the fallback category.
func (t *Table) Default() Category {
	return t.cats[t.def].Category
}

// Len returns the number of categories.
func (t *Table) Len() int {
	return len(t.cats)
}

func stemAll(toks []string) []string {
	out := make([]string, len(toks))
	for i, tok := range toks {
		out[i] = textnorm.Stem(tok)
	}
	return out
}

func stemSet(toks []string) map[string]bool {
	set := make(map[string]bool, len(toks))
	for _, tok := range toks {
		set[textnorm.Stem(tok)] = true
	}
	return set
}
