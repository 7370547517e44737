package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/omnitech/omnidesk/internal/classify"
)

const defaultMaxContextTokens = 2000

const (
	noKnowledge = "No relevant knowledge base articles were found."
	noCustomer  = "Unknown customer"
	noHistory   = "(no previous conversation)"
)

// answerInstruction asks the model for the structured reply ParseAnswer reads.
const answerInstruction = `Respond with only a JSON object:
{"response": "<your answer to the customer>", "action_needed": "none|create_ticket|escalate|follow_up", "confidence": <0.0-1.0>}
Use "create_ticket" or "escalate" only when the issue cannot be resolved in this reply.`

// Turn is one side of a conversation exchange.
type Turn struct {
	Role string    `json:"role"` // "customer" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Inputs are the values substituted into a category template.
type Inputs struct {
	Query           string
	Knowledge       string
	CustomerContext string
	History         []Turn
}

// Composer fills category templates and bounds the injected knowledge.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected knowledge.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Support fills a category template and appends the answer instruction.
// Placeholders the template omits are simply not rendered.
func (c *Composer) Support(template string, in Inputs) string {
	customer := in.CustomerContext
	if customer == "" {
		customer = noCustomer
	}
	r := strings.NewReplacer(
		classify.PlaceholderKnowledge, c.knowledge(in.Knowledge),
		classify.PlaceholderCustomer, customer,
		classify.PlaceholderHistory, FormatHistory(in.History),
		classify.PlaceholderQuery, in.Query,
	)
	return strings.TrimSpace(r.Replace(template)) + "\n\n" + answerInstruction
}

// Exploratory builds the knowledge-only prompt used outside the support path.
func (c *Composer) Exploratory(in Inputs) string {
	var sb strings.Builder
	sb.WriteString("You are the OmniTech help assistant. Answer the question using only the knowledge below. ")
	sb.WriteString("If the knowledge does not cover it, say so briefly.\n\n")
	sb.WriteString("Knowledge base:\n")
	sb.WriteString(c.knowledge(in.Knowledge))
	if len(in.History) > 0 {
		sb.WriteString("\n\nRecent conversation:\n")
		sb.WriteString(FormatHistory(in.History))
	}
	fmt.Fprintf(&sb, "\n\nQuestion: %s\n\n", in.Query)
	sb.WriteString(answerInstruction)
	return sb.String()
}

// knowledge trims text to the token budget, cutting at a paragraph boundary
// where possible.
func (c *Composer) knowledge(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return noKnowledge
	}
	if EstimateTokens(text) <= c.MaxContextTokens {
		return text
	}
	cut := strings.ToValidUTF8(text[:c.MaxContextTokens*4], "")
	if i := strings.LastIndex(cut, "\n\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

// FormatHistory renders turns oldest first, one per line.
func FormatHistory(turns []Turn) string {
	if len(turns) == 0 {
		return noHistory
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		role := "Customer"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s", role, t.Text)
	}
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
