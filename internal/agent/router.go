package agent

import (
	"regexp"
	"strings"

	"github.com/omnitech/omnidesk/internal/textnorm"
)

// Workflow is the path a query takes through the agent.
type Workflow string

const (
	WorkflowSupport     Workflow = "support"
	WorkflowExploratory Workflow = "exploratory"
)

// supportKeywords are grouped by topic; any single hit routes to support.
var supportKeywords = map[string][]string{
	"account":  {"password", "login", "log in", "sign in", "account", "locked", "hacked", "2fa", "verification"},
	"orders":   {"order", "shipping", "shipped", "delivery", "delivered", "package", "tracking", "arrived", "arrive"},
	"returns":  {"refund", "return", "exchange", "replacement", "warranty claim", "cancel"},
	"billing":  {"charge", "charged", "billing", "invoice", "payment", "subscription"},
	"problems": {"broken", "not working", "doesnt work", "wont", "cant", "error", "crash", "problem", "issue", "help me", "fix"},
	"tickets":  {"ticket", "complaint", "escalate", "speak to", "manager", "agent"},
}

var supportPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bORD-\d+\b`),
	regexp.MustCompile(`(?i)\bmy\s+(order|account|device|laptop|phone|watch|tablet|headphones|subscription|card)\b`),
	regexp.MustCompile(`(?i)\bhow\s+(do|can)\s+i\b`),
	regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[\w.]+\b`),
}

// Router decides between the support and exploratory workflows. It is a
// cheap lexical check and deliberately independent of the tool server's
// category classifier.
type Router struct {
	keywords [][]string
	patterns []*regexp.Regexp
}

func NewRouter() *Router {
	r := &Router{patterns: supportPatterns}
	for _, group := range supportKeywords {
		for _, kw := range group {
			r.keywords = append(r.keywords, textnorm.Tokenize(kw))
		}
	}
	return r
}

// Route returns WorkflowSupport when the query looks like a customer issue.
func (r *Router) Route(query string) Workflow {
	for _, re := range r.patterns {
		if re.MatchString(query) {
			return WorkflowSupport
		}
	}
	toks := textnorm.Tokenize(query)
	for _, kw := range r.keywords {
		if containsSeq(toks, kw) {
			return WorkflowSupport
		}
	}
	return WorkflowExploratory
}

func containsSeq(toks, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(toks) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(toks); i++ {
		for j, s := range seq {
			if toks[i+j] != s && textnorm.Stem(toks[i+j]) != textnorm.Stem(s) {
				continue outer
			}
		}
		return true
	}
	return false
}

var orderIDPattern = regexp.MustCompile(`(?i)\bORD-\d+\b`)

// orderID returns the first order id mentioned in query, upper-cased.
func orderID(query string) string {
	return strings.ToUpper(orderIDPattern.FindString(query))
}
