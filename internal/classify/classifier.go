package classify

import (
	"sort"

	"github.com/omnitech/omnidesk/internal/textnorm"
)

const (
	// ScoreThreshold is the minimum winning score; below it the default
	// category is returned as a fallback.
	ScoreThreshold = 1.0

	// FallbackConfidence is reported for default-category fallbacks.
	FallbackConfidence = 0.3

	maxAlternates = 3
)

// Urgency levels.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

var (
	urgentPhrases = compilePhrases([]string{
		"furious", "angry", "urgent", "urgently", "asap", "immediately", "unacceptable",
		"emergency", "outraged", "ridiculous", "right now", "fed up", "worst",
	})
	relaxedPhrases = compilePhrases([]string{
		"no rush", "whenever", "just curious", "just wondering", "no hurry",
	})
)

// Alternate is a runner-up category.
type Alternate struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
}

// Result is the outcome of classifying one query.
type Result struct {
	Category        string      `json:"category"`
	Description     string      `json:"description"`
	IssueType       string      `json:"issue_type"`
	Confidence      float64     `json:"confidence"`
	Score           float64     `json:"score"`
	Fallback        bool        `json:"fallback"`
	Alternates      []Alternate `json:"alternates"`
	Urgency         string      `json:"urgency"`
	NeedsTicket     bool        `json:"needs_ticket"`
	MatchedKeywords []string    `json:"matched_keywords"`
}

type scored struct {
	idx        int
	score      float64
	keywords   []string
	escalation bool
}

// Classify scores every category against query and returns the winner.
//
// A category's score is the number of its keyword and escalation phrases that
// occur in the query on token boundaries, plus the best Jaccard similarity
// between the query's content tokens and any of its example queries. The
// highest score wins; equal scores go to the category declared first. The
// function is pure: the same query and table always give the same result.
func (t *Table) Classify(query string) Result {
	toks := stemAll(textnorm.Tokenize(query))
	content := stemSet(textnorm.ContentTokens(query))

	all := make([]scored, len(t.cats))
	best := 0
	for i, c := range t.cats {
		s := scored{idx: i}
		for _, p := range c.keywords {
			if containsPhrase(toks, p.tokens) {
				s.score++
				s.keywords = append(s.keywords, p.text)
			}
		}
		for _, p := range c.escalation {
			if containsPhrase(toks, p.tokens) {
				s.score++
				s.escalation = true
				s.keywords = append(s.keywords, p.text)
			}
		}
		s.score += bestJaccard(content, c.examples)
		all[i] = s
		// Strictly greater: on a tie the earlier declaration is kept.
		if s.score > all[best].score {
			best = i
		}
	}

	urgency := urgencyOf(toks)
	win := all[best]

	res := Result{
		Score:   win.score,
		Urgency: urgency,
	}
	if win.score < ScoreThreshold {
		def := t.cats[t.def]
		res.Category = def.ID
		res.Description = def.Description
		res.IssueType = def.IssueType
		res.Confidence = FallbackConfidence
		res.Fallback = true
		res.MatchedKeywords = nonNil(all[t.def].keywords)
		res.NeedsTicket = urgency == UrgencyHigh || all[t.def].escalation
		res.Alternates = alternates(t, all, -1)
		return res
	}

	c := t.cats[win.idx]
	res.Category = c.ID
	res.Description = c.Description
	res.IssueType = c.IssueType
	res.Confidence = confidence(win.score)
	res.MatchedKeywords = nonNil(win.keywords)
	res.NeedsTicket = urgency == UrgencyHigh || win.escalation
	res.Alternates = alternates(t, all, win.idx)
	return res
}

func alternates(t *Table, all []scored, winner int) []Alternate {
	cands := make([]scored, 0, len(all))
	for _, s := range all {
		if s.idx != winner && s.score > 0 {
			cands = append(cands, s)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > maxAlternates {
		cands = cands[:maxAlternates]
	}
	out := make([]Alternate, len(cands))
	for i, s := range cands {
		out[i] = Alternate{Category: t.cats[s.idx].ID, Confidence: confidence(s.score), Score: s.score}
	}
	return out
}

// confidence maps a non-negative score into [0, 1).
func confidence(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}

func urgencyOf(toks []string) string {
	for _, p := range urgentPhrases {
		if containsPhrase(toks, p.tokens) {
			return UrgencyHigh
		}
	}
	for _, p := range relaxedPhrases {
		if containsPhrase(toks, p.tokens) {
			return UrgencyLow
		}
	}
	return UrgencyMedium
}

func containsPhrase(toks, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(toks) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(toks); i++ {
		for j, p := range phrase {
			if toks[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

func bestJaccard(q map[string]bool, examples []map[string]bool) float64 {
	if len(q) == 0 {
		return 0
	}
	best := 0.0
	for _, ex := range examples {
		inter := 0
		for tok := range q {
			if ex[tok] {
				inter++
			}
		}
		union := len(q) + len(ex) - inter
		if union == 0 {
			continue
		}
		if j := float64(inter) / float64(union); j > best {
			best = j
		}
	}
	return best
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
