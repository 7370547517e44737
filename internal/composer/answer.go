package composer

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Actions a model may request in its structured answer.
const (
	ActionNone         = "none"
	ActionCreateTicket = "create_ticket"
	ActionEscalate     = "escalate"
	ActionFollowUp     = "follow_up"
)

const (
	maxPlainAnswer    = 500
	plainConfidence   = 0.5
	defaultConfidence = 0.7
)

// Answer is the model's reply after parsing.
type Answer struct {
	Response     string  `json:"response"`
	ActionNeeded string  `json:"action_needed"`
	Confidence   float64 `json:"confidence"`
	Priority     string  `json:"priority,omitempty"` // optional, unvalidated
	Structured   bool    `json:"-"`
}

// NeedsTicket reports whether the model asked for follow-up by a human.
func (a Answer) NeedsTicket() bool {
	return a.ActionNeeded == ActionCreateTicket || a.ActionNeeded == ActionEscalate
}

// ParseAnswer extracts the structured answer from raw model output. Small
// models often wrap JSON in markdown fences or add chatter around it, so the
// parser:
//  1. Strips markdown code fences if present
//  2. Takes the text between the first { and the last }
//  3. Falls back to the raw text, trimmed to 500 characters, when no usable
//     object is found
func ParseAnswer(raw string) Answer {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx != -1 {
		inner := s[idx+3:]
		inner = strings.TrimPrefix(inner, "json")
		if end := strings.Index(inner, "```"); end != -1 {
			inner = inner[:end]
		}
		s = strings.TrimSpace(inner)
	}

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start != -1 && end > start {
		var a Answer
		var probe map[string]json.RawMessage
		obj := s[start : end+1]
		if json.Unmarshal([]byte(obj), &probe) == nil {
			if _, ok := probe["response"]; ok && json.Unmarshal([]byte(obj), &a) == nil && strings.TrimSpace(a.Response) != "" {
				a.Response = strings.TrimSpace(a.Response)
				a.ActionNeeded = normalizeAction(a.ActionNeeded)
				if _, ok := probe["confidence"]; !ok {
					a.Confidence = defaultConfidence
				}
				a.Confidence = clamp(a.Confidence)
				a.Structured = true
				return a
			}
		}
	}

	return Answer{
		Response:     truncateRunes(strings.TrimSpace(raw), maxPlainAnswer),
		ActionNeeded: ActionNone,
		Confidence:   plainConfidence,
	}
}

func normalizeAction(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case ActionCreateTicket, ActionEscalate, ActionFollowUp:
		return s
	case "ticket", "create ticket":
		return ActionCreateTicket
	}
	return ActionNone
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
