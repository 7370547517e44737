package composer

import (
	"strings"
	"testing"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		response   string
		action     string
		confidence float64
		structured bool
	}{
		{
			name:       "plain json",
			raw:        `{"response":"Reset it from the login page.","action_needed":"none","confidence":0.9}`,
			response:   "Reset it from the login page.",
			action:     ActionNone,
			confidence: 0.9,
			structured: true,
		},
		{
			name:       "fenced json",
			raw:        "```json\n{\"response\":\"I've opened a ticket.\",\"action_needed\":\"create_ticket\",\"confidence\":0.8}\n```",
			response:   "I've opened a ticket.",
			action:     ActionCreateTicket,
			confidence: 0.8,
			structured: true,
		},
		{
			name:       "embedded object",
			raw:        `Sure! Here you go: {"response":"Escalating now.","action_needed":"ESCALATE"} hope this helps`,
			response:   "Escalating now.",
			action:     ActionEscalate,
			confidence: defaultConfidence,
			structured: true,
		},
		{
			name:       "confidence clamped",
			raw:        `{"response":"ok","action_needed":"whatever","confidence":7}`,
			response:   "ok",
			action:     ActionNone,
			confidence: 1,
			structured: true,
		},
		{
			name:       "plain text",
			raw:        "  Just restart the device.  ",
			response:   "Just restart the device.",
			action:     ActionNone,
			confidence: plainConfidence,
		},
		{
			name:       "object without response",
			raw:        `{"score": 0.4}`,
			response:   `{"score": 0.4}`,
			action:     ActionNone,
			confidence: plainConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ParseAnswer(tt.raw)
			if a.Response != tt.response {
				t.Errorf("Response = %q, want %q", a.Response, tt.response)
			}
			if a.ActionNeeded != tt.action {
				t.Errorf("ActionNeeded = %q, want %q", a.ActionNeeded, tt.action)
			}
			if a.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", a.Confidence, tt.confidence)
			}
			if a.Structured != tt.structured {
				t.Errorf("Structured = %v, want %v", a.Structured, tt.structured)
			}
		})
	}
}

func TestParseAnswer_PlainTextTruncated(t *testing.T) {
	a := ParseAnswer(strings.Repeat("é", 800))
	if n := len([]rune(a.Response)); n != maxPlainAnswer {
		t.Fatalf("expected %d runes, got %d", maxPlainAnswer, n)
	}
}

func TestAnswer_NeedsTicket(t *testing.T) {
	for action, want := range map[string]bool{
		ActionNone: false, ActionFollowUp: false, ActionCreateTicket: true, ActionEscalate: true,
	} {
		if got := (Answer{ActionNeeded: action}).NeedsTicket(); got != want {
			t.Errorf("NeedsTicket(%s) = %v, want %v", action, got, want)
		}
	}
}
