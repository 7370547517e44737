// Package security flags manipulation attempts in incoming queries. It only
// reports; callers decide whether to log, annotate or block.
package security

import (
	"regexp"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Pattern categories.
const (
	CategoryInstructionOverride = "instruction_override"
	CategoryRoleReassignment    = "role_reassignment"
	CategoryExfiltration        = "exfiltration"
	CategoryDelimiterInjection  = "delimiter_injection"
)

// Match is one pattern hit.
type Match struct {
	Pattern  string   `json:"pattern"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
}

type rule struct {
	name     string
	category string
	severity Severity
	re       *regexp.Regexp
}

// Rules are evaluated in order and each contributes at most one match.
var rules = []rule{
	{
		name: "ignore_previous_instructions", category: CategoryInstructionOverride, severity: SeverityHigh,
		re: regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass)\b.{0,30}\b(previous|prior|above|earlier|all|your|system)\b.{0,20}\b(instructions?|prompts?|rules|guidelines|directives)\b`),
	},
	{
		name: "new_instructions", category: CategoryInstructionOverride, severity: SeverityMedium,
		re: regexp.MustCompile(`(?i)\b(new|updated|real|actual)\s+(instructions?|rules|task)\s*(:|are|is)`),
	},
	{
		name: "you_are_now", category: CategoryRoleReassignment, severity: SeverityMedium,
		re: regexp.MustCompile(`(?i)\b(you are now|from now on you are|act as|pretend (to be|you are)|roleplay as|you're now)\b`),
	},
	{
		name: "developer_mode", category: CategoryRoleReassignment, severity: SeverityHigh,
		re: regexp.MustCompile(`(?i)\b(developer mode|dan mode|jailbreak|god mode|admin mode|unrestricted mode)\b`),
	},
	{
		name: "reveal_system_prompt", category: CategoryExfiltration, severity: SeverityHigh,
		re: regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display|tell me|leak)\b.{0,30}\b(system prompt|system message|hidden prompt|initial prompt|your instructions|your prompt)\b`),
	},
	{
		name: "credential_request", category: CategoryExfiltration, severity: SeverityHigh,
		re: regexp.MustCompile(`(?i)\b(api[\s_-]?keys?|access tokens?|secret keys?|credentials|database password|admin password)\b`),
	},
	{
		name: "bulk_customer_data", category: CategoryExfiltration, severity: SeverityMedium,
		re: regexp.MustCompile(`(?i)\b(list|dump|export|show)\b.{0,20}\b(all|every)\b.{0,20}\b(customers?|users?|emails?|orders?|accounts?)\b`),
	},
	{
		name: "prompt_delimiters", category: CategoryDelimiterInjection, severity: SeverityLow,
		re: regexp.MustCompile(`(?i)(<\|?(system|im_start|im_end)\|?>|\[/?INST\]|###\s*(system|instruction))`),
	},
}

// Inspect runs every rule against query and returns the matches in rule
// order. It has no side effects.
func Inspect(query string) []Match {
	var matches []Match
	for _, r := range rules {
		if r.re.MatchString(query) {
			matches = append(matches, Match{Pattern: r.name, Category: r.category, Severity: r.severity})
		}
	}
	return matches
}

// MaxSeverity returns the highest severity among matches, or "" when empty.
func MaxSeverity(matches []Match) Severity {
	var top Severity
	for _, m := range matches {
		if m.Severity.rank() > top.rank() {
			top = m.Severity
		}
	}
	return top
}
