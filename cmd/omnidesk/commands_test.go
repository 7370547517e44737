package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/security"
)

// isolate points config, storage and logging at a temp dir and disables
// every external backend.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OMNIDESK_CONFIG_FILE", filepath.Join(dir, "config.json"))
	t.Setenv("OMNIDESK_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("OMNIDESK_GENERATION_PROVIDER", "offline")
	t.Setenv("OMNIDESK_EMBEDDING_PROVIDER", "hash")
	t.Setenv("OMNIDESK_TOOLSERVER_TRANSPORT", "inprocess")

	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseChatLine(t *testing.T) {
	tests := []struct {
		line    string
		wantCmd chatCommand
		wantArg string
	}{
		{"", chatEmpty, ""},
		{"   ", chatEmpty, ""},
		{"exit", chatExit, ""},
		{"QUIT", chatExit, ""},
		{"demo", chatDemo, ""},
		{"Stats", chatStats, ""},
		{"clear", chatClear, ""},
		{"email: Jane.Smith@email.com ", chatEmail, "Jane.Smith@email.com"},
		{"EMAIL:x@y.z", chatEmail, "x@y.z"},
		{"email:", chatEmail, ""},
		{"  Where is ORD-1003? ", chatQuery, "Where is ORD-1003?"},
		{"clear my cart please", chatQuery, "clear my cart please"},
	}
	for _, tt := range tests {
		cmd, arg := parseChatLine(tt.line)
		if cmd != tt.wantCmd || arg != tt.wantArg {
			t.Errorf("parseChatLine(%q) = (%d, %q), want (%d, %q)", tt.line, cmd, arg, tt.wantCmd, tt.wantArg)
		}
	}
}

func TestPrintResponse(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	var buf bytes.Buffer
	printResponse(&buf, agent.Response{
		Text:     "Your ticket is open.",
		Workflow: agent.WorkflowSupport,
		Category: "shipping_delivery",
		Sources:  []string{"shipping_policy.md"},
		ToolCalls: []agent.ToolCall{
			{Tool: "classify_query", Success: true},
			{Tool: "lookup_order", Success: false},
		},
		TicketID:      7,
		SecurityFlags: []security.Match{{Pattern: "sql_injection", Category: "injection", Severity: security.Severity("high")}},
		Degraded:      true,
	})
	got := buf.String()

	for _, want := range []string{
		"[support · shipping_delivery]",
		"Your ticket is open.",
		"Sources: shipping_policy.md",
		"classify_query, lookup_order (failed)",
		"Ticket #7 opened",
		"Security: sql_injection (injection, high)",
		"knowledge base only",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "\033[") {
		t.Errorf("output contains ANSI codes with color disabled: %q", got)
	}
}

type fakeSession struct {
	email   string
	queries []string
	cleared int
}

func (f *fakeSession) ProcessQuery(_ context.Context, q string) (agent.Response, error) {
	f.queries = append(f.queries, q)
	if q == "boom" {
		return agent.Response{}, errors.New("bridge closed")
	}
	return agent.Response{Text: "answer to " + q, Workflow: agent.WorkflowExploratory}, nil
}

func (f *fakeSession) ServerStats(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"total_calls":3}`), nil
}

func (f *fakeSession) ClearHistory() error {
	f.cleared++
	return nil
}

func (f *fakeSession) SetCustomerEmail(email string) error {
	f.email = email
	return nil
}

func (f *fakeSession) CustomerEmail() (string, error) { return f.email, nil }

func TestRunChat(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	s := &fakeSession{email: defaultChatEmail}
	in := strings.NewReader("email: jane.smith@email.com\n\nstats\nclear\nboom\nhello there\nexit\nnever read\n")
	var out bytes.Buffer

	if err := runChat(context.Background(), s, in, &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Customer: john.doe@email.com",
		"Customer set to: jane.smith@email.com",
		`"total_calls": 3`,
		"Conversation history cleared.",
		"answer to hello there",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if s.email != "jane.smith@email.com" {
		t.Errorf("email = %q, want jane.smith@email.com", s.email)
	}
	if s.cleared != 1 {
		t.Errorf("cleared = %d, want 1", s.cleared)
	}
	if len(s.queries) != 2 || s.queries[1] != "hello there" {
		t.Errorf("queries = %v, want [boom hello there]", s.queries)
	}
}

func TestRunChat_DemoRunsSampleQueries(t *testing.T) {
	s := &fakeSession{}
	var out bytes.Buffer
	if err := runChat(context.Background(), s, strings.NewReader("demo\n"), &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if len(s.queries) != len(demoQueries) {
		t.Fatalf("ran %d queries, want %d", len(s.queries), len(demoQueries))
	}
	for i, q := range demoQueries {
		if s.queries[i] != q {
			t.Errorf("query %d = %q, want %q", i, s.queries[i], q)
		}
	}
}

func TestAskThenTickets(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "ask", "--email", "john.doe@email.com",
		"My order ORD-1003 hasn't arrived and I'm furious")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "[support · shipping_delivery]") {
		t.Errorf("ask output missing workflow tag:\n%s", out)
	}
	if !strings.Contains(out, "Ticket #") {
		t.Errorf("ask output missing ticket:\n%s", out)
	}

	out, err = execute(t, "", "tickets", "--email", "john.doe@email.com")
	if err != nil {
		t.Fatalf("tickets: %v", err)
	}
	if !strings.Contains(out, "delivery_issue") || !strings.Contains(out, "high") {
		t.Errorf("tickets output = %q, want a high priority delivery_issue ticket", out)
	}
}

func TestTickets_EmptyStore(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "tickets", "--email", "nobody@email.com")
	if err != nil {
		t.Fatalf("tickets: %v", err)
	}
	if !strings.Contains(out, "No tickets found.") {
		t.Errorf("output = %q", out)
	}
}

func TestTickets_InvalidPriority(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "tickets", "--priority", "critical")
	if err == nil || !strings.Contains(err.Error(), "invalid priority") {
		t.Errorf("err = %v, want invalid priority", err)
	}
	// reset for later tests sharing the command
	_ = ticketsCmd.Flags().Set("priority", "")
}

func TestChatCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "email: jane.smith@email.com\nHow do I reset my password?\nexit\n", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, want := range []string{
		"Customer: john.doe@email.com",
		"Customer set to: jane.smith@email.com",
		"[support",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("chat output missing %q:\n%s", want, out)
		}
	}
}

func TestStatsCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats map[string]any
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	if stats["customer_count"] != float64(4) {
		t.Errorf("customer_count = %v, want 4", stats["customer_count"])
	}
}

func TestConfigSetShowUnset(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "", "config", "set", "log.level", "debug"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, "", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "log.level = debug") {
		t.Errorf("config show missing log.level = debug:\n%s", out)
	}
	if strings.Contains(out, "api_key") {
		t.Errorf("config show leaked a secret key:\n%s", out)
	}

	if _, err := execute(t, "", "config", "unset", "log.level"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	out, _ = execute(t, "", "config", "show")
	if !strings.Contains(out, "log.level = info") {
		t.Errorf("config show after unset missing default:\n%s", out)
	}
}

func TestConfigSetUnknownKey(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "config", "set", "nope.nope", "1")
	if err == nil || !strings.Contains(err.Error(), "valid keys") {
		t.Errorf("err = %v, want unknown key with valid keys listed", err)
	}
}

func TestSeedCommand_Idempotent(t *testing.T) {
	isolate(t)

	for i := 0; i < 2; i++ {
		out, err := execute(t, "", "seed")
		if err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
		if !strings.Contains(out, "Customers: 4") || !strings.Contains(out, "Orders:") {
			t.Errorf("seed run %d output:\n%s", i, out)
		}
		if !strings.Contains(out, "Tickets: 0") {
			t.Errorf("seed run %d created tickets:\n%s", i, out)
		}
	}
}
