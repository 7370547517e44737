// Package agent runs the support workflow for one session: it inspects each
// query, routes it, gathers context through the tool server, asks the
// generation backend for an answer and opens tickets when an issue stays
// unresolved.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/composer"
	"github.com/omnitech/omnidesk/internal/generation"
	"github.com/omnitech/omnidesk/internal/logging"
	"github.com/omnitech/omnidesk/internal/security"
	"github.com/omnitech/omnidesk/internal/toolclient"
)

// Tools is the tool-protocol session the agent drives.
type Tools interface {
	Call(ctx context.Context, name string, args map[string]any, out any) error
	ReadResource(ctx context.Context, uri string) (json.RawMessage, error)
	Tools() []toolclient.ToolInfo
}

// Options tune one agent session. Zero values take the defaults below.
type Options struct {
	Model             string
	MaxHistory        int // exchanges kept for prompts
	MaxSecurityLog    int
	MaxToolLog        int
	ToolTimeout       time.Duration
	ToolRetryBackoff  time.Duration
	GenerationTimeout time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	CustomerEmail     string
}

const (
	defaultMaxHistory        = 3
	defaultMaxSecurityLog    = 50
	defaultMaxToolLog        = 20
	defaultToolTimeout       = 10 * time.Second
	defaultToolRetryBackoff  = 250 * time.Millisecond
	defaultGenerationTimeout = 60 * time.Second
	defaultMaxAttempts       = 3
	defaultRetryDelay        = 2 * time.Second
)

func (o *Options) applyDefaults() {
	if o.MaxHistory <= 0 {
		o.MaxHistory = defaultMaxHistory
	}
	if o.MaxSecurityLog <= 0 {
		o.MaxSecurityLog = defaultMaxSecurityLog
	}
	if o.MaxToolLog <= 0 {
		o.MaxToolLog = defaultMaxToolLog
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = defaultToolTimeout
	}
	if o.ToolRetryBackoff <= 0 {
		o.ToolRetryBackoff = defaultToolRetryBackoff
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = defaultGenerationTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
}

// SecurityEvent is one inspector match recorded in the session log.
type SecurityEvent struct {
	ID            string            `json:"id"`
	Pattern       string            `json:"pattern"`
	Category      string            `json:"category"`
	Severity      security.Severity `json:"severity"`
	Excerpt       string            `json:"excerpt"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	At            time.Time         `json:"at"`
}

// ToolCall is one tool invocation as seen by the agent, retries included.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	At         time.Time      `json:"at"`
}

// Response is the outcome of one processed query.
type Response struct {
	Text          string           `json:"text"`
	Workflow      Workflow         `json:"workflow"`
	Category      string           `json:"category,omitempty"`
	Sources       []string         `json:"sources"`
	ToolCalls     []ToolCall       `json:"tool_calls"`
	TicketID      int64            `json:"ticket_id,omitempty"`
	SecurityFlags []security.Match `json:"security_flags"`
	Degraded      bool             `json:"degraded"`
	Unavailable   bool             `json:"unavailable"`
	ActionNeeded  string           `json:"action_needed"`
	Confidence    float64          `json:"confidence"`
	Model         string           `json:"model"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	DurationMS    int64            `json:"duration_ms"`
}

// Agent is one conversation session. It is not safe for concurrent use; the
// bridge package serializes access.
type Agent struct {
	tools    Tools
	gen      generation.Generator
	composer *composer.Composer
	router   *Router
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer

	email    string
	history  []composer.Turn
	security []SecurityEvent
	toolLog  []ToolCall
}

// New creates an agent session over tools and gen.
func New(tools Tools, gen generation.Generator, opts Options, logger *zap.Logger) *Agent {
	opts.applyDefaults()
	return &Agent{
		tools:    tools,
		gen:      gen,
		composer: composer.New(0),
		router:   NewRouter(),
		opts:     opts,
		logger:   logging.OrNop(logger),
		tracer:   otel.Tracer("github.com/omnitech/omnidesk/internal/agent"),
		email:    opts.CustomerEmail,
	}
}

// SetCustomerEmail sets the email used for customer lookups and tickets.
// An empty string clears it.
func (a *Agent) SetCustomerEmail(email string) {
	a.email = email
}

// ProcessAs runs one query on behalf of email without changing the
// session's customer.
func (a *Agent) ProcessAs(ctx context.Context, email, query string) Response {
	prev := a.email
	a.email = email
	defer func() { a.email = prev }()
	return a.Process(ctx, query)
}

func (a *Agent) CustomerEmail() string {
	return a.email
}

// ClearHistory drops the conversation history.
func (a *Agent) ClearHistory() {
	a.history = nil
}

// History returns a copy of the conversation turns, oldest first.
func (a *Agent) History() []composer.Turn {
	return append([]composer.Turn(nil), a.history...)
}

// ToolCallLog returns the most recent tool calls, oldest first.
func (a *Agent) ToolCallLog() []ToolCall {
	return append([]ToolCall{}, a.toolLog...)
}

// SecurityLog returns the recorded security events, oldest first.
func (a *Agent) SecurityLog() []SecurityEvent {
	return append([]SecurityEvent{}, a.security...)
}

func (a *Agent) ClearSecurityLog() {
	a.security = nil
}

// AvailableTools lists the operations discovered on the tool server.
func (a *Agent) AvailableTools() []toolclient.ToolInfo {
	return a.tools.Tools()
}

// ServerStats fetches the tool server's counters.
func (a *Agent) ServerStats(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := a.callTool(ctx, nil, "get_server_stats", nil, &raw)
	return raw, err
}

// ReadResource fetches a diagnostic resource from the tool server.
func (a *Agent) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.ToolTimeout)
	defer cancel()
	return a.tools.ReadResource(ctx, uri)
}

// appendHistory records one exchange and evicts the oldest past the bound.
func (a *Agent) appendHistory(query, answer string, at time.Time) {
	a.history = append(a.history,
		composer.Turn{Role: "customer", Text: query, At: at},
		composer.Turn{Role: "assistant", Text: answer, At: at},
	)
	if limit := a.opts.MaxHistory * 2; len(a.history) > limit {
		a.history = append([]composer.Turn(nil), a.history[len(a.history)-limit:]...)
	}
}

func (a *Agent) appendToolLog(calls ...ToolCall) {
	a.toolLog = append(a.toolLog, calls...)
	if over := len(a.toolLog) - a.opts.MaxToolLog; over > 0 {
		a.toolLog = append([]ToolCall(nil), a.toolLog[over:]...)
	}
}

func (a *Agent) appendSecurity(events ...SecurityEvent) {
	a.security = append(a.security, events...)
	if over := len(a.security) - a.opts.MaxSecurityLog; over > 0 {
		a.security = append([]SecurityEvent(nil), a.security[over:]...)
	}
}
