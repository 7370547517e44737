package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/composer"
	"github.com/omnitech/omnidesk/internal/generation"
	"github.com/omnitech/omnidesk/internal/retrieval"
	"github.com/omnitech/omnidesk/internal/security"
	"github.com/omnitech/omnidesk/internal/storage"
	"github.com/omnitech/omnidesk/internal/toolclient"
	"github.com/omnitech/omnidesk/internal/toolserver"
)

// User-facing texts for outcomes that do not come from the model.
const (
	TextNoKnowledge = "I couldn't find relevant information. Please try rephrasing."
	TextUnavailable = "The support assistant is temporarily unavailable. Please try again in a moment."
	TextEmptyQuery  = "Please type a question."
)

const (
	exploratoryResults = 5
	exploratoryUsed    = 3
	supportResults     = 3
	excerptLen         = 200 // runes
)

var errGenerationExhausted = errors.New("generation retries exhausted")

// run accumulates stage results for one query.
type run struct {
	query    string
	resp     Response
	calls    []ToolCall
	started  time.Time
	workflow Workflow
}

// supportContext is what the support path gathered before generation.
type supportContext struct {
	class     classify.Result
	template  toolserver.TemplateResult
	knowledge toolserver.KnowledgeResult
	customer  string
	known     bool // customer exists in the store
}

// Process runs INSPECT, ROUTE, the chosen path and RESPOND for one query.
// Failures along the way degrade the response; Process itself does not fail.
func (a *Agent) Process(ctx context.Context, query string) Response {
	ctx, span := a.tracer.Start(ctx, "agent.process")
	defer span.End()

	r := &run{
		query:   strings.TrimSpace(query),
		started: time.Now(),
		resp: Response{
			Sources:       []string{},
			SecurityFlags: []security.Match{},
			Model:         a.opts.Model,
			CustomerEmail: a.email,
			ActionNeeded:  composer.ActionNone,
		},
	}

	if r.query == "" {
		r.resp.Text = TextEmptyQuery
		r.resp.Workflow = WorkflowExploratory
		return a.finish(r, false)
	}

	a.inspect(ctx, r)

	r.workflow = a.route(ctx, r.query)
	r.resp.Workflow = r.workflow
	span.SetAttributes(attribute.String("workflow", string(r.workflow)))

	switch r.workflow {
	case WorkflowSupport:
		a.support(ctx, r)
	default:
		a.exploratory(ctx, r)
	}

	if r.resp.Degraded {
		span.SetStatus(codes.Error, "degraded")
	}
	return a.finish(r, true)
}

// inspect runs the security inspector. Matches are advisory.
func (a *Agent) inspect(ctx context.Context, r *run) {
	_, span := a.tracer.Start(ctx, "agent.inspect")
	defer span.End()

	matches := security.Inspect(r.query)
	if len(matches) == 0 {
		return
	}
	r.resp.SecurityFlags = matches

	now := time.Now().UTC()
	excerpt := headRunes(r.query, excerptLen)
	events := make([]SecurityEvent, len(matches))
	for i, m := range matches {
		events[i] = SecurityEvent{
			ID:            uuid.NewString(),
			Pattern:       m.Pattern,
			Category:      m.Category,
			Severity:      m.Severity,
			Excerpt:       excerpt,
			CustomerEmail: a.email,
			At:            now,
		}
	}
	a.appendSecurity(events...)

	top := security.MaxSeverity(matches)
	span.SetAttributes(attribute.String("severity", string(top)), attribute.Int("matches", len(matches)))
	if top == security.SeverityHigh {
		a.logger.Warn("security pattern matched", zap.String("severity", string(top)),
			zap.String("pattern", matches[0].Pattern), zap.String("excerpt", excerpt))
	} else {
		a.logger.Info("security pattern matched", zap.String("severity", string(top)), zap.Int("matches", len(matches)))
	}
}

func (a *Agent) route(ctx context.Context, query string) Workflow {
	_, span := a.tracer.Start(ctx, "agent.route")
	defer span.End()
	return a.router.Route(query)
}

// support is the classify, template, knowledge, customer path.
func (a *Agent) support(ctx context.Context, r *run) {
	ctx, span := a.tracer.Start(ctx, "agent.support")
	defer span.End()

	sc := a.gatherSupport(ctx, r)
	r.resp.Category = sc.class.Category
	r.resp.Sources = nonNilStrings(sc.knowledge.Sources)
	span.SetAttributes(attribute.String("category", sc.class.Category))

	in := composer.Inputs{
		Query:           r.query,
		Knowledge:       sc.knowledge.Knowledge,
		CustomerContext: sc.customer,
		History:         a.history,
	}
	var prompt string
	if sc.template.Template != "" {
		prompt = a.composer.Support(sc.template.Template, in)
	} else {
		prompt = a.composer.Exploratory(in)
	}

	answer, err := a.answer(ctx, prompt)
	switch {
	case errors.Is(err, errGenerationExhausted):
		r.resp.Text = TextUnavailable
		r.resp.Unavailable = true
	case err != nil:
		r.resp.Degraded = true
		r.resp.Text = knowledgeAnswer(sc.class.Description, knowledgeTexts(sc.knowledge.Matches, supportResults))
		r.resp.Confidence = sc.class.Confidence
	case answer == nil:
		r.resp.Text = knowledgeAnswer(sc.class.Description, knowledgeTexts(sc.knowledge.Matches, supportResults))
		r.resp.Confidence = sc.class.Confidence
	default:
		r.resp.Text = answer.Response
		r.resp.ActionNeeded = answer.ActionNeeded
		r.resp.Confidence = answer.Confidence
	}

	wantTicket := sc.class.NeedsTicket || (answer != nil && answer.NeedsTicket())
	if wantTicket && a.email != "" && sc.known {
		a.openTicket(ctx, r, sc, answer)
	}
}

func (a *Agent) gatherSupport(ctx context.Context, r *run) supportContext {
	var sc supportContext

	if err := a.callTool(ctx, r, "classify_query", map[string]any{"query": r.query}, &sc.class); err != nil {
		r.resp.Degraded = true
	}

	if sc.class.Category != "" {
		if err := a.callTool(ctx, r, "get_query_template", map[string]any{"category": sc.class.Category}, &sc.template); err != nil {
			r.resp.Degraded = true
		}
		args := map[string]any{"category": sc.class.Category, "query": r.query, "max_results": supportResults}
		if err := a.callTool(ctx, r, "get_knowledge_for_query", args, &sc.knowledge); err != nil {
			r.resp.Degraded = true
		}
	}

	if a.email != "" {
		var cust toolserver.CustomerResult
		err := a.callTool(ctx, r, "lookup_customer", map[string]any{"email": a.email}, &cust)
		switch {
		case err == nil:
			sc.known = true
			sc.customer = customerContext(cust)
		case errors.Is(err, toolserver.ErrNotFound):
			sc.customer = fmt.Sprintf("%s (not in database)", a.email)
		default:
			r.resp.Degraded = true
			sc.known = true // still attempt the ticket; the server decides
		}
	}

	if id := orderID(r.query); id != "" {
		var o storage.Order
		err := a.callTool(ctx, r, "lookup_order", map[string]any{"order_id": id}, &o)
		switch {
		case err == nil:
			sc.customer = joinContext(sc.customer, fmt.Sprintf("Order %s: %s, status %s, ordered %s", o.ID, o.Product, o.Status, o.OrderDate))
		case errors.Is(err, toolserver.ErrNotFound):
			sc.customer = joinContext(sc.customer, fmt.Sprintf("Order %s was not found", id))
		default:
			r.resp.Degraded = true
		}
	}

	return sc
}

func (a *Agent) openTicket(ctx context.Context, r *run, sc supportContext, answer *composer.Answer) {
	priority := storage.PriorityMedium
	switch {
	case sc.class.Urgency == classify.UrgencyHigh:
		priority = storage.PriorityHigh
	case answer != nil && storage.ValidPriority(answer.Priority):
		priority = answer.Priority
	case answer != nil && answer.ActionNeeded == composer.ActionEscalate:
		priority = storage.PriorityHigh
	}

	issueType := sc.class.IssueType
	if issueType == "" {
		issueType = "general_inquiry"
	}

	var res toolserver.TicketResult
	err := a.callTool(ctx, r, "create_support_ticket", map[string]any{
		"email":       a.email,
		"issue_type":  issueType,
		"description": truncate(r.query, 500),
		"priority":    priority,
	}, &res)
	if err != nil {
		if !errors.Is(err, toolserver.ErrNotFound) {
			r.resp.Degraded = true
		}
		return
	}

	r.resp.TicketID = res.TicketID
	if r.resp.ActionNeeded == composer.ActionNone {
		r.resp.ActionNeeded = composer.ActionCreateTicket
	}
	r.resp.Text = strings.TrimSpace(r.resp.Text) +
		fmt.Sprintf("\n\nI've opened support ticket #%d (%s priority) so our team can follow up.", res.TicketID, res.Priority)
}

// exploratory answers from a single knowledge search.
func (a *Agent) exploratory(ctx context.Context, r *run) {
	ctx, span := a.tracer.Start(ctx, "agent.exploratory")
	defer span.End()

	var sr toolserver.SearchResult
	if err := a.callTool(ctx, r, "search_knowledge", map[string]any{"query": r.query, "top_k": exploratoryResults}, &sr); err != nil {
		r.resp.Degraded = true
	}

	var matches []retrieval.Match
	for _, m := range sr.Matches {
		if m.Similarity > 0 {
			matches = append(matches, m)
		}
	}
	if len(matches) > exploratoryUsed {
		matches = matches[:exploratoryUsed]
	}
	if len(matches) == 0 {
		r.resp.Text = TextNoKnowledge
		return
	}
	r.resp.Sources = sourcesOf(matches)

	texts := knowledgeTexts(matches, exploratoryUsed)
	prompt := a.composer.Exploratory(composer.Inputs{
		Query:     r.query,
		Knowledge: strings.Join(texts, "\n\n"),
		History:   a.history,
	})

	answer, err := a.answer(ctx, prompt)
	switch {
	case errors.Is(err, errGenerationExhausted):
		r.resp.Text = TextUnavailable
		r.resp.Unavailable = true
	case err != nil:
		r.resp.Degraded = true
		r.resp.Text = knowledgeAnswer("", texts)
		r.resp.Confidence = matches[0].Similarity
	case answer == nil:
		r.resp.Text = knowledgeAnswer("", texts)
		r.resp.Confidence = matches[0].Similarity
	default:
		r.resp.Text = answer.Response
		r.resp.Confidence = answer.Confidence
		// Exploratory answers never open tickets.
		r.resp.ActionNeeded = composer.ActionNone
	}
}

// finish is the RESPOND stage.
func (a *Agent) finish(r *run, remember bool) Response {
	r.resp.ToolCalls = nonNilCalls(r.calls)
	r.resp.DurationMS = time.Since(r.started).Milliseconds()
	if remember {
		a.appendHistory(r.query, r.resp.Text, time.Now().UTC())
	}
	a.logger.Info("query processed",
		zap.String("workflow", string(r.resp.Workflow)),
		zap.String("category", r.resp.Category),
		zap.Int("tool_calls", len(r.calls)),
		zap.Int64("ticket_id", r.resp.TicketID),
		zap.Bool("degraded", r.resp.Degraded),
		zap.Bool("unavailable", r.resp.Unavailable),
		zap.Int64("duration_ms", r.resp.DurationMS),
	)
	return r.resp
}

// answer calls the generation backend and parses the reply. A nil Answer with
// a nil error means the backend asked for a knowledge-only answer.
func (a *Agent) answer(ctx context.Context, prompt string) (*composer.Answer, error) {
	ctx, span := a.tracer.Start(ctx, "agent.generate")
	defer span.End()

	raw, err := a.generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("generation failed", zap.Error(err))
		return nil, err
	}
	if strings.Contains(raw, generation.KnowledgeBaseOnly) {
		return nil, nil
	}
	ans := composer.ParseAnswer(raw)
	if ans.Response == "" {
		return nil, nil
	}
	return &ans, nil
}

// generate retries retryable failures up to MaxAttempts with a fixed delay.
func (a *Agent) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, a.opts.GenerationTimeout)
		out, err := a.gen.Generate(gctx, generation.Request{Prompt: prompt, Model: a.opts.Model})
		cancel()
		if err == nil {
			return out, nil
		}
		if !generation.Retryable(err) {
			return "", err
		}
		lastErr = err
		a.logger.Debug("generation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < a.opts.MaxAttempts {
			if err := sleep(ctx, a.opts.RetryDelay); err != nil {
				break
			}
		}
	}
	return "", fmt.Errorf("%w: %v", errGenerationExhausted, lastErr)
}

// callTool invokes one operation with a per-call timeout, retrying transport
// failures once after a backoff. r may be nil for calls outside a workflow.
func (a *Agent) callTool(ctx context.Context, r *run, name string, args map[string]any, out any) error {
	ctx, span := a.tracer.Start(ctx, "tool."+name)
	defer span.End()

	start := time.Now()
	var err error
	attempts := 0
	for attempts < 2 {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, a.opts.ToolTimeout)
		err = a.tools.Call(cctx, name, args, out)
		timedOut := cctx.Err() != nil
		cancel()

		if err == nil || !(errors.Is(err, toolclient.ErrTransport) || timedOut) || attempts == 2 {
			break
		}
		a.logger.Debug("tool call failed, retrying", zap.String("tool", name), zap.Error(err))
		if sleep(ctx, a.opts.ToolRetryBackoff) != nil {
			break
		}
	}

	call := ToolCall{
		Tool:       name,
		Arguments:  args,
		Success:    err == nil,
		Attempts:   attempts,
		DurationMS: time.Since(start).Milliseconds(),
		At:         start.UTC(),
	}
	if err != nil {
		call.Error = err.Error()
		span.RecordError(err)
		if !errors.Is(err, toolserver.ErrNotFound) {
			span.SetStatus(codes.Error, err.Error())
			a.logger.Warn("tool call failed", zap.String("tool", name), zap.Int("attempts", attempts), zap.Error(err))
		}
	} else {
		call.Summary = summarize(name, out)
	}
	if r != nil {
		r.calls = append(r.calls, call)
	}
	a.appendToolLog(call)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// customerContext renders "Name (Tier tier) - N previous tickets".
func customerContext(c toolserver.CustomerResult) string {
	tier := c.Tier
	if r, size := utf8.DecodeRuneInString(tier); r != utf8.RuneError {
		tier = string(unicode.ToUpper(r)) + tier[size:]
	}
	return fmt.Sprintf("%s (%s tier) - %d previous tickets", c.Name, tier, c.SupportTickets)
}

func joinContext(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}

// knowledgeAnswer answers straight from retrieved chunks.
func knowledgeAnswer(topic string, texts []string) string {
	if len(texts) == 0 {
		return TextNoKnowledge
	}
	var sb strings.Builder
	if topic != "" {
		fmt.Fprintf(&sb, "Here is what our knowledge base says about %s:\n\n", strings.ToLower(topic))
	} else {
		sb.WriteString("Here is what I found in our knowledge base:\n\n")
	}
	sb.WriteString(strings.Join(texts, "\n\n"))
	return sb.String()
}

func knowledgeTexts(matches []retrieval.Match, n int) []string {
	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m.Text))
	}
	return out
}

func sourcesOf(matches []retrieval.Match) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range matches {
		if !seen[m.Source] {
			seen[m.Source] = true
			out = append(out, m.Source)
		}
	}
	return out
}

// summarize produces the short result description kept in the tool log.
func summarize(name string, out any) string {
	switch v := out.(type) {
	case *classify.Result:
		return fmt.Sprintf("%s (%.2f)", v.Category, v.Confidence)
	case *toolserver.TemplateResult:
		return v.Category
	case *toolserver.KnowledgeResult:
		return fmt.Sprintf("%d chunks", len(v.Matches))
	case *toolserver.SearchResult:
		return fmt.Sprintf("%d matches", len(v.Matches))
	case *toolserver.CustomerResult:
		return fmt.Sprintf("%s, %s tier", v.Name, v.Tier)
	case *storage.Order:
		return fmt.Sprintf("%s %s", v.ID, v.Status)
	case *toolserver.TicketResult:
		return fmt.Sprintf("ticket #%d", v.TicketID)
	}
	return name + " ok"
}

// headRunes returns at most the first n runes of s.
func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCalls(c []ToolCall) []ToolCall {
	if c == nil {
		return []ToolCall{}
	}
	return c
}
