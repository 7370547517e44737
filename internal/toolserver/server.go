package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/logging"
	"github.com/omnitech/omnidesk/internal/retrieval"
	"github.com/omnitech/omnidesk/internal/storage"
)

const (
	maxCallRecords = 500
	summaryLimit   = 200
)

// Operation is one named, schema-described tool.
type Operation struct {
	Name        string
	Description string
	Params      []Param
	handler     func(ctx context.Context, args Args) (any, error)
}

// CallRecord is appended for every dispatched call, including failures.
type CallRecord struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Summary    string         `json:"result_summary"`
	Success    bool           `json:"success"`
	ErrorCode  string         `json:"error_code,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// GenerationInfo describes the configured text-generation backend. It is
// published read-only through the resource catalog; the API key never is.
type GenerationInfo struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	BaseURL     string `json:"base_url"`
	APIKeySet   bool   `json:"api_key_set"`
	MaxAttempts int    `json:"max_attempts"`
	RetryDelay  string `json:"retry_delay"`
}

// Deps are the collaborators a Server owns.
type Deps struct {
	Store      *storage.Store
	Categories *classify.Table
	Retriever  *retrieval.Retriever
	Generation GenerationInfo
	Logger     *zap.Logger
}

// Server is the knowledge/tool server: a static operation table over the
// store, the category table and the document index. It is safe for
// concurrent use by any number of protocol sessions.
type Server struct {
	deps      Deps
	ops       []Operation
	byName    map[string]int
	startedAt time.Time
	logger    *zap.Logger

	mu          sync.Mutex
	totalCalls  int
	failedCalls int
	callsByTool map[string]int
	records     []CallRecord
}

func New(deps Deps) *Server {
	s := &Server{
		deps:        deps,
		startedAt:   time.Now().UTC().Truncate(time.Second),
		logger:      logging.OrNop(deps.Logger),
		callsByTool: make(map[string]int),
	}
	s.ops = s.operations()
	s.byName = make(map[string]int, len(s.ops))
	for i, op := range s.ops {
		s.byName[op.Name] = i
	}
	return s
}

// Operations returns the operation table in registration order.
func (s *Server) Operations() []Operation {
	out := make([]Operation, len(s.ops))
	copy(out, s.ops)
	return out
}

// Dispatch validates args against the named operation's schema and runs it.
// Unknown names fail with ErrToolNotFound, schema violations with
// ErrInvalidArguments. Every call is recorded.
func (s *Server) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()

	result, err := s.dispatch(ctx, name, args)

	s.record(name, args, result, err, start)
	if err != nil {
		s.logger.Debug("tool call failed", zap.String("tool", name), zap.String("code", ErrorCode(err)), zap.Error(err))
	} else {
		s.logger.Debug("tool call", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
	}
	return result, err
}

func (s *Server) dispatch(ctx context.Context, name string, raw map[string]any) (any, error) {
	i, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	op := s.ops[i]
	args, err := validate(op.Params, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return op.handler(ctx, args)
}

func (s *Server) record(name string, args map[string]any, result any, err error, start time.Time) {
	rec := CallRecord{
		ID:         uuid.NewString(),
		Tool:       name,
		Arguments:  args,
		Success:    err == nil,
		ErrorCode:  ErrorCode(err),
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  start.UTC(),
	}
	if err != nil {
		rec.Summary = truncate(err.Error(), summaryLimit)
	} else {
		b, _ := json.Marshal(result)
		rec.Summary = truncate(string(b), summaryLimit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > maxCallRecords {
		s.records = s.records[len(s.records)-maxCallRecords:]
	}

	// Reading statistics must not change them, so stats calls are logged
	// but left out of the counters they report.
	if name == opServerStats {
		return
	}
	s.totalCalls++
	s.callsByTool[name]++
	if err != nil {
		s.failedCalls++
	}
}

// Records returns a copy of the server-side call log, oldest first.
func (s *Server) Records() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Stats is the get_server_stats payload.
type Stats struct {
	TotalCalls        int            `json:"total_calls"`
	FailedCalls       int            `json:"failed_calls"`
	CallsByTool       map[string]int `json:"calls_by_tool"`
	TicketCount       int            `json:"ticket_count"`
	OpenTickets       int            `json:"open_tickets"`
	TicketsByPriority map[string]int `json:"tickets_by_priority"`
	CustomerCount     int            `json:"customer_count"`
	OrderCount        int            `json:"order_count"`
	DocumentCount     int            `json:"document_count"`
	CategoryCount     int            `json:"category_count"`
	StartedAt         time.Time      `json:"started_at"`
}

// Stats returns the current counters joined with a storage summary.
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	sum, err := s.deps.Store.Summary(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("reading storage summary: %w", err)
	}

	s.mu.Lock()
	st := Stats{
		TotalCalls:  s.totalCalls,
		FailedCalls: s.failedCalls,
		CallsByTool: make(map[string]int, len(s.callsByTool)),
	}
	for k, v := range s.callsByTool {
		st.CallsByTool[k] = v
	}
	s.mu.Unlock()

	st.TicketCount = sum.Tickets
	st.OpenTickets = sum.OpenTickets
	st.TicketsByPriority = sum.TicketsByPriority
	st.CustomerCount = sum.Customers
	st.OrderCount = sum.Orders
	st.DocumentCount = sum.Documents
	st.CategoryCount = s.deps.Categories.Len()
	st.StartedAt = s.startedAt
	return st, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
