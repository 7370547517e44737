package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/retrieval"
	"github.com/omnitech/omnidesk/internal/storage"
)

// Operation names.
const (
	opClassifyQuery     = "classify_query"
	opQueryTemplate     = "get_query_template"
	opSearchKnowledge   = "search_knowledge"
	opKnowledgeForQuery = "get_knowledge_for_query"
	opLookupCustomer    = "lookup_customer"
	opLookupOrder       = "lookup_order"
	opCreateTicket      = "create_support_ticket"
	opServerStats       = "get_server_stats"
	opGetTickets        = "get_tickets"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 50
)

func (s *Server) operations() []Operation {
	return []Operation{
		{
			Name:        opClassifyQuery,
			Description: "Classify a customer query into a support category. Returns the category, a confidence in [0,1], runner-up alternates, urgency and whether the issue likely needs a ticket.",
			Params: []Param{
				{Name: "query", Type: TypeString, Required: true, Description: "The customer's question"},
			},
			handler: s.classifyQuery,
		},
		{
			Name:        opQueryTemplate,
			Description: "Get the prompt template and description for a support category.",
			Params: []Param{
				{Name: "category", Type: TypeString, Required: true, Description: "Category id as returned by classify_query"},
			},
			handler: s.queryTemplate,
		},
		{
			Name:        opSearchKnowledge,
			Description: "Semantic search over the knowledge base. Results are ordered by cosine similarity, highest first.",
			Params: []Param{
				{Name: "query", Type: TypeString, Required: true, Description: "Search text"},
				{Name: "top_k", Type: TypeInteger, Min: 1, Max: maxSearchResults, Default: defaultSearchResults,
					Description: fmt.Sprintf("Maximum number of results (default %d, max %d)", defaultSearchResults, maxSearchResults)},
			},
			handler: s.searchKnowledge,
		},
		{
			Name:        opKnowledgeForQuery,
			Description: "Retrieve knowledge for a query, preferring documents of the given category. Returns combined knowledge text and its sources.",
			Params: []Param{
				{Name: "category", Type: TypeString, Required: true, Description: "Category id to favour"},
				{Name: "query", Type: TypeString, Required: true, Description: "The customer's question"},
				{Name: "max_results", Type: TypeInteger, Min: 1, Max: 20, Default: 3, Description: "Maximum number of chunks (default 3)"},
			},
			handler: s.knowledgeForQuery,
		},
		{
			Name:        opLookupCustomer,
			Description: "Look up a customer and their orders by email address.",
			Params: []Param{
				{Name: "email", Type: TypeString, Required: true, Description: "Customer email address"},
			},
			handler: s.lookupCustomer,
		},
		{
			Name:        opLookupOrder,
			Description: "Look up a single order by its id, e.g. ORD-1003.",
			Params: []Param{
				{Name: "order_id", Type: TypeString, Required: true, Description: "Order id"},
			},
			handler: s.lookupOrder,
		},
		{
			Name:        opCreateTicket,
			Description: "Open a support ticket for a known customer. Returns the new ticket id.",
			Params: []Param{
				{Name: "email", Type: TypeString, Required: true, Description: "Customer email address"},
				{Name: "issue_type", Type: TypeString, Required: true, Description: "Short issue type, e.g. delivery_issue"},
				{Name: "description", Type: TypeString, Required: true, Description: "What the customer needs"},
				{Name: "priority", Type: TypeString, Enum: storage.Priorities, Default: storage.PriorityMedium, Description: "Ticket priority (default medium)"},
			},
			handler: s.createTicket,
		},
		{
			Name:        opServerStats,
			Description: "Return server statistics: call counters and storage totals.",
			handler:     s.serverStats,
		},
		{
			Name:        opGetTickets,
			Description: "List support tickets, newest first, optionally filtered.",
			Params: []Param{
				{Name: "email", Type: TypeString, Description: "Only tickets of this customer"},
				{Name: "status", Type: TypeString, Description: "Only tickets with this status, e.g. open"},
				{Name: "priority", Type: TypeString, Enum: storage.Priorities, Description: "Only tickets with this priority"},
				{Name: "issue_type", Type: TypeString, Description: "Only tickets of this issue type"},
				{Name: "limit", Type: TypeInteger, Min: 1, Max: 100, Default: 20, Description: "Maximum number of tickets (default 20)"},
			},
			handler: s.getTickets,
		},
	}
}

func (s *Server) classifyQuery(_ context.Context, args Args) (any, error) {
	return s.deps.Categories.Classify(args.String("query")), nil
}

// TemplateResult is the get_query_template payload.
type TemplateResult struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
	Template    string `json:"template"`
}

func (s *Server) queryTemplate(_ context.Context, args Args) (any, error) {
	id := args.String("category")
	c, ok := s.deps.Categories.Get(id)
	if !ok {
		return nil, fmt.Errorf("category %q: %w", id, ErrNotFound)
	}
	return TemplateResult{Category: c.ID, Description: c.Description, IssueType: c.IssueType, Template: c.Template}, nil
}

// SearchResult is the search_knowledge payload.
type SearchResult struct {
	Query   string            `json:"query"`
	Matches []retrieval.Match `json:"matches"`
}

func (s *Server) searchKnowledge(ctx context.Context, args Args) (any, error) {
	q := args.String("query")
	matches, err := s.deps.Retriever.Search(ctx, q, args.Int("top_k"))
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	if matches == nil {
		matches = []retrieval.Match{}
	}
	return SearchResult{Query: q, Matches: matches}, nil
}

// KnowledgeResult is the get_knowledge_for_query payload.
type KnowledgeResult struct {
	Category  string            `json:"category"`
	Knowledge string            `json:"knowledge"`
	Sources   []string          `json:"sources"`
	Matches   []retrieval.Match `json:"matches"`
}

func (s *Server) knowledgeForQuery(ctx context.Context, args Args) (any, error) {
	cat := args.String("category")
	if _, ok := s.deps.Categories.Get(cat); !ok {
		return nil, fmt.Errorf("category %q: %w", cat, ErrNotFound)
	}
	matches, err := s.deps.Retriever.SearchCategory(ctx, cat, args.String("query"), args.Int("max_results"))
	if err != nil {
		return nil, fmt.Errorf("retrieving knowledge: %w", err)
	}

	res := KnowledgeResult{Category: cat, Sources: []string{}, Matches: matches}
	if res.Matches == nil {
		res.Matches = []retrieval.Match{}
	}
	seen := make(map[string]bool)
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m.Text)
		if !seen[m.Source] {
			seen[m.Source] = true
			res.Sources = append(res.Sources, m.Source)
		}
	}
	res.Knowledge = strings.Join(parts, "\n\n")
	return res, nil
}

// CustomerResult is the lookup_customer payload.
type CustomerResult struct {
	Found bool `json:"found"`
	storage.Customer
	Orders []storage.Order `json:"orders"`
}

func (s *Server) lookupCustomer(ctx context.Context, args Args) (any, error) {
	email := args.String("email")
	c, err := s.deps.Store.GetCustomer(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("customer %s: %w", storage.NormalizeEmail(email), ErrNotFound)
		}
		return nil, err
	}
	orders, err := s.deps.Store.OrdersForCustomer(ctx, c.Email)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []storage.Order{}
	}
	return CustomerResult{Found: true, Customer: c, Orders: orders}, nil
}

func (s *Server) lookupOrder(ctx context.Context, args Args) (any, error) {
	id := args.String("order_id")
	o, err := s.deps.Store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return o, nil
}

// TicketResult is the create_support_ticket payload.
type TicketResult struct {
	TicketID  int64     `json:"ticket_id"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createTicket(ctx context.Context, args Args) (any, error) {
	t, err := s.deps.Store.CreateTicket(ctx, storage.NewTicket{
		CustomerEmail: args.String("email"),
		IssueType:     args.String("issue_type"),
		Description:   args.String("description"),
		Priority:      args.String("priority"),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("customer %s: %w", storage.NormalizeEmail(args.String("email")), ErrNotFound)
		}
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	s.logger.Info("ticket created", zap.Int64("ticket_id", t.ID), zap.String("priority", t.Priority), zap.String("issue_type", t.IssueType))
	return TicketResult{TicketID: t.ID, Status: t.Status, Priority: t.Priority, CreatedAt: t.CreatedAt}, nil
}

func (s *Server) serverStats(ctx context.Context, _ Args) (any, error) {
	return s.Stats(ctx)
}

// TicketsResult is the get_tickets payload.
type TicketsResult struct {
	Count   int              `json:"count"`
	Tickets []storage.Ticket `json:"tickets"`
}

func (s *Server) getTickets(ctx context.Context, args Args) (any, error) {
	tickets, err := s.deps.Store.ListTickets(ctx, storage.TicketFilter{
		CustomerEmail: args.String("email"),
		Status:        args.String("status"),
		Priority:      args.String("priority"),
		IssueType:     args.String("issue_type"),
		Limit:         args.Int("limit"),
	})
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []storage.Ticket{}
	}
	return TicketsResult{Count: len(tickets), Tickets: tickets}, nil
}
