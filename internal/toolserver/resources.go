package toolserver

import (
	"context"
	"fmt"

	"github.com/omnitech/omnidesk/internal/storage"
)

// Resource is a read-only diagnostic document.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

const (
	ResourceGenerationConfig = "omnidesk://config/generation"
	ResourceStorageSummary   = "omnidesk://storage/summary"
	ResourceCategories       = "omnidesk://categories"
	ResourceLiveTickets      = "omnidesk://tickets/live"

	liveTicketLimit = 20
)

// Resources lists the resource catalog.
func (s *Server) Resources() []Resource {
	return []Resource{
		{ResourceGenerationConfig, "Generation backend", "Configured text-generation provider and model", "application/json"},
		{ResourceStorageSummary, "Storage summary", "Row counts for customers, orders, tickets and documents", "application/json"},
		{ResourceCategories, "Support categories", "Category ids, descriptions, keywords and example queries", "application/json"},
		{ResourceLiveTickets, "Live tickets", fmt.Sprintf("The %d most recent open tickets", liveTicketLimit), "application/json"},
	}
}

// ReadResource returns the current content of a catalog entry.
func (s *Server) ReadResource(ctx context.Context, uri string) (any, error) {
	switch uri {
	case ResourceGenerationConfig:
		return s.deps.Generation, nil
	case ResourceStorageSummary:
		return s.deps.Store.Summary(ctx)
	case ResourceCategories:
		return s.deps.Categories.Categories(), nil
	case ResourceLiveTickets:
		tickets, err := s.deps.Store.ListTickets(ctx, storage.TicketFilter{Status: storage.TicketStatusOpen, Limit: liveTicketLimit})
		if err != nil {
			return nil, err
		}
		if tickets == nil {
			tickets = []storage.Ticket{}
		}
		return tickets, nil
	}
	return nil, fmt.Errorf("resource %q: %w", uri, ErrNotFound)
}
