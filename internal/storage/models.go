package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageInit wraps every failure to open, migrate or seed the store.
	ErrStorageInit = errors.New("storage initialization failed")
)

// Ticket priorities, lowest first.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Priorities lists the accepted ticket priorities.
var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

const TicketStatusOpen = "open"

type Customer struct {
	Email          string `json:"email" yaml:"email"`
	Name           string `json:"name" yaml:"name"`
	Tier           string `json:"tier" yaml:"tier"`
	SupportTickets int    `json:"support_tickets" yaml:"support_tickets"`
}

type Order struct {
	ID            string `json:"id" yaml:"id"`
	CustomerEmail string `json:"customer_email" yaml:"customer_email"`
	OrderDate     string `json:"order_date" yaml:"order_date"`
	Product       string `json:"product" yaml:"product"`
	Status        string `json:"status" yaml:"status"`
}

type Ticket struct {
	ID            int64     `json:"id"`
	CustomerEmail string    `json:"customer_email"`
	IssueType     string    `json:"issue_type"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTicket carries the caller-supplied fields of a ticket.
type NewTicket struct {
	CustomerEmail string
	IssueType     string
	Description   string
	Priority      string
}

// TicketFilter narrows ListTickets. Zero values match everything.
type TicketFilter struct {
	CustomerEmail string
	Status        string
	Priority      string
	IssueType     string
	Limit         int
}

// Summary is a point-in-time count of every table.
type Summary struct {
	Customers         int            `json:"customers"`
	Orders            int            `json:"orders"`
	Tickets           int            `json:"tickets"`
	OpenTickets       int            `json:"open_tickets"`
	Documents         int            `json:"documents"`
	TicketsByPriority map[string]int `json:"tickets_by_priority"`
}
