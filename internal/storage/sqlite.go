package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the customer, order, ticket and document tables. Reads go
// straight to SQLite; writes that touch more than one row are serialized
// through mu and run inside a transaction.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
// Every error returned wraps ErrStorageInit.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %w", ErrStorageInit, err)
		}
		dsn = filepath.Join(dataDir, "omnidesk.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", ErrStorageInit, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %w", ErrStorageInit, err)
	}

	// A single connection keeps the in-memory database alive and avoids
	// "database is locked" between concurrent writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrStorageInit, p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %w", ErrStorageInit, err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for the document vector store, which shares the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		if err := s.withTx(context.Background(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(content)); err != nil {
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
				return fmt.Errorf("recording migration %d: %w", version, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// NormalizeEmail lowercases and trims an address; customers are keyed by it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// --- Customers ---

func (s *Store) GetCustomer(ctx context.Context, email string) (Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, tier, support_tickets FROM customers WHERE email = ?`,
		NormalizeEmail(email),
	).Scan(&c.Email, &c.Name, &c.Tier, &c.SupportTickets)
	if err == sql.ErrNoRows {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("querying customer: %w", err)
	}
	return c, nil
}

// --- Orders ---

func (s *Store) GetOrder(ctx context.Context, id string) (Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_email, order_date, product, status FROM orders WHERE id = ?`,
		strings.ToUpper(strings.TrimSpace(id)),
	).Scan(&o.ID, &o.CustomerEmail, &o.OrderDate, &o.Product, &o.Status)
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("querying order: %w", err)
	}
	return o, nil
}

// OrdersForCustomer returns a customer's orders, most recent first.
func (s *Store) OrdersForCustomer(ctx context.Context, email string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_email, order_date, product, status
		FROM orders WHERE customer_email = ? ORDER BY order_date DESC, id DESC`,
		NormalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerEmail, &o.OrderDate, &o.Product, &o.Status); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- Tickets ---

// CreateTicket allocates the next ticket id, stores the ticket and bumps the
// customer's ticket counter as one unit. Unknown customers yield ErrNotFound.
func (s *Store) CreateTicket(ctx context.Context, nt NewTicket) (Ticket, error) {
	t := Ticket{
		CustomerEmail: NormalizeEmail(nt.CustomerEmail),
		IssueType:     nt.IssueType,
		Description:   nt.Description,
		Priority:      nt.Priority,
		Status:        TicketStatusOpen,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !ValidPriority(t.Priority) {
		return Ticket{}, fmt.Errorf("invalid priority %q", t.Priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE customers SET support_tickets = support_tickets + 1 WHERE email = ?", t.CustomerEmail)
		if err != nil {
			return fmt.Errorf("incrementing ticket counter: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO tickets (customer_email, issue_type, description, priority, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.CustomerEmail, t.IssueType, t.Description, t.Priority, t.Status, t.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting ticket: %w", err)
		}
		t.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// ListTickets returns tickets matching f, newest first.
func (s *Store) ListTickets(ctx context.Context, f TicketFilter) ([]Ticket, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerEmail != "" {
		where = append(where, "customer_email = ?")
		args = append(args, NormalizeEmail(f.CustomerEmail))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.IssueType != "" {
		where = append(where, "issue_type = ?")
		args = append(args, f.IssueType)
	}

	q := "SELECT id, customer_email, issue_type, description, priority, status, created_at FROM tickets"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		var createdAt string
		if err := rows.Scan(&t.ID, &t.CustomerEmail, &t.IssueType, &t.Description, &t.Priority, &t.Status, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for ticket %d: %w", t.ID, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ValidPriority reports whether p is one of Priorities.
func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// --- Summary ---

func (s *Store) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{TicketsByPriority: make(map[string]int, len(Priorities))}

	counts := []struct {
		dst   *int
		query string
	}{
		{&sum.Customers, "SELECT COUNT(*) FROM customers"},
		{&sum.Orders, "SELECT COUNT(*) FROM orders"},
		{&sum.Tickets, "SELECT COUNT(*) FROM tickets"},
		{&sum.OpenTickets, "SELECT COUNT(*) FROM tickets WHERE status = 'open'"},
		{&sum.Documents, "SELECT COUNT(*) FROM documents"},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Summary{}, fmt.Errorf("counting (%s): %w", c.query, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT priority, COUNT(*) FROM tickets GROUP BY priority")
	if err != nil {
		return Summary{}, fmt.Errorf("counting tickets by priority: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return Summary{}, err
		}
		sum.TicketsByPriority[p] = n
	}
	return sum, rows.Err()
}
