package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedData is the declarative customer/order data set.
type SeedData struct {
	Customers []Customer `yaml:"customers"`
	Orders    []Order    `yaml:"orders"`
}

// DefaultSeed returns the data set bundled with the binary.
func DefaultSeed() (SeedData, error) {
	return parseSeed(defaultSeed)
}

// LoadSeedFile reads a seed data set from a YAML file.
func LoadSeedFile(path string) (SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedData{}, fmt.Errorf("reading seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (SeedData, error) {
	var sd SeedData
	if err := yaml.Unmarshal(data, &sd); err != nil {
		return SeedData{}, fmt.Errorf("parsing seed data: %w", err)
	}
	return sd, sd.validate()
}

func (sd SeedData) validate() error {
	emails := make(map[string]bool, len(sd.Customers))
	for _, c := range sd.Customers {
		e := NormalizeEmail(c.Email)
		if e == "" {
			return fmt.Errorf("seed customer %q has no email", c.Name)
		}
		if emails[e] {
			return fmt.Errorf("duplicate seed customer %q", e)
		}
		emails[e] = true
	}
	for _, o := range sd.Orders {
		if !emails[NormalizeEmail(o.CustomerEmail)] {
			return fmt.Errorf("seed order %s references unknown customer %q", o.ID, o.CustomerEmail)
		}
	}
	return nil
}

// Seed inserts sd when the customers table is empty. It reports whether rows
// were written; a populated store is left untouched.
func (s *Store) Seed(ctx context.Context, sd SeedData) (bool, error) {
	if err := sd.validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seeded := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&n); err != nil {
			return fmt.Errorf("counting customers: %w", err)
		}
		if n > 0 {
			return nil
		}

		for _, c := range sd.Customers {
			tier := c.Tier
			if tier == "" {
				tier = "standard"
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO customers (email, name, tier, support_tickets) VALUES (?, ?, ?, ?)",
				NormalizeEmail(c.Email), c.Name, tier, c.SupportTickets,
			); err != nil {
				return fmt.Errorf("inserting customer %s: %w", c.Email, err)
			}
		}
		for _, o := range sd.Orders {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO orders (id, customer_email, order_date, product, status) VALUES (?, ?, ?, ?, ?)",
				o.ID, NormalizeEmail(o.CustomerEmail), o.OrderDate, o.Product, o.Status,
			); err != nil {
				return fmt.Errorf("inserting order %s: %w", o.ID, err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: seeding: %w", ErrStorageInit, err)
	}
	return seeded, nil
}
