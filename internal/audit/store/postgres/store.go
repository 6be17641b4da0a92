// Package postgres persists audit events to an append-only table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/Amsterdam/haal-centraal-proxy/internal/audit"
)

// Store implements audit.Store on PostgreSQL. Events are inserted once and
// never updated; retention is handled by database policy, not by the proxy.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append implements audit.Store.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	const q = `
		INSERT INTO audit_events (id, created_at, request_id, subject, dataset, outcome, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, q,
		event.ID, event.Timestamp, event.RequestID,
		event.Subject, event.Dataset, string(event.Outcome), payload,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
