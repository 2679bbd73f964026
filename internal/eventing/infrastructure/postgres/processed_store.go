package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultProcessedTable = "ledger_processed_events"

// ProcessedStore records which consumer handled which envelope, keyed by
// (consumer, event id) with the settlement id kept for traceability.
type ProcessedStore struct {
	db    *sql.DB
	table string
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) *ProcessedStore {
	store := &ProcessedStore{db: db, table: defaultProcessedTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// ProcessedOption configures the processed store.
type ProcessedOption func(*ProcessedStore)

// WithProcessedTable overrides table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(store *ProcessedStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Seen reports whether the consumer already handled the event.
func (s *ProcessedStore) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("processed store: nil db")
	}
	if consumer == "" || eventID == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s WHERE consumer_name = $1 AND event_id = $2
)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, consumer, eventID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Mark records the event as handled by the consumer. Settlement id 0 marks a
// party-scoped event with no settlement.
func (s *ProcessedStore) Mark(ctx context.Context, consumer, eventID string, settlementID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if consumer == "" || eventID == "" {
		return errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (consumer_name, event_id, settlement_id, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (consumer_name, event_id)
DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query, consumer, eventID, settlementID, time.Now().UTC())
	return err
}
