package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dvp-ledger/internal/eventing"
)

const defaultOutboxTable = "ledger_event_outbox"

// OutboxStore is a Postgres implementation of the event outbox.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Insert writes a pending outbox record and returns its id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	if env.EventID == "" {
		return "", eventing.ErrEmptyEnvelope
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	event_id,
	event_type,
	settlement_id,
	node,
	actor,
	occurred_at,
	payload,
	status,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, 'pending', $8
)`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		env.EventID, env.EventType, env.SettlementID, env.Node, env.Actor, env.OccurredAt, []byte(env.Payload), time.Now().UTC())
	if err != nil {
		return "", err
	}
	return env.EventID, nil
}

// ListPending returns up to limit pending records in insertion order.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT event_id, event_type, settlement_id, node, actor, occurred_at, payload
FROM %s
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []eventing.OutboxRecord
	for rows.Next() {
		var env eventing.Envelope
		var payload []byte
		if err := rows.Scan(&env.EventID, &env.EventType, &env.SettlementID, &env.Node, &env.Actor, &env.OccurredAt, &payload); err != nil {
			return nil, err
		}
		env.Payload = payload
		records = append(records, eventing.OutboxRecord{ID: env.EventID, Envelope: env})
	}
	return records, rows.Err()
}

// MarkSent transitions a record to sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "sent")
}

// MarkFailed transitions a record to failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "failed")
}

func (s *OutboxStore) markStatus(ctx context.Context, id, status string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	if id == "" {
		return errors.New("outbox store: empty id")
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = $3 WHERE event_id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	return err
}
