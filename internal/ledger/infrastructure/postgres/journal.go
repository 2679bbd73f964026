// Package postgres provides the write-through settlement journal. The
// in-memory arena stays authoritative; the journal is a read index for
// reporting and reconciliation and its writes never gate ledger operations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
)

const defaultJournalTable = "settlement_journal"

// JournalRepository is a Postgres implementation of the settlement journal.
type JournalRepository struct {
	db    *sql.DB
	table string
}

// NewJournalRepository constructs a journal repository.
func NewJournalRepository(db *sql.DB, opts ...JournalOption) *JournalRepository {
	repo := &JournalRepository{db: db, table: defaultJournalTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// JournalOption configures the repository.
type JournalOption func(*JournalRepository)

// WithJournalTable overrides the default table.
func WithJournalTable(table string) JournalOption {
	return func(repo *JournalRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Record upserts the latest state of a settlement.
func (r *JournalRepository) Record(ctx context.Context, s *ledger.Settlement) error {
	if r == nil || r.db == nil {
		return errors.New("journal repo: nil db")
	}
	if s == nil || s.ID == 0 {
		return errors.New("journal repo: invalid settlement")
	}

	flows, err := json.Marshal(s.Flows)
	if err != nil {
		return err
	}
	nettedFlows, err := json.Marshal(s.NettedFlows)
	if err != nil {
		return err
	}
	approvals, err := json.Marshal(s.Approvals)
	if err != nil {
		return err
	}
	escrow, err := json.Marshal(s.Escrow)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	settlement_id,
	reference,
	creator,
	cutoff,
	flows,
	netted_flows,
	approvals,
	escrow,
	executed,
	auto_settle,
	netting_enabled,
	created_at,
	executed_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (settlement_id)
DO UPDATE SET
	netted_flows = EXCLUDED.netted_flows,
	approvals = EXCLUDED.approvals,
	escrow = EXCLUDED.escrow,
	executed = EXCLUDED.executed,
	netting_enabled = EXCLUDED.netting_enabled,
	executed_at = EXCLUDED.executed_at,
	updated_at = EXCLUDED.updated_at`, r.table)

	var executedAt any
	if !s.ExecutedAt.IsZero() {
		executedAt = s.ExecutedAt.UTC()
	}
	_, err = r.db.ExecContext(
		ctx,
		query,
		int64(s.ID),
		s.Reference,
		string(s.Creator),
		s.Cutoff.UTC(),
		flows,
		nettedFlows,
		approvals,
		escrow,
		s.Executed,
		s.AutoSettle,
		s.NettingEnabled,
		s.CreatedAt.UTC(),
		executedAt,
		time.Now().UTC(),
	)
	return err
}

// JournalEntry is one journaled settlement row, as read back for
// reconciliation and statements.
type JournalEntry struct {
	SettlementID uint64
	Reference    string
	Creator      ledger.Party
	Cutoff       time.Time
	Flows        []ledger.Flow
	NettedFlows  []ledger.Flow
	Approvals    map[ledger.Party]bool
	Escrow       map[ledger.Party]uint64
	Executed     bool
	ExecutedAt   time.Time
	CreatedAt    time.Time
}

// List returns journal entries ordered by settlement id, up to limit rows
// starting after the given id. Limit 0 means no limit.
func (r *JournalRepository) List(ctx context.Context, afterID uint64, limit int) ([]JournalEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("journal repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT settlement_id, reference, creator, cutoff, flows, netted_flows,
	approvals, escrow, executed, executed_at, created_at
FROM %s
WHERE settlement_id > $1
ORDER BY settlement_id`, r.table)
	args := []any{int64(afterID)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			entry       JournalEntry
			id          int64
			creator     string
			flows       []byte
			nettedFlows []byte
			approvals   []byte
			escrow      []byte
			executedAt  sql.NullTime
		)
		if err := rows.Scan(&id, &entry.Reference, &creator, &entry.Cutoff, &flows,
			&nettedFlows, &approvals, &escrow, &entry.Executed, &executedAt, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.SettlementID = uint64(id)
		entry.Creator = ledger.Party(creator)
		if err := json.Unmarshal(flows, &entry.Flows); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(nettedFlows, &entry.NettedFlows); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(approvals, &entry.Approvals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(escrow, &entry.Escrow); err != nil {
			return nil, err
		}
		if executedAt.Valid {
			entry.ExecutedAt = executedAt.Time
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
