// Command reconcile exports the settlement journal to CSV and checks it
// against the ledger invariants: id sequence continuity, escrow bookkeeping,
// approval completeness of executed settlements and netting equivalence of
// registered netted flow sets. It reads only the journal tables and never touches live ledger state.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
	ledgerrepo "dvp-ledger/internal/ledger/infrastructure/postgres"
	"dvp-ledger/internal/ledger/netting"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL   string
	outDir  string
	afterID uint64
	limit   int
}

type violation struct {
	SettlementID uint64
	Check        string
	Detail       string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	repo := ledgerrepo.NewJournalRepository(db)
	entries, err := repo.List(ctx, cfg.afterID, cfg.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load journal:", err)
		os.Exit(2)
	}

	violations := checkEntries(entries)

	if err := writeEntries(cfg.outDir, entries); err != nil {
		fmt.Fprintln(os.Stderr, "write settlements:", err)
		os.Exit(2)
	}
	if err := writeViolations(cfg.outDir, violations); err != nil {
		fmt.Fprintln(os.Stderr, "write violations:", err)
		os.Exit(2)
	}

	fmt.Printf("checked %d settlements, %d violations, outputs in %s\n",
		len(entries), len(violations), cfg.outDir)
	if len(violations) > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	var afterID uint64
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")), "Postgres DSN")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Uint64Var(&afterID, "after", 0, "start after this settlement id")
	flag.IntVar(&cfg.limit, "limit", 0, "max settlements to check (0 = all)")
	flag.Parse()
	cfg.afterID = afterID

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func checkEntries(entries []ledgerrepo.JournalEntry) []violation {
	var out []violation
	report := func(id uint64, check, format string, args ...any) {
		out = append(out, violation{
			SettlementID: id,
			Check:        check,
			Detail:       fmt.Sprintf(format, args...),
		})
	}

	var prevID uint64
	for _, entry := range entries {
		// Ids are assigned sequentially; a hole in the journal means a lost
		// write. Only meaningful within the listed range.
		if prevID != 0 && entry.SettlementID != prevID+1 {
			report(entry.SettlementID, "sequence", "gap in journal ids: %d follows %d", entry.SettlementID, prevID)
		}
		prevID = entry.SettlementID

		if len(entry.Flows) == 0 {
			report(entry.SettlementID, "flows", "journaled settlement has no flows")
			continue
		}

		s := ledger.Settlement{
			ID:          entry.SettlementID,
			Flows:       entry.Flows,
			NettedFlows: entry.NettedFlows,
			Approvals:   entry.Approvals,
			Escrow:      entry.Escrow,
		}

		// Escrow may only be held for approved, involved parties.
		for party, amount := range entry.Escrow {
			if !s.Involved(party) {
				report(entry.SettlementID, "escrow", "escrow of %d held for uninvolved party %s", amount, party)
			}
			if !entry.Approvals[party] {
				report(entry.SettlementID, "escrow", "escrow of %d held for unapproved party %s", amount, party)
			}
		}

		if entry.Executed {
			if !s.FullyApproved() {
				report(entry.SettlementID, "approvals", "executed without full sender approval")
			}
			if entry.ExecutedAt.IsZero() {
				report(entry.SettlementID, "executed_at", "executed without execution timestamp")
			}
			if total := s.EscrowTotal(); total != 0 {
				report(entry.SettlementID, "escrow", "executed settlement still holds %d in escrow", total)
			}
		}

		if len(entry.NettedFlows) > 0 {
			if err := netting.Validate(entry.Flows, entry.NettedFlows); err != nil {
				report(entry.SettlementID, "netting", "registered netted flows invalid: %v", err)
			}
		}
	}
	return out
}

func writeEntries(outDir string, entries []ledgerrepo.JournalEntry) error {
	path := filepath.Join(outDir, "settlements.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"settlement_id",
		"reference",
		"creator",
		"cutoff",
		"flow_count",
		"netted_flow_count",
		"approval_count",
		"escrow_total",
		"executed",
		"executed_at",
		"created_at",
	}); err != nil {
		return err
	}

	for _, entry := range entries {
		var escrowTotal uint64
		for _, amount := range entry.Escrow {
			escrowTotal += amount
		}
		if err := writer.Write([]string{
			strconv.FormatUint(entry.SettlementID, 10),
			entry.Reference,
			string(entry.Creator),
			formatTime(entry.Cutoff),
			strconv.Itoa(len(entry.Flows)),
			strconv.Itoa(len(entry.NettedFlows)),
			strconv.Itoa(len(entry.Approvals)),
			strconv.FormatUint(escrowTotal, 10),
			strconv.FormatBool(entry.Executed),
			formatTime(entry.ExecutedAt),
			formatTime(entry.CreatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeViolations(outDir string, violations []violation) error {
	path := filepath.Join(outDir, "violations.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"settlement_id", "check", "detail"}); err != nil {
		return err
	}
	for _, v := range violations {
		if err := writer.Write([]string{
			strconv.FormatUint(v.SettlementID, 10),
			v.Check,
			v.Detail,
		}); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
