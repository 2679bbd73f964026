// Command perf_seed drives the settlement API with synthetic load: it mints
// operator tokens for a pool of parties, creates native-currency settlements
// between them, approves both sides and optionally executes. Created ids can
// be written out for downstream tooling.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dvp-ledger/internal/auth"
	ledger "dvp-ledger/internal/ledger/domain"
)

type config struct {
	baseURL    string
	jwtSecret  string
	partyCount int
	count      int
	amountBase uint64
	cutoff     time.Duration
	autoSettle bool
	execute    bool
	idsOut     string
}

func main() {
	cfg := parseConfig()
	if cfg.baseURL == "" {
		log.Fatal("base-url or BASE_URL is required")
	}
	if cfg.jwtSecret == "" {
		log.Fatal("jwt-secret or AUTH_JWT_SECRET is required")
	}
	if cfg.partyCount < 2 {
		log.Fatal("party-count must be >= 2")
	}
	if cfg.count <= 0 {
		log.Fatal("count must be > 0")
	}

	seeder, err := newSeeder(cfg)
	if err != nil {
		log.Fatalf("init seeder: %v", err)
	}

	ctx := context.Background()
	ids := make([]string, 0, cfg.count)
	for i := 0; i < cfg.count; i++ {
		id, err := seeder.runOne(ctx, i)
		if err != nil {
			log.Fatalf("settlement %d: %v", i+1, err)
		}
		ids = append(ids, strconv.FormatUint(id, 10))
		if (i+1)%50 == 0 {
			log.Printf("seeded %d/%d settlements", i+1, cfg.count)
		}
	}

	if cfg.idsOut != "" {
		if err := writeLines(cfg.idsOut, ids); err != nil {
			log.Fatalf("write ids: %v", err)
		}
		log.Printf("settlement ids written to %s", cfg.idsOut)
	}
	log.Printf("perf seed completed: %d settlements", cfg.count)
}

func parseConfig() config {
	cfg := config{}
	var amountBase uint64
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "ledger API base URL")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", envOrDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")), "JWT signing secret shared with the server")
	flag.IntVar(&cfg.partyCount, "party-count", envOrInt("PARTY_COUNT", 4), "number of synthetic parties")
	flag.IntVar(&cfg.count, "count", envOrInt("COUNT", 100), "number of settlements to create")
	flag.Uint64Var(&amountBase, "amount-base", uint64(envOrInt("AMOUNT_BASE", 100)), "base native amount per flow")
	flag.DurationVar(&cfg.cutoff, "cutoff", envOrDuration("CUTOFF", time.Hour), "cutoff offset from now")
	flag.BoolVar(&cfg.autoSettle, "auto-settle", envOrBool("AUTO_SETTLE", true), "mark settlements for auto execution")
	flag.BoolVar(&cfg.execute, "execute", envOrBool("EXECUTE", false), "execute explicitly after approvals")
	flag.StringVar(&cfg.idsOut, "ids-out", envOrDefault("IDS_OUT", ""), "output file for settlement ids")
	flag.Parse()
	cfg.amountBase = amountBase
	return cfg
}

type seeder struct {
	cfg     config
	client  *http.Client
	baseURL string
	tokens  map[ledger.Party]string
	parties []ledger.Party
}

func newSeeder(cfg config) (*seeder, error) {
	s := &seeder{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		tokens:  make(map[ledger.Party]string),
	}
	for i := 1; i <= cfg.partyCount; i++ {
		party := ledger.Party(fmt.Sprintf("party-%04d", i))
		token, err := auth.IssueJWT([]byte(cfg.jwtSecret), string(party), auth.RoleOperator, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		s.parties = append(s.parties, party)
		s.tokens[party] = token
	}
	return s, nil
}

func (s *seeder) runOne(ctx context.Context, seq int) (uint64, error) {
	from := s.parties[seq%len(s.parties)]
	to := s.parties[(seq+1)%len(s.parties)]
	amount := s.cfg.amountBase + uint64(seq%10)

	var created struct {
		SettlementID uint64 `json:"settlement_id"`
	}
	err := s.call(ctx, from, http.MethodPost, "/api/v1/settlements", map[string]any{
		"reference":   fmt.Sprintf("perf-%06d", seq+1),
		"cutoff":      time.Now().UTC().Add(s.cfg.cutoff),
		"auto_settle": s.cfg.autoSettle,
		"flows": []map[string]any{{
			"asset": map[string]any{"kind": "native", "value": amount},
			"from":  from,
			"to":    to,
		}},
	}, &created)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}

	err = s.call(ctx, from, http.MethodPost, "/api/v1/settlements/approve", map[string]any{
		"settlement_ids": []uint64{created.SettlementID},
		"deposit":        amount,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("approve sender: %w", err)
	}

	if s.cfg.execute && !s.cfg.autoSettle {
		path := fmt.Sprintf("/api/v1/settlements/%d/execute", created.SettlementID)
		if err := s.call(ctx, from, http.MethodPost, path, nil, nil); err != nil {
			return 0, fmt.Errorf("execute: %w", err)
		}
	}
	return created.SettlementID, nil
}

func (s *seeder) call(ctx context.Context, as ledger.Party, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.tokens[as])

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func writeLines(path string, lines []string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	content := strings.Join(lines, "\n")
	return os.WriteFile(path, []byte(content), 0o644)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
