// Command webhook_sink is a local receiver for ledger webhook deliveries. It
// verifies the HMAC signature on each delivery, counts what arrives per event
// type and can inject latency or failures to exercise the sender's best-effort
// behavior.
package main

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dvp-ledger/internal/notify"
)

type sink struct {
	start    time.Time
	secret   []byte
	latency  time.Duration
	failRate float64

	mu         sync.Mutex
	byType     map[string]int64
	badSig     int64
	totalCalls int64
}

func main() {
	addr := getenvDefault("SINK_ADDR", ":18080")
	secret := os.Getenv("SINK_WEBHOOK_SECRET")
	latencyMs := getenvIntDefault("SINK_LATENCY_MS", 0)
	failRate := getenvFloatDefault("SINK_FAIL_RATE", 0)

	s := &sink{
		start:    time.Now().UTC(),
		secret:   []byte(secret),
		latency:  time.Duration(latencyMs) * time.Millisecond,
		failRate: failRate,
		byType:   make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/webhook", s.handleWebhook)

	log.Printf("webhook sink listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *sink) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *sink) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at":     s.start.Format(time.RFC3339),
		"total":          atomic.LoadInt64(&s.totalCalls),
		"by_event_type":  s.byType,
		"bad_signatures": s.badSig,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *sink) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	atomic.AddInt64(&s.totalCalls, 1)

	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if len(s.secret) > 0 {
		timestamp := r.Header.Get("X-Ledger-Timestamp")
		signature := r.Header.Get("X-Ledger-Signature")
		expected := notify.Sign(s.secret, timestamp, body)
		if timestamp == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
			s.mu.Lock()
			s.badSig++
			s.mu.Unlock()
			log.Printf("rejected delivery with bad signature")
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
	}

	var payload struct {
		EventType string          `json:"event_type"`
		Event     json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.byType[payload.EventType]++
	s.mu.Unlock()
	log.Printf("received %s (%d bytes)", payload.EventType, len(body))
	w.WriteHeader(http.StatusOK)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
