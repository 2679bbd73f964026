// Package config loads server configuration from a yaml file with environment
// variable fallbacks.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	DatabaseURL      string        `yaml:"database_url"`
	HTTPAddr         string        `yaml:"http_addr"`
	NodeID           string        `yaml:"node_id"`
	JWTSecret        string        `yaml:"jwt_secret"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	WebhookURL       string        `yaml:"webhook_url"`
	WebhookSecret    string        `yaml:"webhook_secret"`

	// In-memory asset contracts to register at startup, for local runs and
	// deployments without RPC-backed adapters.
	FungibleContracts []string `yaml:"fungible_contracts"`
	UniqueContracts   []string `yaml:"unique_contracts"`
}

// Load reads LEDGER_CONFIG (yaml) if set, then fills gaps from the
// environment. The database URL is optional: without it the journal, outbox
// persistence and DLQ are disabled and the ledger runs purely in memory.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:      getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		NodeID:           getenvDefault("NODE_ID", "ledger-1"),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")),
		LogLevel:         getenvDefault("LOG_LEVEL", "info"),
		LogFormat:        getenvDefault("LOG_FORMAT", "text"),
		DispatchInterval: getenvDuration("DISPATCH_INTERVAL", 2*time.Second),
		ShutdownTimeout:  getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WebhookURL:       os.Getenv("LEDGER_WEBHOOK_URL"),
		WebhookSecret:    os.Getenv("LEDGER_WEBHOOK_SECRET"),
	}

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if len(cfg.FungibleContracts) == 0 {
		cfg.FungibleContracts = splitCSV(os.Getenv("LEDGER_FUNGIBLE_CONTRACTS"))
	}
	if len(cfg.UniqueContracts) == 0 {
		cfg.UniqueContracts = splitCSV(os.Getenv("LEDGER_UNIQUE_CONTRACTS"))
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: jwt secret required")
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 2 * time.Second
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

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
