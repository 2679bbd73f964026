package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dvp-ledger/internal/assets"
	assetsmemory "dvp-ledger/internal/assets/memory"
	"dvp-ledger/internal/audit"
	"dvp-ledger/internal/auth"
	"dvp-ledger/internal/config"
	"dvp-ledger/internal/eventing"
	"dvp-ledger/internal/eventing/eventbus"
	eventingrepo "dvp-ledger/internal/eventing/infrastructure/postgres"
	"dvp-ledger/internal/ledger/application"
	ledger "dvp-ledger/internal/ledger/domain"
	ledgermemory "dvp-ledger/internal/ledger/infrastructure/memory"
	ledgerrepo "dvp-ledger/internal/ledger/infrastructure/postgres"
	"dvp-ledger/internal/ledger/interfaces"
	"dvp-ledger/internal/logging"
	"dvp-ledger/internal/notify"
	"dvp-ledger/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			slog.Error("db open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			slog.Error("db ping failed", "error", err)
			os.Exit(1)
		}
		metrics.RegisterDBMetrics(db)
	} else {
		slog.Warn("no database configured, journal and outbox disabled")
	}

	contractRegistry := assets.NewRegistry()
	for _, ref := range cfg.FungibleContracts {
		contractRegistry.Register(ledger.ContractRef(ref), assetsmemory.NewFungibleToken())
	}
	for _, ref := range cfg.UniqueContracts {
		contractRegistry.Register(ledger.ContractRef(ref), assetsmemory.NewUniqueRegistry())
	}
	classifier := assets.NewRegistryClassifier(contractRegistry)
	vault := assetsmemory.NewVault()

	baseBus := eventbus.NewInMemoryBus()
	eventRegistry := eventing.NewRegistry()
	eventing.RegisterType[ledger.SettlementCreated](eventRegistry)
	eventing.RegisterType[ledger.Approved](eventRegistry)
	eventing.RegisterType[ledger.ApprovalRevoked](eventRegistry)
	eventing.RegisterType[ledger.Executed](eventRegistry)
	eventing.RegisterType[ledger.AutoExecutionFailed](eventRegistry)
	eventing.RegisterType[ledger.NativeReceived](eventRegistry)
	eventing.RegisterType[ledger.NativeWithdrawn](eventRegistry)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events application.EventPublisher = baseBus
	var processedStore eventing.ProcessedStore
	var journal application.Journal
	var auditLogger audit.Logger
	if db != nil {
		outboxStore := eventingrepo.NewOutboxStore(db)
		dlqStore := eventingrepo.NewDLQStore(db)
		pgProcessed := eventingrepo.NewProcessedStore(db)
		processedStore = pgProcessed
		dispatcher := eventing.NewDispatcher(baseBus, outboxStore, eventRegistry, dlqStore)
		events = eventing.NewPublisher(outboxStore, cfg.NodeID, baseBus)
		go runDispatcher(rootCtx, dispatcher, cfg.DispatchInterval)

		journalRepo := ledgerrepo.NewJournalRepository(db)
		journal = journalRepo
		auditRepo := audit.NewRepository(db)
		auditLogger = auditRepo
	}

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[ledger.Executed](), "ledger.log", func(ctx context.Context, event any) error {
		evt, ok := event.(ledger.Executed)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		slog.Info("settlement executed", "settlement_id", evt.SettlementID, "netted", evt.Netted, "flow_count", evt.FlowCount)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[ledger.AutoExecutionFailed](), "ledger.log", func(ctx context.Context, event any) error {
		evt, ok := event.(ledger.AutoExecutionFailed)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		slog.Warn("auto execution failed", "settlement_id", evt.SettlementID, "class", evt.Class, "detail", evt.Detail)
		return nil
	}, processedStore)

	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL, []byte(cfg.WebhookSecret))
		if err != nil {
			slog.Error("webhook channel failed", "error", err)
			os.Exit(1)
		}
		for _, eventType := range []string{
			eventbus.EventTypeOf[ledger.Executed](),
			eventbus.EventTypeOf[ledger.AutoExecutionFailed](),
		} {
			eventType := eventType
			eventing.Subscribe(baseBus, eventType, "ledger.webhook", func(ctx context.Context, event any) error {
				return channel.Send(ctx, eventType, event)
			}, processedStore)
		}
	}

	arena := ledgermemory.NewArena()
	engine, err := application.NewEngine(arena, contractRegistry, classifier, vault, events, journal, application.SystemClock{})
	if err != nil {
		slog.Error("engine init failed", "error", err)
		os.Exit(1)
	}
	metrics.RegisterEscrowHeldGauge(func() float64 { return float64(engine.EscrowHeld()) })

	settlementHandler, err := interfaces.NewSettlementHandler(engine, auditLogger)
	if err != nil {
		slog.Error("settlement handler init failed", "error", err)
		os.Exit(1)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/settlements", settlementHandler)
	mux.Handle("/api/v1/settlements/", settlementHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux)),
	}
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}

func runDispatcher(ctx context.Context, dispatcher *eventing.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dispatcher.Dispatch(ctx, 50); err != nil {
				slog.Error("outbox dispatch failed", "error", err)
			}
		}
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", resp.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
