// Package metrics centralizes prometheus instrumentation for the ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "dvp_ledger_"

// Result labels for operation outcomes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "operation_duration_seconds",
			Help:    "Duration of ledger entry-point operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "execution_duration_seconds",
			Help:    "Duration of settlement executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "result"},
	)

	autoExecutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "auto_execution_failures_total",
			Help: "Auto-settlement executions caught by the isolation wrapper",
		},
		[]string{"class"},
	)

	reentrancyRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "reentrancy_rejections_total",
			Help: "Callbacks rejected for re-entering a protected entry point",
		},
	)

	journalWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "journal_write_failures_total",
			Help: "Settlement journal writes that failed (read index may lag)",
		},
	)

	statementExportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "statement_export_duration_seconds",
			Help:    "Duration of settlement statement exports",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format", "result"},
	)

	outboxPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "outbox_publish_duration_seconds",
			Help:    "Duration of outbox publishes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	outboxDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "outbox_dispatch_duration_seconds",
			Help:    "Duration of outbox dispatch runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	outboxDispatchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "outbox_dispatch_events_total",
			Help: "Outbox records dispatched, by outcome",
		},
		[]string{"outcome"},
	)

	consumerLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "consumer_lag_seconds",
			Help:    "Delay between event occurrence and consumer handling",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"consumer"},
	)
)

func init() {
	prometheus.MustRegister(
		operationDuration,
		executionDuration,
		autoExecutionFailures,
		reentrancyRejections,
		journalWriteFailures,
		statementExportDuration,
		outboxPublishDuration,
		outboxDispatchDuration,
		outboxDispatchEvents,
		consumerLag,
	)
}

// ObserveOperation records a ledger entry-point call.
func ObserveOperation(operation, result string, d time.Duration) {
	operationDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

// ObserveExecution records a settlement execution attempt.
func ObserveExecution(mode, result string, d time.Duration) {
	executionDuration.WithLabelValues(mode, result).Observe(d.Seconds())
}

// CountAutoExecutionFailure records an isolated auto-execution failure.
func CountAutoExecutionFailure(class string) {
	autoExecutionFailures.WithLabelValues(class).Inc()
}

// CountReentrancyRejection records a rejected re-entrant call.
func CountReentrancyRejection() {
	reentrancyRejections.Inc()
}

// CountJournalWriteFailure records a failed journal write.
func CountJournalWriteFailure() {
	journalWriteFailures.Inc()
}

// ObserveStatementExport records a statement export.
func ObserveStatementExport(format, result string, d time.Duration) {
	statementExportDuration.WithLabelValues(format, result).Observe(d.Seconds())
}

// ObserveOutboxPublish records an outbox publish.
func ObserveOutboxPublish(result string, d time.Duration) {
	outboxPublishDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveOutboxDispatch records a dispatch run and its per-record outcomes.
func ObserveOutboxDispatch(result string, d time.Duration, sent, failed, dlq int) {
	outboxDispatchDuration.WithLabelValues(result).Observe(d.Seconds())
	outboxDispatchEvents.WithLabelValues("sent").Add(float64(sent))
	outboxDispatchEvents.WithLabelValues("failed").Add(float64(failed))
	outboxDispatchEvents.WithLabelValues("dlq").Add(float64(dlq))
}

// ObserveConsumerLag records event-to-consumer delay.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	consumerLag.WithLabelValues(consumer).Observe(lag.Seconds())
}

// RegisterEscrowHeldGauge exposes the engine's total native escrow. The
// reader must be safe to call from the prometheus scrape goroutine.
func RegisterEscrowHeldGauge(read func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "escrow_held_native",
			Help: "Total native currency held in escrow across all settlements",
		},
		read,
	))
}
