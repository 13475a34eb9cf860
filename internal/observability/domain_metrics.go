package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgquery_statements_total",
			Help: "Total number of executed statements by outcome (committed, rolled_back, refused).",
		},
		[]string{"outcome"},
	)
	statementDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgquery_statement_duration_seconds",
			Help:    "Statement execution latency including commit or rollback.",
			Buckets: prometheus.DefBuckets,
		},
	)
	transactionRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquery_transaction_recoveries_total",
			Help: "Total number of aborted transactions rolled back by the connection probe.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquery_reconnects_total",
			Help: "Total number of executor reconnects after a failed connection probe.",
		},
	)
	completionChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgquery_completion_chunks_total",
			Help: "Total number of completion stream chunks by parse status.",
		},
		[]string{"status"},
	)
	completionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgquery_completion_latency_ms",
			Help:    "Completion request latency in milliseconds by provider.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"provider"},
	)
	sqlExtractEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquery_sql_extract_empty_total",
			Help: "Total number of model responses without a fenced SQL block.",
		},
	)
	schemaReflectDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgquery_schema_reflect_duration_seconds",
			Help:    "Latency of a full schema reflection.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		statementsTotal,
		statementDurationSeconds,
		transactionRecoveriesTotal,
		reconnectsTotal,
		completionChunksTotal,
		completionLatencyMs,
		sqlExtractEmptyTotal,
		schemaReflectDurationSeconds,
	)
}

func ObserveStatement(outcome string, elapsed time.Duration) {
	statementsTotal.WithLabelValues(outcome).Inc()
	statementDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementStatementRefused() {
	statementsTotal.WithLabelValues("refused").Inc()
}

func IncrementTransactionRecovery() {
	transactionRecoveriesTotal.Inc()
}

func IncrementReconnect() {
	reconnectsTotal.Inc()
}

func ObserveCompletionChunk(status string) {
	completionChunksTotal.WithLabelValues(status).Inc()
}

func ObserveCompletion(provider string, elapsed time.Duration) {
	completionLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func IncrementSQLExtractEmpty() {
	sqlExtractEmptyTotal.Inc()
}

func ObserveSchemaReflect(elapsed time.Duration) {
	schemaReflectDurationSeconds.Observe(elapsed.Seconds())
}
