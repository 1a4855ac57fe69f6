package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OracleCalls tracks oracle calls by outcome (success or failure kind)
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papersift_oracle_calls_total",
			Help: "Total number of oracle classification calls",
		},
		[]string{"outcome"},
	)

	// OracleLatency tracks oracle call latency
	OracleLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "papersift_oracle_latency_seconds",
			Help:    "Oracle call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	// RetriesScheduled counts retryable failures that were rescheduled
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papersift_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"kind"},
	)

	// RecordsSettled counts records moved to a terminal state
	RecordsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papersift_records_settled_total",
			Help: "Total number of records settled by this process",
		},
		[]string{"state"},
	)

	// InFlight tracks attempts currently waiting on the oracle
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papersift_in_flight",
			Help: "Oracle attempts currently in flight",
		},
	)

	// LedgerRecords tracks the ledger breakdown from the latest progress snapshot
	LedgerRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papersift_ledger_records",
			Help: "Records per category in the latest progress snapshot",
		},
		[]string{"category"},
	)

	// Throughput tracks records settled per second in the current run
	Throughput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papersift_throughput_records_per_second",
			Help: "Records settled per second in the current run",
		},
	)

	// CostUSD tracks the estimated spend recorded in the ledger
	CostUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papersift_cost_usd",
			Help: "Estimated oracle spend in USD across the ledger",
		},
	)

	// ETASeconds tracks the projected time to finish the corpus
	ETASeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papersift_eta_seconds",
			Help: "Projected seconds until every record is settled",
		},
	)
)
