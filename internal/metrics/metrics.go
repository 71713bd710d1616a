package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamCalls counts upstream connector calls by method and outcome.
	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetbridge",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Upstream API calls by method and outcome.",
	}, []string{"method", "outcome"})

	// UpstreamDuration observes upstream call latency by method.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sheetbridge",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Upstream API call duration by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// RateBudgetWait observes time spent waiting for rate-budget admission.
	RateBudgetWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sheetbridge",
		Subsystem: "upstream",
		Name:      "rate_budget_wait_seconds",
		Help:      "Time callers spent blocked on the per-token rate budget.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	})

	// Runs counts dispatched runs by terminal state.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetbridge",
		Subsystem: "dispatch",
		Name:      "runs_total",
		Help:      "Export runs by terminal state.",
	}, []string{"state"})

	// RowsExported counts rows handed to the spreadsheet writer.
	RowsExported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sheetbridge",
		Subsystem: "dispatch",
		Name:      "rows_exported_total",
		Help:      "Rows written to export destinations.",
	})

	// RateLookups counts exchange-rate lookups by result.
	RateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetbridge",
		Subsystem: "rates",
		Name:      "lookups_total",
		Help:      "Exchange-rate lookups by result (hit, miss, fallback, unavailable).",
	}, []string{"result"})
)
