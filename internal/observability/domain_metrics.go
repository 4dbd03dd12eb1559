package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_llm_calls_total",
			Help: "Total number of hosted text-generation calls by provider, purpose and outcome.",
		},
		[]string{"provider", "purpose", "outcome"},
	)
	llmCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisperer_llm_call_duration_seconds",
			Help:    "Latency of hosted text-generation calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "purpose"},
	)
	translateOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_translate_outcomes_total",
			Help: "Translator outcomes (query, conversational, uninterpretable).",
		},
		[]string{"kind"},
	)
	reportFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_report_fetches_total",
			Help: "Reporting backend calls by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	reportRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whisperer_report_rows_returned",
			Help:    "Rows returned per report fetch.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
		},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_turns_total",
			Help: "Conversation turns by final status.",
		},
		[]string{"status"},
	)
	turnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whisperer_turn_duration_seconds",
			Help:    "End-to-end latency of one conversation turn.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_exports_total",
			Help: "Table exports by target and outcome.",
		},
		[]string{"target", "outcome"},
	)
	brandCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperer_brand_cache_lookups_total",
			Help: "Brand list cache lookups by result.",
		},
		[]string{"result"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisperer_active_sessions",
			Help: "Sessions currently held by the in-memory store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		llmCallsTotal,
		llmCallDurationSeconds,
		translateOutcomesTotal,
		reportFetchesTotal,
		reportRowsReturned,
		turnsTotal,
		turnDurationSeconds,
		exportsTotal,
		brandCacheLookupsTotal,
		activeSessions,
	)
}

func ObserveLLMCall(provider, purpose string, elapsed time.Duration, err error) {
	llmCallsTotal.WithLabelValues(provider, purpose, outcome(err)).Inc()
	llmCallDurationSeconds.WithLabelValues(provider, purpose).Observe(elapsed.Seconds())
}

func ObserveTranslateOutcome(kind string) {
	translateOutcomesTotal.WithLabelValues(kind).Inc()
}

func ObserveReportFetch(backend string, rows int, err error) {
	reportFetchesTotal.WithLabelValues(backend, outcome(err)).Inc()
	if err == nil {
		reportRowsReturned.Observe(float64(rows))
	}
}

func ObserveTurn(status string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveExport(target string, err error) {
	exportsTotal.WithLabelValues(target, outcome(err)).Inc()
}

func ObserveBrandCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	brandCacheLookupsTotal.WithLabelValues(result).Inc()
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
