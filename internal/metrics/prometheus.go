package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AgentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_agent_runs_total",
			Help: "Agent runs by type and terminal status",
		},
		[]string{"agent_type", "status"},
	)

	AgentRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copysentry_agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"agent_type"},
	)

	AgentRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_agent_retries_total",
			Help: "Retry attempts by agent type",
		},
		[]string{"agent_type"},
	)

	AgentConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copysentry_agent_conflicts_total",
			Help: "Triggers rejected or queued because a run was already in flight",
		},
	)

	MatchSimilarity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copysentry_match_similarity",
			Help:    "Similarity scores of processed candidates",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.85, 0.9, 0.95, 1.0},
		},
	)

	MatchBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copysentry_match_batch_duration_seconds",
			Help:    "Match batch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60},
		},
	)

	CandidateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_candidate_failures_total",
			Help: "Per-candidate failures by error kind",
		},
		[]string{"kind"},
	)

	NoticeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_notice_transitions_total",
			Help: "Notice lifecycle transitions",
		},
		[]string{"to"},
	)

	NoticeDispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copysentry_notice_dispatch_failures_total",
			Help: "Failed notice delivery attempts",
		},
	)

	EvidenceCaptures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_evidence_captures_total",
			Help: "Evidence capture attempts by outcome",
		},
		[]string{"outcome"},
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copysentry_search_results_count",
			Help:    "Candidates returned per discovery run",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	SignatureCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copysentry_signature_cache_total",
			Help: "Signature cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

func Init() {
	prometheus.MustRegister(AgentRunsTotal)
	prometheus.MustRegister(AgentRunDuration)
	prometheus.MustRegister(AgentRetries)
	prometheus.MustRegister(AgentConflicts)
	prometheus.MustRegister(MatchSimilarity)
	prometheus.MustRegister(MatchBatchDuration)
	prometheus.MustRegister(CandidateFailures)
	prometheus.MustRegister(NoticeTransitions)
	prometheus.MustRegister(NoticeDispatchFailures)
	prometheus.MustRegister(EvidenceCaptures)
	prometheus.MustRegister(SearchResults)
	prometheus.MustRegister(SignatureCacheHits)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
