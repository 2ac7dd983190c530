package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadmap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TokensConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_tokens_consumed_total",
			Help: "Reset tokens successfully spent.",
		},
		[]string{"type"},
	)

	TokensDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_tokens_denied_total",
			Help: "Reset attempts refused by quota or cooldown.",
		},
		[]string{"type", "reason"},
	)

	TokenStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_token_store_errors_total",
			Help: "Token operations that failed on a storage fault.",
		},
		[]string{"op"},
	)

	AllocationsLoadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roadmap_allocations_loaded_total",
			Help: "Weekly allocations loaded or provisioned.",
		},
	)

	StatsCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_stats_cache_lookups_total",
			Help: "Usage stats cache lookups.",
		},
		[]string{"result"}, // hit, miss, error
	)

	AuditEventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_audit_events_persisted_total",
			Help: "Audit events written by the audit consumer.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TokensConsumedTotal,
		TokensDeniedTotal,
		TokenStoreErrorsTotal,
		AllocationsLoadedTotal,
		StatsCacheLookupsTotal,
		AuditEventsPersistedTotal,
	)
}
