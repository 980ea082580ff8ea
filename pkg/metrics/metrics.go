package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_emails_sent_total",
			Help: "Total outreach emails sent",
		},
		[]string{"kind"}, // kind: initial, followup, polite_followup
	)

	EmailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_email_failures_total",
			Help: "Total failed outreach email sends",
		},
		[]string{"kind"},
	)

	LeadTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_transitions_total",
			Help: "Total lead state transitions",
		},
		[]string{"from", "to"},
	)

	RepliesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replies_classified_total",
			Help: "Total inbound replies classified",
		},
		[]string{"sentiment"},
	)

	RateLimitBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_blocks_total",
			Help: "Send attempts blocked by the rate limiter",
		},
		[]string{"reason"}, // reason: daily_limit, min_interval
	)

	AgentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_call_latency_ms",
			Help:    "Agent service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

// RecordAgentCallLatency records one agent-service round trip.
func RecordAgentCallLatency(endpoint, status string, duration time.Duration) {
	AgentCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration records one repository query.
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration records one API request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementTransition counts a committed state transition.
func IncrementTransition(from, to string) {
	LeadTransitions.WithLabelValues(from, to).Inc()
}

// IncrementReplyClassified counts a classified inbound reply.
func IncrementReplyClassified(sentiment string) {
	RepliesClassified.WithLabelValues(sentiment).Inc()
}
