package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eqmd_bot"

var (
	// CommandsTotal counts processed inbound messages by resulting action.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound chat messages processed, by action.",
		},
		[]string{"action"},
	)

	// TokensIssued counts delegated token issuance attempts by outcome.
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegated_tokens_total",
			Help:      "Delegated token issuance results.",
		},
		[]string{"outcome"},
	)

	// DirectoryCalls counts calls to the host directory by operation and outcome.
	DirectoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_calls_total",
			Help:      "Host directory calls, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// DirectoryDuration observes directory call latency.
	DirectoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_call_duration_seconds",
			Help:      "Host directory call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// PendingSelections tracks rooms currently awaiting a numeric reply.
	PendingSelections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_selections",
		Help:      "Rooms with an unexpired pending selection.",
	})

	// AuditEntries counts audit records written, by direction.
	AuditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit log entries written, by direction.",
		},
		[]string{"direction"},
	)

	// AuditBackpressure counts records that found the write queue full and
	// had to wait for the writer.
	AuditBackpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_backpressure_total",
		Help:      "Audit records that waited on a full write queue.",
	})
)

var registerOnce sync.Once

// Register adds every collector to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			CommandsTotal,
			TokensIssued,
			DirectoryCalls,
			DirectoryDuration,
			PendingSelections,
			AuditEntries,
			AuditBackpressure,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
