// Package metrics exposes prometheus collectors for the engine's hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttempts counts authentication attempts by outcome
	// ("success", "failure", "locked", "throttled").
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_login_attempts_total",
			Help: "Total authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionLookups counts session lookups by result
	// ("ok", "expired", "revoked", "not_found").
	SessionLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_session_lookups_total",
			Help: "Total session lookups by result.",
		},
		[]string{"result"},
	)

	// ApiKeyVerifications counts API key verifications by result
	// ("ok", "malformed", "unknown", "bad_secret", "revoked", "expired",
	// "rate_limited").
	ApiKeyVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_apikey_verifications_total",
			Help: "Total API key verifications by result.",
		},
		[]string{"result"},
	)

	// AuditQueueDepth tracks entries waiting in the audit retry queue.
	AuditQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeep_audit_queue_depth",
		Help: "Audit entries queued for retry.",
	})

	// AuditDropped counts audit entries dropped because the retry queue
	// overflowed. Should stay at zero.
	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_audit_dropped_total",
		Help: "Audit entries dropped due to retry queue overflow.",
	})
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		LoginAttempts,
		SessionLookups,
		ApiKeyVerifications,
		AuditQueueDepth,
		AuditDropped,
	)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
