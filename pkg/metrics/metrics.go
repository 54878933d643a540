package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records token validation outcomes by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peon_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// AccessChecks counts grant evaluations by scope (instance|server|admin) and outcome (allow|deny|error).
	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peon_access_checks_total",
			Help: "Total number of access checks",
		},
		[]string{"scope", "result"},
	)

	// UpstreamRequests counts orchestrator calls by operation and outcome (ok|timeout|error|status).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peon_upstream_requests_total",
			Help: "Total number of orchestrator requests",
		},
		[]string{"operation", "result"},
	)

	// UpstreamLatency measures orchestrator round trips.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peon_upstream_latency_seconds",
			Help:    "Orchestrator request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SyncRuns counts sync cycles by result (ok|partial|error).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peon_sync_runs_total",
			Help: "Total number of synchronizer cycles",
		},
		[]string{"result"},
	)

	// CachedServers tracks the number of server rows in the snapshot cache after the last sync cycle.
	CachedServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peon_cached_servers",
			Help: "Number of cached server snapshots",
		},
	)

	// OnlineUsers tracks principals connected to the presence hub.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peon_online_users",
			Help: "Number of users connected to the presence hub",
		},
	)

	// ConsoleSessions tracks open console bridges by mode (stream|poll).
	ConsoleSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peon_console_sessions",
			Help: "Number of active console sessions",
		},
		[]string{"mode"},
	)

	// AuditDropped counts audit entries discarded because the queue was full.
	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peon_audit_dropped_total",
			Help: "Total number of audit entries dropped",
		},
	)

	// WebsocketUpgrades counts websocket handshakes by route template.
	WebsocketUpgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peon_websocket_upgrades_total",
			Help: "Total number of websocket upgrade requests",
		},
		[]string{"path"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peon_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
