// Package metrics exposes Prometheus counters for the gateway's core
// subsystems (C5/C7/C8). The gateway itself doesn't run an HTTP server —
// per SPEC_FULL the public-facing surface is an external collaborator —
// so Handler returns a plain http.Handler for that collaborator to mount
// at whatever path it chooses, the same contract-only relationship the
// teacher's metrics middleware has with its own server package.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequestsTotal counts generateAssistantResponse attempts by
	// outcome (§4.7's retry/backoff loop in internal/upstream).
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro_gateway_upstream_requests_total",
			Help: "Total CodeWhisperer generateAssistantResponse attempts by outcome",
		},
		[]string{"outcome"},
	)

	// UpstreamRetriesTotal counts retry attempts triggered by transport
	// errors, 401s, or 5xx responses.
	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro_gateway_upstream_retries_total",
			Help: "Total upstream retry attempts by reason",
		},
		[]string{"reason"},
	)

	// RefreshOutcomesTotal counts C3 token refresh attempts by outcome.
	RefreshOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro_gateway_refresh_outcomes_total",
			Help: "Total credential refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PoolActiveRecords tracks the current size of C5's in-process pool.
	PoolActiveRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiro_gateway_pool_active_records",
			Help: "Number of active credential records currently held by the account pool",
		},
	)

	// StreamFramesTotal counts decoded AWS Event Stream frames by event
	// type, from C8's transcoder.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro_gateway_stream_frames_total",
			Help: "Total AWS Event Stream frames decoded by event type",
		},
		[]string{"event_type"},
	)
)

// Handler returns the Prometheus scrape endpoint handler. The caller
// (an external HTTP server, per SPEC_FULL's out-of-scope boundary) is
// responsible for mounting it.
func Handler() http.Handler {
	return promhttp.Handler()
}
