// Package telemetry provides Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ObsReconnects        prometheus.Counter
	ObsDisconnects       prometheus.Counter
	ObsRequestTimeouts   prometheus.Counter
	ObsKeepaliveFailures prometheus.Counter
	ObsRequests          prometheus.Counter
	ObsRequestsRejected  prometheus.Counter
	HighlightsSucceeded  prometheus.Counter
	HighlightsFailed     prometheus.Counter

	// Histograms (seconds)
	ObsRequestDuration prometheus.Observer

	// Gauges
	ObsConnectedGauge prometheus.Gauge // 1=ready,0=not ready
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ObsReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_reconnects_total", Help: "Number of reconnect attempts scheduled after connection loss"})
		ObsDisconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_disconnects_total", Help: "Number of unexpected connection losses"})
		ObsRequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_request_timeouts_total", Help: "Number of requests that timed out waiting for a response"})
		ObsKeepaliveFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_keepalive_failures_total", Help: "Number of failed keepalive probes"})
		ObsRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_requests_total", Help: "Number of requests that received a response"})
		ObsRequestsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "obs_requests_rejected_total", Help: "Number of requests the server rejected"})
		HighlightsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "highlights_succeeded_total", Help: "Number of highlight operations completed"})
		HighlightsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "highlights_failed_total", Help: "Number of highlight operations failed"})
		ObsRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "obs_request_duration_seconds", Help: "Request round-trip duration seconds", Buckets: prometheus.DefBuckets})
		ObsConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "obs_connected", Help: "OBS session ready=1 not ready=0"})
	})
}

// The helpers below are nil-safe so library code can record metrics without
// caring whether Init ran (it doesn't in unit tests).

// IncObsReconnects counts one scheduled reconnect attempt.
func IncObsReconnects() {
	if ObsReconnects != nil {
		ObsReconnects.Inc()
	}
}

// IncObsDisconnects counts one unexpected connection loss.
func IncObsDisconnects() {
	if ObsDisconnects != nil {
		ObsDisconnects.Inc()
	}
}

// IncObsRequestTimeouts counts one request timeout.
func IncObsRequestTimeouts() {
	if ObsRequestTimeouts != nil {
		ObsRequestTimeouts.Inc()
	}
}

// IncObsKeepaliveFailures counts one failed keepalive probe.
func IncObsKeepaliveFailures() {
	if ObsKeepaliveFailures != nil {
		ObsKeepaliveFailures.Inc()
	}
}

// ObserveObsRequest records one completed request round trip.
func ObserveObsRequest(d time.Duration, ok bool) {
	if ObsRequests != nil {
		ObsRequests.Inc()
	}
	if !ok && ObsRequestsRejected != nil {
		ObsRequestsRejected.Inc()
	}
	if ObsRequestDuration != nil {
		ObsRequestDuration.Observe(d.Seconds())
	}
}

// IncHighlights records the outcome of one highlight operation.
func IncHighlights(ok bool) {
	if ok {
		if HighlightsSucceeded != nil {
			HighlightsSucceeded.Inc()
		}
		return
	}
	if HighlightsFailed != nil {
		HighlightsFailed.Inc()
	}
}

// SetConnected sets the session gauge to 1 when ready, else 0.
func SetConnected(ready bool) {
	if ObsConnectedGauge == nil {
		return
	}
	if ready {
		ObsConnectedGauge.Set(1)
	} else {
		ObsConnectedGauge.Set(0)
	}
}
