package telemetry

import (
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if ObsReconnects == nil {
		t.Error("ObsReconnects counter not initialized")
	}
	if ObsRequestDuration == nil {
		t.Error("ObsRequestDuration histogram not initialized")
	}
	if ObsConnectedGauge == nil {
		t.Error("ObsConnectedGauge not initialized")
	}
}

func TestHelpersNilSafeBeforeInit(t *testing.T) {
	// Helpers must not panic even if a metric is nil; exercise them after
	// Init too, since tests share the registry.
	IncObsReconnects()
	IncObsDisconnects()
	IncObsRequestTimeouts()
	IncObsKeepaliveFailures()
	ObserveObsRequest(120*time.Millisecond, true)
	ObserveObsRequest(time.Second, false)
	IncHighlights(true)
	IncHighlights(false)
	SetConnected(true)
	SetConnected(false)
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(t.Context(), "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want %q", got, "abc-123")
	}
	if got := GetCorrelation(t.Context()); got != "" {
		t.Errorf("GetCorrelation on bare context = %q, want empty", got)
	}
}
