package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)
	m.Add(RelayedOffers, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE vidmesh_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `vidmesh_relay_events_total{event="relayed_offers"} 2`) {
		t.Fatalf("missing relayed_offers counter: %s", body)
	}
	if !strings.Contains(body, `vidmesh_relay_events_total{event="rooms_created"} 1`) {
		t.Fatalf("missing rooms_created counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `vidmesh_relay_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc(RoomJoins)

	snap := m.Snapshot()
	snap[RoomJoins] = 99

	if got := m.Get(RoomJoins); got != 1 {
		t.Fatalf("Get(%q)=%d, want 1", RoomJoins, got)
	}
}
