package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSumsFamilies(t *testing.T) {
	m := New()
	m.IncFetch("coinbase", "ok")
	m.IncFetch("kraken", "ok")
	m.IncFetch("kraken", "error")
	m.IncCacheHit()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	snap := m.Snapshot()
	assert.Equal(t, 3.0, snap["quoterelay_upstream_fetches_total"])
	assert.Equal(t, 1.0, snap["quoterelay_price_cache_hits_total"])
	assert.Equal(t, 1.0, snap["quoterelay_ws_connections"])
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncFetch("coinbase", "ok")
		m.ObserveFetch("coinbase", 0.1)
		m.IncCacheHit()
		m.IncCacheMiss()
		m.IncCoalesced()
		m.IncAccepted()
		m.IncRejected("auth")
		m.IncFrame("EVENT")
		m.IncRequest("ok")
		m.ConnOpened()
		m.ConnClosed()
	})
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.IncRequest("ok")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "quoterelay_price_requests_total")
}
