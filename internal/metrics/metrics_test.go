package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveHTTP("/api/recent", 200, 20*time.Millisecond)
	m.ObserveHTTP("/api/recent", 200, 30*time.Millisecond)
	m.ObserveHTTP("/api/diff", 502, time.Second)
	m.ObserveUpstream("recentchanges", nil, time.Second)
	m.ObserveUpstream("recentchanges", errors.New("timeout"), time.Second)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.ClientJoined()
	m.ClientJoined()
	m.ClientLeft(true)
	m.EventRelayed()
	m.RelayReconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/recent", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/diff", "502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("recentchanges", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayReconnects))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/", 200, time.Millisecond)
	m.CacheLookup(true)
	m.ClientJoined()
	m.ClientLeft(false)
	m.EventRelayed()
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.EventRelayed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "edisco_stream_events_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
