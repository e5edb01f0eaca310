package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRequest(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveRequest("duel", "waiting", time.Now())
	m.ObserveRequest("duel", "waiting", time.Now())
	m.ObserveRequest("duel", "matched", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("duel", "waiting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("duel", "matched")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("squad", "ok", time.Now())
		m.IncSquadsCreated("squad", 1)
		m.AddQueueExpired(3)
		m.AddProfilesSynced(2)
		m.StreamOpened()
		m.StreamClosed()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.IncSquadsCreated("1v1", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_squads_created_total{match_type="1v1"} 2`)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("test")
		NewMetrics("test")
	})
}
