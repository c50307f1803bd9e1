package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotShareState(t *testing.T) {
	a, b := New(), New()

	a.GossipOriginated.Inc()
	a.Probes.WithLabelValues(Result(errors.New("down"))).Inc()

	require.Equal(t, 1.0, testutil.ToFloat64(a.GossipOriginated))
	require.Equal(t, 0.0, testutil.ToFloat64(b.GossipOriginated))
	require.Equal(t, 1.0, testutil.ToFloat64(a.Probes.WithLabelValues("failure")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Members.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "seedmesh_registry_members 3")
	require.Contains(t, string(body), "seedmesh_uptime_seconds")
}
