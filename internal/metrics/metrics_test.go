package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.BotsRunning.Inc()
	m.StartsTotal.WithLabelValues("ok").Inc()
	m.StartsTotal.WithLabelValues("ok").Inc()
	m.StartsTotal.WithLabelValues("veto").Inc()
	m.AbuseKills.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BotsRunning))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StartsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StartsTotal.WithLabelValues("veto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AbuseKills))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.StaticVetoes.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "bothive_radar_static_vetoes_total 1"), "expected veto counter in output:\n%s", body)
}

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	_ = NewMetrics()
	_ = NewMetrics()
}
