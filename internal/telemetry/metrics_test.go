package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/models"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSnapshot(models.ResourceSnapshot{})
		m.ObserveDecision(models.AllocationDecision{})
		m.ApplyFailed("vision")
		m.SetMode(models.ModeIdle)
	})
}

func TestMetrics_CountsDecisions(t *testing.T) {
	m := New()
	m.ObserveDecision(models.AllocationDecision{ResourceType: models.ResourceCPU, Applied: true})
	m.ObserveDecision(models.AllocationDecision{ResourceType: models.ResourceCPU, Applied: true})
	m.ObserveDecision(models.AllocationDecision{ResourceType: models.ResourceMemory, Applied: false})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("cpu", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("memory", "false")))
}

func TestMetrics_ModeGauge(t *testing.T) {
	m := New()
	m.SetMode(models.ModeMowing)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationModeInfo.WithLabelValues("mowing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.operationModeInfo.WithLabelValues("idle")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetStability(87)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rescontrol_stability_score 87"))
}
