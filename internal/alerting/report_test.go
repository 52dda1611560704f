package alerting

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/models"
)

type memSpool struct {
	reports []models.Report
	err     error
}

func (s *memSpool) Store(r models.Report) error {
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}

func TestStabilityScore(t *testing.T) {
	steady := make([]models.EfficiencyScores, 10)
	for i := range steady {
		steady[i] = models.EfficiencyScores{CPU: 80, Memory: 90}
	}
	assert.Equal(t, 100.0, StabilityScore(steady, 0))
	assert.Equal(t, 80.0, StabilityScore(steady, 2))
	assert.Equal(t, 0.0, StabilityScore(steady, 20))
	assert.Equal(t, 100.0, StabilityScore(nil, 0))

	swinging := []models.EfficiencyScores{{CPU: 0, Memory: 50}, {CPU: 100, Memory: 50}}
	assert.InDelta(t, 50, StabilityScore(swinging, 0), 1e-9)
}

func TestReasonKind(t *testing.T) {
	assert.Equal(t, "High CPU pressure", ReasonKind("High CPU pressure (0.73)"))
	assert.Equal(t, "Mode adaptation for mowing", ReasonKind("Mode adaptation for mowing"))
}

func TestReporter_Generate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	spool := &memSpool{}
	r := NewReporter(time.Hour, spool, nil, func() time.Time { return now })

	in := ReportInput{
		Mode: models.ModeMowing,
		Efficiency: []models.EfficiencyScores{
			{Timestamp: now.Add(-2 * time.Hour), CPU: 0, Memory: 0, Thermal: 0, Overall: 0},
			{Timestamp: now.Add(-30 * time.Minute), CPU: 40, Memory: 90, Thermal: 100, Overall: 70},
			{Timestamp: now.Add(-10 * time.Minute), CPU: 60, Memory: 100, Thermal: 100, Overall: 80},
		},
		Decisions: []models.AllocationDecision{
			{Timestamp: now.Add(-2 * time.Hour), Reason: "old", Applied: true},
			{Timestamp: now.Add(-time.Minute), Reason: "High CPU pressure (0.70)", Applied: true},
			{Timestamp: now.Add(-time.Minute), Reason: "High CPU pressure (0.90)", Applied: false},
		},
		Effectiveness: 90,
		Stability:     95,
		AlertsRaised:  2,
	}

	report, err := r.Generate(in)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, now.Add(-time.Hour), report.WindowStart)
	assert.Equal(t, models.Summary{Min: 40, Avg: 50, Max: 60}, report.Efficiency["cpu"])
	assert.Equal(t, 2, report.Decisions.Total)
	assert.Equal(t, 1, report.Decisions.Failed)
	assert.Equal(t, map[string]int{"High CPU pressure": 2}, report.Decisions.ByReason)
	assert.Len(t, report.Recommendations, 2)
	assert.Contains(t, report.Recommendations[0], "CPU efficiency")
	assert.Contains(t, report.Recommendations[1], "failed to apply")

	require.Len(t, spool.reports, 1)
	assert.Equal(t, report.ID, spool.reports[0].ID)
}

func TestReporter_SpoolError(t *testing.T) {
	r := NewReporter(time.Hour, &memSpool{err: errors.New("disk full")}, nil, nil)
	report, err := r.Generate(ReportInput{Effectiveness: 100, Stability: 100})
	require.Error(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Empty(t, report.Recommendations)
}
