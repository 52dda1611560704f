package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/alerting"
	"github.com/vitalis-app/rescontrol/internal/applier"
	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/prediction"
)

type scriptedSampler struct {
	mu    sync.Mutex
	clock *testClock
	cpu   float64
	mem   float64
	temp  *float64
}

func (s *scriptedSampler) set(cpu, mem float64) {
	s.mu.Lock()
	s.cpu, s.mem = cpu, mem
	s.mu.Unlock()
}

func (s *scriptedSampler) Sample(context.Context) models.ResourceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ResourceSnapshot{
		Timestamp:     s.clock.Now(),
		CPUPercent:    s.cpu,
		MemoryPercent: s.mem,
		LoadAverage:   [3]float64{1, 1, 1},
		Temperature:   s.temp,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memSpool struct {
	mu      sync.Mutex
	reports []models.Report
}

func (s *memSpool) Store(r models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Services = []models.ServiceResourceProfile{
		{Name: "safety_monitor", BaseLimits: models.ResourceLimits{CPUPercent: 20, MemoryMB: 512}, Priority: 1, Critical: true, Adaptive: true},
		{
			Name:       "vision",
			BaseLimits: models.ResourceLimits{CPUPercent: 30, MemoryMB: 2048},
			Priority:   3,
			Adaptive:   true,
			ModeOverrides: map[models.OperationMode]models.ResourceLimits{
				models.ModeMowing: {CPUPercent: 50, MemoryMB: 3072},
			},
		},
		{Name: "telemetry_uploader", BaseLimits: models.ResourceLimits{CPUPercent: 5, MemoryMB: 256}, Priority: 9, Adaptive: true},
	}
	return cfg
}

type fixture struct {
	ctrl     *Controller
	sampler  *scriptedSampler
	clock    *testClock
	applier  *applier.Counting
	spool    *memSpool
	provider *config.FileProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sampler := &scriptedSampler{clock: clock, cpu: 50, mem: 50}
	provider, err := config.NewStaticProvider(testConfig())
	require.NoError(t, err)
	counting := applier.NewCounting(applier.NewLogApplier(nil))
	spool := &memSpool{}

	ctrl, err := New(Deps{
		Provider:    provider,
		Sampler:     sampler,
		Applier:     counting,
		Spool:       spool,
		Clock:       clock.Now,
		MaxMemoryMB: 8192,
	})
	require.NoError(t, err)
	return &fixture{ctrl: ctrl, sampler: sampler, clock: clock, applier: counting, spool: spool, provider: provider}
}

// step runs every loop once and advances the clock by one second.
func (f *fixture) step(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ctrl.sampleTick(ctx))
	require.NoError(t, f.ctrl.allocateTick(ctx))
	require.NoError(t, f.ctrl.automationTick(ctx))
	f.clock.Advance(time.Second)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Services = nil
	provider := &staticProvider{cfg: cfg}

	_, err := New(Deps{Provider: provider, Sampler: &scriptedSampler{}, Applier: applier.NewLogApplier(nil)})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))

	_, err = New(Deps{})
	assert.True(t, errs.IsConfiguration(err))
}

type staticProvider struct{ cfg *config.Config }

func (p *staticProvider) Config() *config.Config                              { return p.cfg }
func (p *staticProvider) GetServiceProfiles() []models.ServiceResourceProfile { return p.cfg.Services }
func (p *staticProvider) GetThresholds() models.Thresholds                    { return p.cfg.Thresholds }
func (p *staticProvider) Subscribe(func(*config.Config))                      {}

func TestTicksBeforeFirstSampleAreNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.ctrl.allocateTick(ctx))
	assert.NoError(t, f.ctrl.automationTick(ctx))
	assert.NoError(t, f.ctrl.reportTick(ctx))
	_, ok := f.ctrl.LatestReport()
	assert.False(t, ok)
}

func TestHighCPUReducesNonCriticalAndRaisesAlert(t *testing.T) {
	f := newFixture(t)
	f.sampler.set(92, 50)

	for i := 0; i < 6; i++ {
		f.step(t)
	}

	status := f.ctrl.GetCurrentStatus()
	assert.Less(t, status.Allocations["telemetry_uploader"].CPUPercent, 5.0)
	assert.Equal(t, 20.0, status.Allocations["safety_monitor"].CPUPercent)
	assert.Greater(t, status.CPUPressure, 0.3)
	require.NotNil(t, status.Snapshot)
	assert.Equal(t, 92.0, status.Snapshot.CPUPercent)
	require.NotNil(t, status.Efficiency)

	alerts := f.ctrl.GetActiveAlerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, alerting.AlertCPU, alerts[0].ID)
	assert.Equal(t, models.AlertCritical, alerts[0].Level)

	dash := f.ctrl.GetDashboardData()
	assert.NotEmpty(t, dash.Decisions)
	assert.NotEmpty(t, dash.Triggers)
	assert.Len(t, dash.Profiles, 3)
	assert.Len(t, dash.RecentSnapshots, 6)

	require.NoError(t, f.ctrl.AcknowledgeAlert(alerting.AlertCPU))
	assert.True(t, f.ctrl.GetActiveAlerts()[0].Acknowledged)
	assert.True(t, errs.IsNotFound(f.ctrl.AcknowledgeAlert("nope")))
}

func TestSetOperationMode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetOperationMode(models.ModeMowing))
	f.step(t)

	status := f.ctrl.GetCurrentStatus()
	assert.Equal(t, models.ModeMowing, status.Mode)
	assert.Equal(t, 50.0, status.Allocations["vision"].CPUPercent)
	assert.Equal(t, 3072.0, status.Allocations["vision"].MemoryMB)

	assert.True(t, errs.IsConfiguration(f.ctrl.SetOperationMode("racing")))
}

// minute samples one second apart for a minute, then runs the predict loop.
func (f *fixture) minute(t *testing.T) {
	t.Helper()
	for i := 0; i < 60; i++ {
		require.NoError(t, f.ctrl.sampleTick(context.Background()))
		f.clock.Advance(time.Second)
	}
	require.NoError(t, f.ctrl.predictTick(context.Background()))
}

func TestPrediction(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.ctrl.GetPrediction(prediction.MetricCPU, 15)
	require.NoError(t, err)
	assert.False(t, ok)

	for i := 0; i < 25; i++ {
		f.minute(t)
	}
	assert.Equal(t, 25, f.ctrl.predictor.Len(), "one predictor sample per predict tick")

	p, ok, err := f.ctrl.GetPrediction(prediction.MetricCPU, 15)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 50, p.PredictedValue, 1e-6)
	assert.Len(t, f.ctrl.GetDashboardData().Predictions, 6)

	_, _, err = f.ctrl.GetPrediction("gpu_percent", 15)
	assert.ErrorIs(t, err, errs.ErrUnknownMetric)
}

func TestPredictTickRecordsIntervalMean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.predictTick(ctx))
	assert.Equal(t, 0, f.ctrl.predictor.Len(), "nothing sampled yet")

	for i := 0; i < 60; i++ {
		if i == 30 {
			f.sampler.set(90, 50)
		}
		require.NoError(t, f.ctrl.sampleTick(ctx))
		f.clock.Advance(time.Second)
	}
	require.NoError(t, f.ctrl.predictTick(ctx))
	require.Equal(t, 1, f.ctrl.predictor.Len())
	_, ok, err := f.ctrl.GetPrediction(prediction.MetricCPU, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.ctrl.predictTick(ctx))
	assert.Equal(t, 1, f.ctrl.predictor.Len(), "no new samples, nothing recorded")

	for i := 0; i < 19; i++ {
		f.minute(t)
	}
	p, ok, err := f.ctrl.GetPrediction(prediction.MetricMemory, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50.0, p.CurrentValue)
	assert.Equal(t, 20, f.ctrl.predictor.Len())

	cpu, ok, err := f.ctrl.GetPrediction(prediction.MetricCPU, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 90.0, cpu.CurrentValue)
}

func TestReportTickGeneratesAndSpools(t *testing.T) {
	f := newFixture(t)
	f.step(t)

	require.NoError(t, f.ctrl.reportTick(context.Background()))
	report, ok := f.ctrl.LatestReport()
	require.True(t, ok)
	assert.NotEmpty(t, report.ID)
	require.Len(t, f.spool.reports, 1)

	// Not due again until the reporting interval has passed.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.ctrl.reportTick(context.Background()))
	assert.Len(t, f.spool.reports, 1)

	f.clock.Advance(15 * time.Minute)
	require.NoError(t, f.ctrl.reportTick(context.Background()))
	assert.Len(t, f.spool.reports, 2)
}

func TestLoopFailureRaisesAlert(t *testing.T) {
	f := newFixture(t)
	f.ctrl.alerts.RaiseLoopFailure(LoopPredict, 3, errors.New("boom"))

	alerts := f.ctrl.GetActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alerting.LoopAlertID(LoopPredict), alerts[0].ID)
	assert.Equal(t, 1, f.ctrl.GetCurrentStatus().ActiveAlerts)
}

func TestReloadAppliesThresholds(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Thresholds.CPUWarning = 95
	cfg.Thresholds.CPUCritical = 99
	cfg.Services = cfg.Services[:1]

	f.ctrl.onReload(cfg)
	assert.Equal(t, 95.0, f.ctrl.alerts.Thresholds().CPUWarning)
	assert.Len(t, f.ctrl.GetDashboardData().Profiles, 3)
}

func TestRunAppliesInitialLimitsAndStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.ctrl.GetCurrentStatus().Running }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.ctrl.GetCurrentStatus().HistorySize > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.GreaterOrEqual(t, f.applier.Stats().Applied, 3)
	assert.False(t, f.ctrl.GetCurrentStatus().Running)
}
