// Package controller wires the sampler, allocation engine, analyzers,
// automation and alerting into a set of periodic loops and exposes the
// resulting state as plain data.
package controller

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/alerting"
	"github.com/vitalis-app/rescontrol/internal/allocation"
	"github.com/vitalis-app/rescontrol/internal/applier"
	"github.com/vitalis-app/rescontrol/internal/automation"
	"github.com/vitalis-app/rescontrol/internal/collector"
	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/efficiency"
	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/history"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/prediction"
	"github.com/vitalis-app/rescontrol/internal/scheduler"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// Loop names.
const (
	LoopSample     = "sample"
	LoopAllocate   = "allocate"
	LoopPredict    = "predict"
	LoopAutomation = "automation"
	LoopReport     = "report"
)

const (
	dashboardWindow  = 60
	dashboardRecent  = 20
	stabilityHistory = 10
)

// Sampler produces one snapshot per call.
type Sampler interface {
	Sample(ctx context.Context) models.ResourceSnapshot
}

// hostInfo is implemented by samplers that also report per-service usage.
type hostInfo interface {
	ServiceUsage() []collector.ServiceUsage
	Uptime() int
}

// Provider supplies configuration and reload notifications.
type Provider interface {
	Config() *config.Config
	GetServiceProfiles() []models.ServiceResourceProfile
	GetThresholds() models.Thresholds
	Subscribe(fn func(*config.Config))
}

// Deps are the collaborators of a Controller. Spool, Metrics, Logger and
// Clock are optional.
type Deps struct {
	Provider    Provider
	Sampler     Sampler
	Applier     applier.Applier
	Spool       alerting.Spool
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	MaxMemoryMB float64
	Verifier    automation.Verifier
}

// Controller is the adaptive resource control core.
type Controller struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	sampler  Sampler
	profiles []models.ServiceResourceProfile

	snapshots  *history.Ring[models.ResourceSnapshot]
	efficiency *history.Ring[models.EfficiencyScores]

	engine     *allocation.Engine
	analyzer   *efficiency.Analyzer
	predictor  *prediction.Analyzer
	automation *automation.Engine
	alerts     *alerting.Manager
	reporter   *alerting.Reporter
	scheduler  *scheduler.Scheduler

	mu            sync.RWMutex
	running       bool
	effectiveness float64
	stability     float64
	latestReport  *models.Report
	lastReportAt  time.Time
	lastPredictAt time.Time
}

// New builds a controller from the provider's configuration. Invalid
// policy is reported as an errs.ErrConfiguration error.
func New(d Deps) (*Controller, error) {
	if d.Provider == nil || d.Sampler == nil || d.Applier == nil {
		return nil, errs.Configuration("controller needs a provider, a sampler and an applier")
	}
	cfg := d.Provider.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := d.Clock
	if now == nil {
		now = time.Now
	}

	profiles := d.Provider.GetServiceProfiles()
	engineOpts := []allocation.Option{allocation.WithClock(now), allocation.WithMetrics(d.Metrics)}
	if d.MaxMemoryMB > 0 {
		engineOpts = append(engineOpts, allocation.WithMaxMemoryMB(d.MaxMemoryMB))
	}
	engine, err := allocation.NewEngine(cfg.Allocation, profiles, cfg.Mode, d.Applier, logger, engineOpts...)
	if err != nil {
		return nil, err
	}

	predictor, err := prediction.NewAnalyzer(cfg.Prediction, logger,
		prediction.WithClock(now), prediction.WithMetrics(d.Metrics))
	if err != nil {
		return nil, err
	}

	autoOpts := []automation.Option{automation.WithClock(now), automation.WithMetrics(d.Metrics)}
	if d.Verifier != nil {
		autoOpts = append(autoOpts, automation.WithVerifier(d.Verifier))
	}
	auto, err := automation.NewEngine(cfg.Rules, engine, logger, autoOpts...)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		logger:     logger.Named("controller"),
		metrics:    d.Metrics,
		now:        now,
		sampler:    d.Sampler,
		profiles:   profiles,
		snapshots:  history.New[models.ResourceSnapshot](cfg.Loops.HistoryCapacity),
		efficiency: history.New[models.EfficiencyScores](cfg.Loops.HistoryCapacity),
		engine:     engine,
		analyzer:   efficiency.NewAnalyzer(cfg.Efficiency),
		predictor:  predictor,
		automation: auto,
		alerts: alerting.NewManager(d.Provider.GetThresholds(), cfg.Reporting.AlertHistory, logger,
			alerting.WithClock(now), alerting.WithMetrics(d.Metrics)),
		reporter:      alerting.NewReporter(cfg.Reporting.Window.Duration, d.Spool, logger, now),
		scheduler:     scheduler.New(cfg.Loops.FailureThreshold, logger, scheduler.WithMetrics(d.Metrics)),
		effectiveness: 100,
		stability:     100,
	}

	if err := c.registerLoops(); err != nil {
		return nil, err
	}
	c.scheduler.OnLoopFailure(c.alerts.RaiseLoopFailure)
	c.scheduler.OnLoopRecovered(c.alerts.ResolveLoop)
	d.Provider.Subscribe(c.onReload)
	return c, nil
}

func (c *Controller) registerLoops() error {
	loops := []scheduler.Loop{
		{Name: LoopSample, Interval: c.cfg.Loops.Sample.Duration, Timeout: c.cfg.Sampling.Timeout.Duration + time.Second, Tick: c.sampleTick},
		{Name: LoopAllocate, Interval: c.cfg.Loops.Allocate.Duration, Tick: c.allocateTick},
		{Name: LoopPredict, Interval: c.cfg.Loops.Predict.Duration, Tick: c.predictTick},
		{Name: LoopAutomation, Interval: c.cfg.Loops.Automation.Duration, Tick: c.automationTick},
		{Name: LoopReport, Interval: c.cfg.Loops.Report.Duration, Tick: c.reportTick},
	}
	for _, l := range loops {
		if err := c.scheduler.Add(l); err != nil {
			return err
		}
	}
	return nil
}

// Run applies the starting limits and runs all loops until ctx is
// cancelled. Each loop finishes its current tick before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.engine.ApplyInitial(ctx); err != nil {
		c.logger.Warn("Some starting limits could not be applied", zap.Error(err))
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.logger.Info("Controller started",
		zap.String("mode", string(c.engine.Mode())),
		zap.Int("services", len(c.profiles)))

	c.scheduler.Run(ctx)

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.logger.Info("Controller stopped")
	return nil
}

func (c *Controller) sampleTick(ctx context.Context) error {
	snap := c.sampler.Sample(ctx)
	c.snapshots.Push(snap)
	c.metrics.ObserveSnapshot(snap)
	return nil
}

func (c *Controller) allocateTick(ctx context.Context) error {
	snaps := c.snapshots.Last(dashboardWindow)
	if len(snaps) == 0 {
		return nil
	}
	c.engine.Tick(ctx, snaps)

	scores, ok := c.analyzer.Scores(snaps)
	if ok {
		c.efficiency.Push(scores)
		c.metrics.ObserveEfficiency(scores)
	}
	eff := c.analyzer.Effectiveness(c.engine.Decisions(c.cfg.Efficiency.EffectivenessWindow))
	c.metrics.SetEffectiveness(eff)

	c.mu.Lock()
	c.effectiveness = eff
	c.mu.Unlock()
	return nil
}

// predictTick condenses the control history gathered since the previous
// tick into one sample for the predictor, then refreshes the forecasts.
func (c *Controller) predictTick(context.Context) error {
	c.mu.Lock()
	since := c.lastPredictAt
	var fresh []models.ResourceSnapshot
	for _, s := range c.snapshots.Snapshot() {
		if s.Timestamp.After(since) {
			fresh = append(fresh, s)
		}
	}
	if mean, ok := prediction.MeanSnapshot(fresh); ok {
		c.lastPredictAt = mean.Timestamp
		c.mu.Unlock()
		c.predictor.Record(mean)
	} else {
		c.mu.Unlock()
	}

	preds := c.predictor.Refresh()
	c.logger.Debug("Predictions refreshed", zap.Int("count", len(preds)))
	return nil
}

func (c *Controller) automationTick(ctx context.Context) error {
	snap, ok := c.snapshots.Newest()
	if !ok {
		return nil
	}
	scores, hasScores := c.efficiency.Newest()

	var scoresPtr *models.EfficiencyScores
	if hasScores {
		scoresPtr = &scores
	}
	c.alerts.Evaluate(snap, scoresPtr)

	c.automation.Evaluate(ctx, automation.Input{
		Snapshot:  snap,
		Scores:    scores,
		HasScores: hasScores,
		History:   c.snapshots.Last(dashboardWindow),
	})

	stability := alerting.StabilityScore(c.efficiency.Last(stabilityHistory), c.alerts.ActiveCount())
	c.metrics.SetStability(stability)
	c.mu.Lock()
	c.stability = stability
	c.mu.Unlock()
	return nil
}

func (c *Controller) reportTick(context.Context) error {
	c.mu.RLock()
	due := c.now().Sub(c.lastReportAt) >= c.cfg.Reporting.Interval.Duration
	c.mu.RUnlock()

	status := c.GetCurrentStatus()
	c.logger.Debug("Dashboard refreshed",
		zap.Float64("stability", status.Stability),
		zap.Float64("effectiveness", status.Effectiveness),
		zap.Int("active_alerts", status.ActiveAlerts))

	if !due || c.snapshots.Len() == 0 {
		return nil
	}
	_, err := c.GenerateReport()
	return err
}

// GenerateReport builds a report over the reporting window now.
func (c *Controller) GenerateReport() (models.Report, error) {
	c.mu.RLock()
	eff, stab := c.effectiveness, c.stability
	c.mu.RUnlock()

	start := c.now().Add(-c.reporter.Window())
	triggers := 0
	for _, t := range c.automation.Triggers(-1) {
		if !t.Timestamp.Before(start) {
			triggers++
		}
	}

	report, err := c.reporter.Generate(alerting.ReportInput{
		Mode:          c.engine.Mode(),
		Efficiency:    c.efficiency.Snapshot(),
		Decisions:     c.engine.Decisions(-1),
		Effectiveness: eff,
		Stability:     stab,
		AlertsRaised:  c.alerts.RaisedSince(start, true),
		ActiveAlerts:  c.alerts.ActiveCount(),
		RuleTriggers:  triggers,
	})

	c.mu.Lock()
	c.latestReport = &report
	c.lastReportAt = report.GeneratedAt
	c.mu.Unlock()
	return report, err
}

// onReload applies live-reloadable settings. Service profiles are fixed
// for the process lifetime.
func (c *Controller) onReload(cfg *config.Config) {
	c.alerts.SetThresholds(cfg.Thresholds)
	c.logger.Info("Thresholds reloaded")

	if !reflect.DeepEqual(cfg.Services, c.cfg.Services) {
		c.logger.Warn("Service profile changes are ignored until restart")
	}
}

// GetCurrentStatus returns the latest state.
func (c *Controller) GetCurrentStatus() Status {
	snaps := c.snapshots.Last(dashboardWindow)
	cpuP, memP := c.engine.Pressure(snaps)

	c.mu.RLock()
	st := Status{
		Timestamp:     c.now(),
		Running:       c.running,
		Effectiveness: c.effectiveness,
		Stability:     c.stability,
	}
	c.mu.RUnlock()

	st.Mode = c.engine.Mode()
	st.CPUPressure = cpuP
	st.MemPressure = memP
	st.Allocations = c.engine.Allocations()
	st.ActiveAlerts = c.alerts.ActiveCount()
	st.HistorySize = c.snapshots.Len()
	if len(snaps) > 0 {
		s := snaps[len(snaps)-1]
		st.Snapshot = &s
	}
	if scores, ok := c.efficiency.Newest(); ok {
		st.Efficiency = &scores
	}
	if info, ok := c.sampler.(hostInfo); ok {
		st.UptimeSeconds = info.Uptime()
		st.Services = info.ServiceUsage()
	}
	return st
}

// GetDashboardData returns the status plus recent history.
func (c *Controller) GetDashboardData() Dashboard {
	return Dashboard{
		Status:          c.GetCurrentStatus(),
		RecentSnapshots: c.snapshots.Last(dashboardWindow),
		Efficiency:      c.efficiency.Last(dashboardWindow),
		Decisions:       c.engine.Decisions(dashboardRecent),
		Predictions:     c.predictor.Cached(),
		Alerts:          c.alerts.Active(),
		Triggers:        c.automation.Triggers(dashboardRecent),
		Rules:           c.automation.Rules(),
		Profiles:        c.engine.Profiles(),
	}
}

// GetActiveAlerts returns the active alerts.
func (c *Controller) GetActiveAlerts() []models.Alert {
	return c.alerts.Active()
}

// GetPrediction forecasts metric horizonMinutes ahead. It returns false
// when there is not enough history yet.
func (c *Controller) GetPrediction(metric string, horizonMinutes int) (models.PerformancePrediction, bool, error) {
	return c.predictor.Predict(metric, horizonMinutes)
}

// SetOperationMode switches the mode; the next allocation tick applies
// the mode overrides.
func (c *Controller) SetOperationMode(mode models.OperationMode) error {
	return c.engine.SetOperationMode(mode)
}

// AcknowledgeAlert marks an alert as seen.
func (c *Controller) AcknowledgeAlert(id string) error {
	return c.alerts.Acknowledge(id)
}

// LatestReport returns the most recent report, if any.
func (c *Controller) LatestReport() (models.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latestReport == nil {
		return models.Report{}, false
	}
	return *c.latestReport, true
}

// SetRuleEnabled enables or disables an automation rule.
func (c *Controller) SetRuleEnabled(id string, enabled bool) error {
	return c.automation.SetEnabled(id, enabled)
}
