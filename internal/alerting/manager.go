// Package alerting turns threshold breaches into operator-visible alerts,
// scores system stability and produces periodic reports.
package alerting

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/history"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// Alert ids.
const (
	AlertCPU         = "cpu_high"
	AlertMemory      = "memory_high"
	AlertTemperature = "temperature_high"
	AlertEfficiency  = "efficiency_low"
	loopAlertPrefix  = "loop:"
)

// LoopAlertID returns the id of the alert raised for a failing loop.
func LoopAlertID(loop string) string {
	return loopAlertPrefix + loop
}

// check describes one threshold pair. A high check breaches when the value
// rises to warning; a low check when it falls below warning.
type check struct {
	id       string
	title    string
	unit     string
	value    float64
	warning  float64
	critical float64
	low      bool
}

// Manager owns the active alert map.
type Manager struct {
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu         sync.Mutex
	thresholds models.Thresholds
	active     map[string]*models.Alert
	raised     *history.Ring[models.Alert]
	resolved   *history.Ring[models.Alert]
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches Prometheus telemetry.
func WithMetrics(t *telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = t }
}

// NewManager creates a manager keeping at most historySize resolved and
// raised alerts.
func NewManager(thresholds models.Thresholds, historySize int, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if historySize <= 0 {
		historySize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:     logger.Named("alerting"),
		now:        time.Now,
		thresholds: thresholds,
		active:     make(map[string]*models.Alert),
		raised:     history.New[models.Alert](historySize),
		resolved:   history.New[models.Alert](historySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetThresholds replaces the thresholds used by the next Evaluate.
func (m *Manager) SetThresholds(t models.Thresholds) {
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
}

// Thresholds returns the thresholds in use.
func (m *Manager) Thresholds() models.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Evaluate checks the snapshot and scores against the thresholds, raising,
// refreshing and resolving alerts. It returns alerts raised by this call.
// A missing temperature or missing scores leave their alerts untouched.
func (m *Manager) Evaluate(snap models.ResourceSnapshot, scores *models.EfficiencyScores) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	th := m.thresholds
	checks := []check{
		{id: AlertCPU, title: "High CPU usage", unit: "%", value: snap.CPUPercent, warning: th.CPUWarning, critical: th.CPUCritical},
		{id: AlertMemory, title: "High memory usage", unit: "%", value: snap.MemoryPercent, warning: th.MemoryWarning, critical: th.MemoryCritical},
	}
	if snap.Temperature != nil {
		checks = append(checks, check{id: AlertTemperature, title: "High temperature", unit: "°C",
			value: *snap.Temperature, warning: th.TemperatureWarning, critical: th.TemperatureCritical})
	}
	if scores != nil {
		checks = append(checks, check{id: AlertEfficiency, title: "Low system efficiency", value: scores.Overall,
			warning: th.EfficiencyWarning, critical: th.EfficiencyWarning / 2, low: true})
	}

	var raised []models.Alert
	for _, c := range checks {
		if a, ok := m.apply(c); ok {
			raised = append(raised, a)
		}
	}
	m.metrics.SetActiveAlerts(len(m.active))
	return raised
}

// apply runs one check through the alert state machine. An active alert,
// critical or not, resolves only once the value drops below the warning
// threshold. Must be called with m.mu held.
func (m *Manager) apply(c check) (models.Alert, bool) {
	now := m.now()
	level, threshold := c.classify()
	a, exists := m.active[c.id]

	if !exists {
		if level == "" {
			return models.Alert{}, false
		}
		a = &models.Alert{
			ID:        c.id,
			Level:     level,
			Title:     c.title,
			Message:   c.message(level, threshold),
			Timestamp: now,
			UpdatedAt: now,
			Value:     c.value,
			Threshold: threshold,
		}
		m.active[c.id] = a
		m.raised.Push(*a)
		m.logger.Warn("Alert raised",
			zap.String("id", a.ID),
			zap.String("level", string(a.Level)),
			zap.Float64("value", c.value),
			zap.Float64("threshold", threshold))
		return *a, true
	}

	if level == "" {
		m.resolveLocked(a, now)
		return models.Alert{}, false
	}

	a.Value = c.value
	a.UpdatedAt = now
	if level == models.AlertCritical && a.Level != models.AlertCritical {
		a.Level = models.AlertCritical
		a.Threshold = threshold
		a.Acknowledged = false
		m.logger.Warn("Alert escalated", zap.String("id", a.ID), zap.Float64("value", c.value))
	}
	a.Message = c.message(a.Level, a.Threshold)
	return models.Alert{}, false
}

// classify returns the breached level and its threshold, or "" when the
// value is inside the normal band.
func (c check) classify() (models.AlertLevel, float64) {
	if c.low {
		switch {
		case c.value < c.critical:
			return models.AlertCritical, c.critical
		case c.value < c.warning:
			return models.AlertWarning, c.warning
		}
		return "", 0
	}
	switch {
	case c.value >= c.critical:
		return models.AlertCritical, c.critical
	case c.value >= c.warning:
		return models.AlertWarning, c.warning
	}
	return "", 0
}

func (c check) message(level models.AlertLevel, threshold float64) string {
	direction := "above"
	if c.low {
		direction = "below"
	}
	return fmt.Sprintf("%s: %.1f%s is %s the %s threshold of %.1f%s",
		c.title, c.value, c.unit, direction, level, threshold, c.unit)
}

// RaiseLoopFailure raises or refreshes the critical alert of a failing loop.
func (m *Manager) RaiseLoopFailure(loop string, failures int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := LoopAlertID(loop)
	msg := fmt.Sprintf("Loop %s failed %d consecutive times: %v", loop, failures, err)
	if a, ok := m.active[id]; ok {
		a.Message = msg
		a.Value = float64(failures)
		a.UpdatedAt = now
		return
	}

	a := &models.Alert{
		ID:        id,
		Level:     models.AlertCritical,
		Title:     fmt.Sprintf("Control loop %s failing", loop),
		Message:   msg,
		Timestamp: now,
		UpdatedAt: now,
		Value:     float64(failures),
	}
	m.active[id] = a
	m.raised.Push(*a)
	m.metrics.SetActiveAlerts(len(m.active))
	m.logger.Error("Loop alert raised", zap.String("loop", loop), zap.Int("failures", failures), zap.Error(err))
}

// ResolveLoop resolves the alert of a loop that recovered.
func (m *Manager) ResolveLoop(loop string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.active[LoopAlertID(loop)]; ok {
		m.resolveLocked(a, m.now())
		m.metrics.SetActiveAlerts(len(m.active))
	}
}

func (m *Manager) resolveLocked(a *models.Alert, now time.Time) {
	a.AutoResolved = true
	a.ResolvedAt = &now
	a.UpdatedAt = now
	delete(m.active, a.ID)
	m.resolved.Push(*a)
	m.logger.Info("Alert resolved", zap.String("id", a.ID))
}

// Acknowledge marks an active alert as seen by an operator.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok {
		return errs.NotFound("alert %q", id)
	}
	a.Acknowledged = true
	return nil
}

// Active returns copies of the active alerts, critical first, then by id.
func (m *Manager) Active() []models.Alert {
	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level == models.AlertCritical
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of active alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// History returns the newest n resolved alerts, oldest first.
func (m *Manager) History(n int) []models.Alert {
	return m.resolved.Last(n)
}

// RaisedSince counts alerts raised at or after t. Loop alerts are
// counted when includeLoops is set.
func (m *Manager) RaisedSince(t time.Time, includeLoops bool) int {
	n := 0
	for _, a := range m.raised.Snapshot() {
		if a.Timestamp.Before(t) {
			continue
		}
		if !includeLoops && strings.HasPrefix(a.ID, loopAlertPrefix) {
			continue
		}
		n++
	}
	return n
}
