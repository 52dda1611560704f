// Package telemetry exposes the control loop's internal state as Prometheus
// metrics on a dedicated registry. All methods are safe on a nil *Metrics,
// which lets components run without telemetry in tests.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalis-app/rescontrol/internal/models"
)

const namespace = "rescontrol"

// Metrics holds every collector registered by the controller.
type Metrics struct {
	registry *prometheus.Registry

	resourceUsage     *prometheus.GaugeVec
	efficiency        *prometheus.GaugeVec
	stability         prometheus.Gauge
	effectiveness     prometheus.Gauge
	allocation        *prometheus.GaugeVec
	prediction        *prometheus.GaugeVec
	activeAlerts      prometheus.Gauge
	decisions         *prometheus.CounterVec
	applyFailures     *prometheus.CounterVec
	ruleTriggers      *prometheus.CounterVec
	samplingFailures  *prometheus.CounterVec
	loopFailures      *prometheus.CounterVec
	loopPanics        *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
	operationModeInfo *prometheus.GaugeVec
}

// New creates the metrics on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(registry)
	return &Metrics{
		registry: registry,
		resourceUsage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_usage",
			Help:      "Latest sampled system resource usage (percent, °C or load)",
		}, []string{"resource"}),
		efficiency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "efficiency_score",
			Help:      "Efficiency score per dimension (0-100)",
		}, []string{"dimension"}),
		stability: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stability_score",
			Help:      "System stability score (0-100)",
		}),
		effectiveness: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptation_effectiveness",
			Help:      "Effectiveness of recent allocation decisions (0-100)",
		}),
		allocation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_allocation",
			Help:      "Current per-service allocation (cpu percent or memory MB)",
		}, []string{"service", "resource"}),
		prediction: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predicted_value",
			Help:      "Ensemble forecast per metric and horizon",
		}, []string{"metric", "horizon_minutes"}),
		activeAlerts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Number of active alerts",
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_decisions_total",
			Help:      "Allocation decisions by resource and outcome",
		}, []string{"resource", "applied"}),
		applyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Limit applier failures by service",
		}, []string{"service"}),
		ruleTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_triggers_total",
			Help:      "Automation rule executions by rule and outcome",
		}, []string{"rule", "success"}),
		samplingFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_failures_total",
			Help:      "Collector failures by collector",
		}, []string{"collector"}),
		loopFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_failures_total",
			Help:      "Failed loop ticks by loop",
		}, []string{"loop"}),
		loopPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_panics_total",
			Help:      "Recovered panics by loop",
		}, []string{"loop"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of loop ticks",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}, []string{"loop"}),
		operationModeInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_mode",
			Help:      "Current operation mode (1=active, 0=inactive)",
		}, []string{"mode"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSnapshot records the latest sample.
func (m *Metrics) ObserveSnapshot(s models.ResourceSnapshot) {
	if m == nil {
		return
	}
	m.resourceUsage.WithLabelValues("cpu").Set(s.CPUPercent)
	m.resourceUsage.WithLabelValues("memory").Set(s.MemoryPercent)
	m.resourceUsage.WithLabelValues("load1").Set(s.LoadAverage[0])
	if s.Temperature != nil {
		m.resourceUsage.WithLabelValues("temperature").Set(*s.Temperature)
	}
}

// ObserveEfficiency records efficiency scores.
func (m *Metrics) ObserveEfficiency(s models.EfficiencyScores) {
	if m == nil {
		return
	}
	m.efficiency.WithLabelValues("cpu").Set(s.CPU)
	m.efficiency.WithLabelValues("memory").Set(s.Memory)
	m.efficiency.WithLabelValues("load_balance").Set(s.LoadBalance)
	m.efficiency.WithLabelValues("thermal").Set(s.Thermal)
	m.efficiency.WithLabelValues("overall").Set(s.Overall)
}

// SetStability records the stability score.
func (m *Metrics) SetStability(score float64) {
	if m == nil {
		return
	}
	m.stability.Set(score)
}

// SetEffectiveness records the adaptation effectiveness score.
func (m *Metrics) SetEffectiveness(score float64) {
	if m == nil {
		return
	}
	m.effectiveness.Set(score)
}

// SetAllocation records a service's current limits.
func (m *Metrics) SetAllocation(service string, limits models.ResourceLimits) {
	if m == nil {
		return
	}
	m.allocation.WithLabelValues(service, string(models.ResourceCPU)).Set(limits.CPUPercent)
	m.allocation.WithLabelValues(service, string(models.ResourceMemory)).Set(limits.MemoryMB)
}

// ObserveDecision counts one allocation decision.
func (m *Metrics) ObserveDecision(d models.AllocationDecision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.ResourceType), strconv.FormatBool(d.Applied)).Inc()
}

// ApplyFailed counts a limit applier failure.
func (m *Metrics) ApplyFailed(service string) {
	if m == nil {
		return
	}
	m.applyFailures.WithLabelValues(service).Inc()
}

// RuleTriggered counts an automation rule execution.
func (m *Metrics) RuleTriggered(ruleID string, success bool) {
	if m == nil {
		return
	}
	m.ruleTriggers.WithLabelValues(ruleID, strconv.FormatBool(success)).Inc()
}

// SamplingFailed counts a collector failure.
func (m *Metrics) SamplingFailed(collector string) {
	if m == nil {
		return
	}
	m.samplingFailures.WithLabelValues(collector).Inc()
}

// LoopFailed counts a failed tick.
func (m *Metrics) LoopFailed(loop string) {
	if m == nil {
		return
	}
	m.loopFailures.WithLabelValues(loop).Inc()
}

// LoopPanicked counts a recovered panic.
func (m *Metrics) LoopPanicked(loop string) {
	if m == nil {
		return
	}
	m.loopPanics.WithLabelValues(loop).Inc()
}

// ObserveTick records a tick's duration.
func (m *Metrics) ObserveTick(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// SetActiveAlerts records the active alert count.
func (m *Metrics) SetActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.activeAlerts.Set(float64(n))
}

// ObservePrediction records a forecast.
func (m *Metrics) ObservePrediction(p models.PerformancePrediction) {
	if m == nil {
		return
	}
	m.prediction.WithLabelValues(p.Metric, strconv.Itoa(p.HorizonMinutes)).Set(p.PredictedValue)
}

// SetMode marks the active operation mode.
func (m *Metrics) SetMode(mode models.OperationMode) {
	if m == nil {
		return
	}
	for _, known := range models.AllModes() {
		value := 0.0
		if known == mode {
			value = 1
		}
		m.operationModeInfo.WithLabelValues(string(known)).Set(value)
	}
}
