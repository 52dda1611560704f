// Package prediction forecasts CPU and memory usage a few minutes ahead by
// blending four simple estimators.
package prediction

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/history"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// Supported metrics.
const (
	MetricCPU    = "cpu_percent"
	MetricMemory = "memory_percent"
)

// Estimator names and weights.
const (
	ModelLinear   = "linear_trend"
	ModelEMA      = "exponential_moving_average"
	ModelSeasonal = "seasonal"
	ModelWorkload = "workload_based"

	weightLinear   = 0.7
	weightEMA      = 0.6
	weightSeasonal = 0.8
	weightWorkload = 0.75

	trendWindow   = 20
	recentWindow  = 10
	sampleSpacing = 5.0 // minutes between samples assumed by the trend fit
	emaAlpha      = 0.3
)

// Metrics lists the metrics Predict accepts.
func Metrics() []string {
	return []string{MetricCPU, MetricMemory}
}

type cacheKey struct {
	metric  string
	horizon int
}

type estimate struct {
	model  string
	weight float64
	value  float64
}

// Analyzer keeps a long history and an hour-of-day table per metric.
type Analyzer struct {
	cfg     config.PredictionConfig
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	history *history.Ring[models.ResourceSnapshot]

	mu       sync.Mutex
	seasonal map[string]*hourlySeries
	cache    map[cacheKey]models.PerformancePrediction
}

// hourlySeries aggregates samples into one mean per wall-clock hour and
// keeps the last n hourly means per hour of day.
type hourlySeries struct {
	buckets [24][]float64
	slot    time.Time // start of the hour being accumulated
	sum     float64
	count   int
}

func (h *hourlySeries) add(at time.Time, v float64, n int) {
	slot := at.Truncate(time.Hour)
	if h.count > 0 && !slot.Equal(h.slot) {
		h.close(n)
	}
	if h.count == 0 {
		h.slot = slot
	}
	h.sum += v
	h.count++
}

func (h *hourlySeries) close(n int) {
	hour := h.slot.Hour()
	bucket := append(h.buckets[hour], h.sum/float64(h.count))
	if n > 0 && len(bucket) > n {
		bucket = bucket[len(bucket)-n:]
	}
	h.buckets[hour] = bucket
	h.sum, h.count = 0, 0
}

// values returns the closed means for hour plus the running mean when the
// open slot falls in that hour.
func (h *hourlySeries) values(hour int) []float64 {
	out := append([]float64(nil), h.buckets[hour]...)
	if h.count > 0 && h.slot.Hour() == hour {
		out = append(out, h.sum/float64(h.count))
	}
	return out
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithMetrics attaches Prometheus telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// NewAnalyzer creates an analyzer. The history capacity must be positive.
func NewAnalyzer(cfg config.PredictionConfig, logger *zap.Logger, opts ...Option) (*Analyzer, error) {
	if cfg.Capacity <= 0 {
		return nil, errs.Configuration("prediction capacity must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		cfg:     cfg,
		logger:  logger.Named("prediction"),
		now:     time.Now,
		history: history.New[models.ResourceSnapshot](cfg.Capacity),
		seasonal: map[string]*hourlySeries{
			MetricCPU:    {},
			MetricMemory: {},
		},
		cache: make(map[cacheKey]models.PerformancePrediction),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Record adds one sample to the history and to the running mean of its
// hour. Samples are expected at the analyzer's own cadence; see
// MeanSnapshot for condensing control-loop history.
func (a *Analyzer) Record(s models.ResourceSnapshot) {
	a.history.Push(s)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, metric := range Metrics() {
		v, _ := metricValue(s, metric)
		a.seasonal[metric].add(s.Timestamp, v, a.cfg.SeasonalSamples)
	}
}

// MeanSnapshot condenses snaps into one snapshot stamped with the newest
// timestamp. Percentages, memory and rates are averaged; temperature is
// averaged over the samples that carry one.
func MeanSnapshot(snaps []models.ResourceSnapshot) (models.ResourceSnapshot, bool) {
	if len(snaps) == 0 {
		return models.ResourceSnapshot{}, false
	}
	var out models.ResourceSnapshot
	var temp float64
	var temps int
	for _, s := range snaps {
		out.CPUPercent += s.CPUPercent
		out.MemoryPercent += s.MemoryPercent
		out.MemoryMB += s.MemoryMB
		out.IOReadMBs += s.IOReadMBs
		out.IOWriteMBs += s.IOWriteMBs
		out.NetworkBytesS += s.NetworkBytesS
		for i := range out.LoadAverage {
			out.LoadAverage[i] += s.LoadAverage[i]
		}
		if s.Temperature != nil {
			temp += *s.Temperature
			temps++
		}
		if s.Timestamp.After(out.Timestamp) {
			out.Timestamp = s.Timestamp
		}
	}

	n := float64(len(snaps))
	out.CPUPercent /= n
	out.MemoryPercent /= n
	out.MemoryMB /= n
	out.IOReadMBs /= n
	out.IOWriteMBs /= n
	out.NetworkBytesS /= n
	for i := range out.LoadAverage {
		out.LoadAverage[i] /= n
	}
	if temps > 0 {
		t := temp / float64(temps)
		out.Temperature = &t
	}
	return out, true
}

// Len returns the number of snapshots held.
func (a *Analyzer) Len() int {
	return a.history.Len()
}

// Predict forecasts metric horizonMinutes ahead. With fewer than
// MinSamples snapshots it returns false and no error.
func (a *Analyzer) Predict(metric string, horizonMinutes int) (models.PerformancePrediction, bool, error) {
	if _, ok := metricValue(models.ResourceSnapshot{}, metric); !ok {
		return models.PerformancePrediction{}, false, fmt.Errorf("%q: %w", metric, errs.ErrUnknownMetric)
	}
	if horizonMinutes <= 0 {
		return models.PerformancePrediction{}, false, errs.InvalidArgument("horizon must be positive, got %d", horizonMinutes)
	}

	now := a.now()
	key := cacheKey{metric: metric, horizon: horizonMinutes}
	a.mu.Lock()
	cached, hit := a.cache[key]
	a.mu.Unlock()
	if hit && now.Sub(cached.GeneratedAt) < a.cfg.CacheTTL.Duration {
		return cached, true, nil
	}

	snaps := a.history.Snapshot()
	if len(snaps) < a.cfg.MinSamples || len(snaps) == 0 {
		return models.PerformancePrediction{}, false, nil
	}
	values := make([]float64, len(snaps))
	for i, s := range snaps {
		values[i], _ = metricValue(s, metric)
	}

	estimates := []estimate{
		{ModelLinear, weightLinear, linearTrend(values, horizonMinutes)},
		{ModelEMA, weightEMA, ema(values, emaAlpha)},
	}
	if v, ok := a.seasonalMedian(metric, now.Add(time.Duration(horizonMinutes)*time.Minute).Hour()); ok {
		estimates = append(estimates, estimate{ModelSeasonal, weightSeasonal, v})
	}
	estimates = append(estimates, estimate{ModelWorkload, weightWorkload, workloadEstimate(values)})

	var sum, weights float64
	best := estimates[0]
	for _, e := range estimates {
		sum += e.weight * e.value
		weights += e.weight
		if e.weight > best.weight {
			best = e
		}
	}

	current := values[len(values)-1]
	predicted := clampPercent(sum / weights)
	p := models.PerformancePrediction{
		Metric:              metric,
		CurrentValue:        current,
		PredictedValue:      predicted,
		HorizonMinutes:      horizonMinutes,
		Confidence:          best.weight,
		ModelUsed:           best.model,
		ContributingFactors: factors(metric, values, current, predicted),
		GeneratedAt:         now,
	}

	a.mu.Lock()
	a.cache[key] = p
	a.mu.Unlock()
	a.metrics.ObservePrediction(p)
	return p, true, nil
}

// Refresh recomputes every configured horizon for every metric and
// returns the predictions it could make.
func (a *Analyzer) Refresh() []models.PerformancePrediction {
	var out []models.PerformancePrediction
	for _, metric := range Metrics() {
		for _, h := range a.cfg.Horizons {
			p, ok, err := a.Predict(metric, h)
			if err != nil {
				a.logger.Warn("Prediction failed",
					zap.String("metric", metric),
					zap.Int("horizon", h),
					zap.Error(err))
				continue
			}
			if !ok {
				a.logger.Debug("Not enough history to predict",
					zap.String("metric", metric),
					zap.Int("samples", a.Len()))
				return out
			}
			out = append(out, p)
		}
	}
	return out
}

// Cached returns the most recent prediction per (metric, horizon), ordered
// by metric then horizon.
func (a *Analyzer) Cached() []models.PerformancePrediction {
	a.mu.Lock()
	out := make([]models.PerformancePrediction, 0, len(a.cache))
	for _, p := range a.cache {
		out = append(out, p)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return out[i].HorizonMinutes < out[j].HorizonMinutes
	})
	return out
}

func (a *Analyzer) seasonalMedian(metric string, hour int) (float64, bool) {
	a.mu.Lock()
	bucket := a.seasonal[metric].values(hour)
	a.mu.Unlock()
	if len(bucket) == 0 {
		return 0, false
	}
	return median(bucket), true
}

func metricValue(s models.ResourceSnapshot, metric string) (float64, bool) {
	switch metric {
	case MetricCPU:
		return s.CPUPercent, true
	case MetricMemory:
		return s.MemoryPercent, true
	default:
		return 0, false
	}
}
