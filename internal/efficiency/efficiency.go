// Package efficiency scores how well the current allocations fit the
// observed load. All scores are in [0,100].
package efficiency

import (
	"math"
	"sort"

	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/models"
)

// Oscillation scoring.
const (
	flipPenalty     = 20.0
	oscillationMin  = 20.0
	flipMagnitude   = 0.5
	countPenalty    = 5.0
	maxCountPenalty = 50.0
)

// UtilizationEfficiency scores the mean of values against a target band.
// Inside the band scores 100, below it falls linearly toward 50 and above
// it falls linearly from 50 to 0 at 100%.
func UtilizationEfficiency(values []float64, min, max float64) float64 {
	if len(values) == 0 {
		return 0
	}
	v := mean(values)
	switch {
	case v < min && min > 0:
		return clamp(50 + 50*v/min)
	case v > max && max < 100:
		return clamp(50 - 50*(v-max)/(100-max))
	case v > max:
		return 0
	default:
		return 100
	}
}

// LoadBalanceEfficiency scores a load average against the ideal load.
func LoadBalanceEfficiency(load, ideal float64) float64 {
	if load <= ideal || ideal <= 0 {
		return 100
	}
	return clamp(100 - 30*(load-ideal)/ideal)
}

// ThermalEfficiency scores a temperature in °C. Unknown temperature scores 100.
func ThermalEfficiency(t *float64) float64 {
	if t == nil {
		return 100
	}
	switch {
	case *t < 60:
		return 100
	case *t < 70:
		return 90
	case *t < 80:
		return 70
	default:
		return clamp(50 - 5*(*t-80))
	}
}

// Analyzer computes efficiency scores from recent history.
type Analyzer struct {
	cfg config.EfficiencyConfig
}

// NewAnalyzer creates an analyzer with the given target bands.
func NewAnalyzer(cfg config.EfficiencyConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Scores computes the efficiency over the newest Window snapshots. It
// returns false when snaps is empty.
func (a *Analyzer) Scores(snaps []models.ResourceSnapshot) (models.EfficiencyScores, bool) {
	if len(snaps) == 0 {
		return models.EfficiencyScores{}, false
	}
	if a.cfg.Window > 0 && len(snaps) > a.cfg.Window {
		snaps = snaps[len(snaps)-a.cfg.Window:]
	}

	cpu := make([]float64, 0, len(snaps))
	memory := make([]float64, 0, len(snaps))
	load := make([]float64, 0, len(snaps))
	var temps []float64
	for _, s := range snaps {
		cpu = append(cpu, s.CPUPercent)
		memory = append(memory, s.MemoryPercent)
		load = append(load, s.LoadAverage[0])
		if s.Temperature != nil {
			temps = append(temps, *s.Temperature)
		}
	}

	var temp *float64
	if len(temps) > 0 {
		t := mean(temps)
		temp = &t
	}

	scores := models.EfficiencyScores{
		CPU:         UtilizationEfficiency(cpu, a.cfg.CPUTargetMin, a.cfg.CPUTargetMax),
		Memory:      UtilizationEfficiency(memory, a.cfg.MemoryTargetMin, a.cfg.MemoryTargetMax),
		LoadBalance: LoadBalanceEfficiency(mean(load), a.cfg.IdealLoad),
		Thermal:     ThermalEfficiency(temp),
		Timestamp:   snaps[len(snaps)-1].Timestamp,
	}
	scores.Overall = clamp((scores.CPU + scores.Memory + scores.LoadBalance + scores.Thermal) / 4)
	return scores, true
}

// Effectiveness rates how stable recent allocation decisions have been.
// It looks at the newest EffectivenessWindow decisions, scores every
// service with at least two of them, and averages the results. Without
// such a service there is no evidence of instability and it returns 100.
func (a *Analyzer) Effectiveness(decisions []models.AllocationDecision) float64 {
	if a.cfg.EffectivenessWindow > 0 && len(decisions) > a.cfg.EffectivenessWindow {
		decisions = decisions[len(decisions)-a.cfg.EffectivenessWindow:]
	}

	byService := make(map[string][]models.AllocationDecision)
	for _, d := range decisions {
		byService[d.Service] = append(byService[d.Service], d)
	}

	names := make([]string, 0, len(byService))
	for name, ds := range byService {
		if len(ds) >= 2 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 100
	}
	sort.Strings(names)

	var total float64
	for _, name := range names {
		total += serviceEffectiveness(byService[name])
	}
	return clamp(total / float64(len(names)))
}

func serviceEffectiveness(ds []models.AllocationDecision) float64 {
	var conf float64
	for _, d := range ds {
		conf += d.Confidence
	}
	avgConf := conf / float64(len(ds)) * 100
	churn := 100 - math.Min(countPenalty*float64(len(ds)), maxCountPenalty)
	return 0.4*avgConf + 0.3*churn + 0.3*OscillationScore(ds)
}

// OscillationScore starts at 100 and subtracts 20 for every direction flip
// between consecutive decisions on the same resource whose magnitude is at
// least half of the previous change. It never drops below 20.
func OscillationScore(ds []models.AllocationDecision) float64 {
	last := make(map[models.ResourceType]float64)
	flips := 0
	for _, d := range ds {
		delta := d.Delta()
		if prev, ok := last[d.ResourceType]; ok && prev != 0 && delta != 0 {
			if (prev > 0) != (delta > 0) && math.Abs(delta) >= flipMagnitude*math.Abs(prev) {
				flips++
			}
		}
		last[d.ResourceType] = delta
	}
	return math.Max(oscillationMin, 100-flipPenalty*float64(flips))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
