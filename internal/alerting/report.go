package alerting

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/efficiency"
	"github.com/vitalis-app/rescontrol/internal/models"
)

const stabilityWindow = 10

// StabilityScore combines the variability of recent CPU and memory
// efficiency with the number of active alerts. The result is in [0,100].
func StabilityScore(scores []models.EfficiencyScores, activeAlerts int) float64 {
	if len(scores) > stabilityWindow {
		scores = scores[len(scores)-stabilityWindow:]
	}
	cpu := make([]float64, len(scores))
	memory := make([]float64, len(scores))
	for i, s := range scores {
		cpu[i] = s.CPU
		memory[i] = s.Memory
	}
	base := ((100 - 2*efficiency.StdDev(cpu)) + (100 - 2*efficiency.StdDev(memory))) / 2
	return math.Max(0, math.Min(100, base-10*float64(activeAlerts)))
}

// Spool persists generated reports.
type Spool interface {
	Store(report models.Report) error
}

// ReportInput is the data a report summarizes. Efficiency and decisions
// outside the window are ignored.
type ReportInput struct {
	Mode          models.OperationMode
	Efficiency    []models.EfficiencyScores
	Decisions     []models.AllocationDecision
	Effectiveness float64
	Stability     float64
	AlertsRaised  int
	ActiveAlerts  int
	RuleTriggers  int
}

// Reporter builds periodic reports.
type Reporter struct {
	window time.Duration
	spool  Spool
	logger *zap.Logger
	now    func() time.Time
}

// NewReporter creates a reporter summarizing the given window. spool may
// be nil.
func NewReporter(window time.Duration, spool Spool, logger *zap.Logger, now func() time.Time) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Reporter{window: window, spool: spool, logger: logger.Named("report"), now: now}
}

// Window returns the reporting window.
func (r *Reporter) Window() time.Duration {
	return r.window
}

// Generate builds a report and hands it to the spool. A spool error is
// returned along with the report.
func (r *Reporter) Generate(in ReportInput) (models.Report, error) {
	end := r.now()
	start := end.Add(-r.window)

	var cpu, memory, load, thermal, overall []float64
	for _, s := range in.Efficiency {
		if s.Timestamp.Before(start) {
			continue
		}
		cpu = append(cpu, s.CPU)
		memory = append(memory, s.Memory)
		load = append(load, s.LoadBalance)
		thermal = append(thermal, s.Thermal)
		overall = append(overall, s.Overall)
	}

	decisions := models.DecisionSummary{ByReason: make(map[string]int)}
	for _, d := range in.Decisions {
		if d.Timestamp.Before(start) {
			continue
		}
		decisions.Total++
		if !d.Applied {
			decisions.Failed++
		}
		decisions.ByReason[ReasonKind(d.Reason)]++
	}

	report := models.Report{
		ID:          uuid.NewString(),
		GeneratedAt: end,
		WindowStart: start,
		WindowEnd:   end,
		Mode:        in.Mode,
		Efficiency: map[string]models.Summary{
			"cpu":          models.Summarize(cpu),
			"memory":       models.Summarize(memory),
			"load_balance": models.Summarize(load),
			"thermal":      models.Summarize(thermal),
			"overall":      models.Summarize(overall),
		},
		Effectiveness: in.Effectiveness,
		Stability:     in.Stability,
		Decisions:     decisions,
		AlertsRaised:  in.AlertsRaised,
		ActiveAlerts:  in.ActiveAlerts,
		RuleTriggers:  in.RuleTriggers,
	}
	report.Recommendations = recommendations(report, len(overall) > 0)

	r.logger.Info("Report generated",
		zap.String("id", report.ID),
		zap.Int("decisions", decisions.Total),
		zap.Int("recommendations", len(report.Recommendations)))

	if r.spool != nil {
		if err := r.spool.Store(report); err != nil {
			return report, fmt.Errorf("spool report: %w", err)
		}
	}
	return report, nil
}

// ReasonKind strips the numeric detail from a decision reason, so
// "High CPU pressure (0.73)" becomes "High CPU pressure".
func ReasonKind(reason string) string {
	if i := strings.Index(reason, " ("); i > 0 {
		return reason[:i]
	}
	return reason
}

func recommendations(r models.Report, haveScores bool) []string {
	var out []string
	if haveScores {
		if avg := r.Efficiency["cpu"].Avg; avg < 60 {
			out = append(out, fmt.Sprintf("CPU efficiency has averaged %.0f, below 60: review allocation thresholds", avg))
		}
		if avg := r.Efficiency["memory"].Avg; avg < 60 {
			out = append(out, fmt.Sprintf("Memory efficiency has averaged %.0f, below 60: review memory limits", avg))
		}
		if avg := r.Efficiency["thermal"].Avg; avg < 70 {
			out = append(out, fmt.Sprintf("Thermal efficiency has averaged %.0f: check cooling or reduce sustained load", avg))
		}
	}
	if r.Decisions.Total > 50 {
		out = append(out, fmt.Sprintf("High allocation churn (%d decisions): consider a longer adaptation cooldown", r.Decisions.Total))
	}
	if r.Decisions.Failed > 0 {
		out = append(out, fmt.Sprintf("%d allocation decisions failed to apply: check the limit applier", r.Decisions.Failed))
	}
	if r.Effectiveness < 50 {
		out = append(out, fmt.Sprintf("Allocation effectiveness is %.0f: decisions are oscillating, widen the pressure thresholds", r.Effectiveness))
	}
	if r.Stability < 50 {
		out = append(out, fmt.Sprintf("Stability score is %.0f: investigate active alerts", r.Stability))
	}
	return out
}
