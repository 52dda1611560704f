package models

import "time"

// Summary is the min/avg/max of one series.
type Summary struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// Summarize computes the Summary of values. Empty input yields zeros.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	s := Summary{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Avg = sum / float64(len(values))
	return s
}

// DecisionSummary counts allocation decisions in a report window.
type DecisionSummary struct {
	Total    int            `json:"total"`
	Failed   int            `json:"failed"`
	ByReason map[string]int `json:"by_reason"`
}

// Report is a periodic summary of how the controller performed.
type Report struct {
	ID              string             `json:"id"`
	GeneratedAt     time.Time          `json:"generated_at"`
	WindowStart     time.Time          `json:"window_start"`
	WindowEnd       time.Time          `json:"window_end"`
	Mode            OperationMode      `json:"mode"`
	Efficiency      map[string]Summary `json:"efficiency"`
	Effectiveness   float64            `json:"effectiveness"`
	Stability       float64            `json:"stability"`
	Decisions       DecisionSummary    `json:"decisions"`
	AlertsRaised    int                `json:"alerts_raised"`
	ActiveAlerts    int                `json:"active_alerts"`
	RuleTriggers    int                `json:"rule_triggers"`
	Recommendations []string           `json:"recommendations"`
}
