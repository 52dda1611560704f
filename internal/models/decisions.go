package models

import "time"

// AllocationDecision records one limit change produced by the allocation engine.
type AllocationDecision struct {
	Service      string       `json:"service_name"`
	ResourceType ResourceType `json:"resource_type"`
	OldValue     float64      `json:"old_value"`
	NewValue     float64      `json:"new_value"`
	Reason       string       `json:"reason"`
	Timestamp    time.Time    `json:"timestamp"`
	Confidence   float64      `json:"confidence"`
	Applied      bool         `json:"applied"`
	Error        string       `json:"error,omitempty"`
}

// Delta returns NewValue - OldValue.
func (d AllocationDecision) Delta() float64 {
	return d.NewValue - d.OldValue
}

// EfficiencyScores are dimensionless 0-100 scores derived from recent snapshots.
type EfficiencyScores struct {
	CPU         float64   `json:"cpu"`
	Memory      float64   `json:"memory"`
	LoadBalance float64   `json:"load_balance"`
	Thermal     float64   `json:"thermal"`
	Overall     float64   `json:"overall"`
	Timestamp   time.Time `json:"timestamp"`
}

// PerformancePrediction is a short-horizon forecast for one metric.
type PerformancePrediction struct {
	Metric              string    `json:"metric_name"`
	CurrentValue        float64   `json:"current_value"`
	PredictedValue      float64   `json:"predicted_value"`
	HorizonMinutes      int       `json:"horizon_minutes"`
	Confidence          float64   `json:"confidence"`
	ModelUsed           string    `json:"model_used"`
	ContributingFactors []string  `json:"contributing_factors"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is an operator-visible condition. ID is derived from the condition
// kind so repeated breaches update the same alert.
type Alert struct {
	ID           string     `json:"id"`
	Level        AlertLevel `json:"level"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Timestamp    time.Time  `json:"timestamp"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Acknowledged bool       `json:"acknowledged"`
	AutoResolved bool       `json:"auto_resolved"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Value        float64    `json:"value"`
	Threshold    float64    `json:"threshold"`
}
