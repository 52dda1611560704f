package controller

import (
	"time"

	"github.com/vitalis-app/rescontrol/internal/collector"
	"github.com/vitalis-app/rescontrol/internal/models"
)

// Status is the current state of the controller.
type Status struct {
	Timestamp     time.Time                        `json:"timestamp"`
	Running       bool                             `json:"running"`
	Mode          models.OperationMode             `json:"mode"`
	Snapshot      *models.ResourceSnapshot         `json:"snapshot,omitempty"`
	Efficiency    *models.EfficiencyScores         `json:"efficiency,omitempty"`
	Effectiveness float64                          `json:"effectiveness"`
	Stability     float64                          `json:"stability"`
	CPUPressure   float64                          `json:"cpu_pressure"`
	MemPressure   float64                          `json:"memory_pressure"`
	Allocations   map[string]models.ResourceLimits `json:"allocations"`
	ActiveAlerts  int                              `json:"active_alerts"`
	HistorySize   int                              `json:"history_size"`
	UptimeSeconds int                              `json:"uptime_seconds"`
	Services      []collector.ServiceUsage         `json:"services,omitempty"`
}

// Dashboard is the full view served to an operator UI.
type Dashboard struct {
	Status          Status                          `json:"status"`
	RecentSnapshots []models.ResourceSnapshot       `json:"recent_snapshots"`
	Efficiency      []models.EfficiencyScores       `json:"efficiency_history"`
	Decisions       []models.AllocationDecision     `json:"recent_decisions"`
	Predictions     []models.PerformancePrediction  `json:"predictions"`
	Alerts          []models.Alert                  `json:"alerts"`
	Triggers        []models.RuleTrigger            `json:"recent_triggers"`
	Rules           []models.AutomationRule         `json:"rules"`
	Profiles        []models.ServiceResourceProfile `json:"profiles"`
}
