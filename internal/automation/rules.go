package automation

import "github.com/vitalis-app/rescontrol/internal/models"

// DefaultRules returns the built-in rule set used when the configuration
// defines none.
func DefaultRules() []models.AutomationRule {
	return []models.AutomationRule{
		{
			ID:   "thermal_protection",
			Name: "Thermal Protection",
			Condition: models.Condition{Clauses: []models.Clause{
				{Field: models.FieldTemperature, Op: models.OpGreaterThan, Value: 75},
			}},
			Action:          models.ActionThermalRelief,
			Priority:        1,
			Enabled:         true,
			CooldownSeconds: 600,
		},
		{
			ID:   "high_cpu",
			Name: "High CPU Usage",
			Condition: models.Condition{Clauses: []models.Clause{
				{Field: models.FieldCPUPercent, Op: models.OpGreaterThan, Value: 85},
			}},
			Action:          models.ActionReduceNonCritical,
			Priority:        2,
			Enabled:         true,
			CooldownSeconds: 300,
		},
		{
			ID:   "high_memory",
			Name: "High Memory Usage",
			Condition: models.Condition{Clauses: []models.Clause{
				{Field: models.FieldMemoryPercent, Op: models.OpGreaterThan, Value: 80},
			}},
			Action:          models.ActionReduceMemory,
			Priority:        3,
			Enabled:         true,
			CooldownSeconds: 300,
		},
		{
			ID:   "low_efficiency",
			Name: "Low System Efficiency",
			Condition: models.Condition{Clauses: []models.Clause{
				{Field: models.FieldOverallEfficiency, Op: models.OpLessThan, Value: 60},
			}},
			Action:          models.ActionForceRebalance,
			Priority:        4,
			Enabled:         true,
			CooldownSeconds: 600,
		},
		{
			ID:   "idle_capacity",
			Name: "Idle Resource Optimization",
			Condition: models.Condition{Clauses: []models.Clause{
				{Field: models.FieldCPUPercent, Op: models.OpLessThan, Value: 30},
				{Field: models.FieldMemoryPercent, Op: models.OpLessThan, Value: 50},
			}},
			Action:          models.ActionExpandAdaptive,
			Priority:        5,
			Enabled:         true,
			CooldownSeconds: 900,
		},
	}
}
