package models

import (
	"fmt"
	"time"
)

// Action is the closed set of remedial actions an automation rule may take.
type Action string

const (
	ActionReduceNonCritical Action = "reduce_non_critical"
	ActionReduceMemory      Action = "reduce_memory"
	ActionThermalRelief     Action = "thermal_relief"
	ActionForceRebalance    Action = "force_rebalance"
	ActionExpandAdaptive    Action = "expand_adaptive"
)

// AllActions lists every action.
func AllActions() []Action {
	return []Action{
		ActionReduceNonCritical,
		ActionReduceMemory,
		ActionThermalRelief,
		ActionForceRebalance,
		ActionExpandAdaptive,
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// ConditionField is a value a rule clause can test.
type ConditionField string

const (
	FieldCPUPercent        ConditionField = "cpu_percent"
	FieldMemoryPercent     ConditionField = "memory_percent"
	FieldTemperature       ConditionField = "temperature"
	FieldLoadAverage       ConditionField = "load_average"
	FieldOverallEfficiency ConditionField = "overall_efficiency"
	FieldCPUEfficiency     ConditionField = "cpu_efficiency"
	FieldMemoryEfficiency  ConditionField = "memory_efficiency"
)

var knownFields = map[ConditionField]bool{
	FieldCPUPercent:        true,
	FieldMemoryPercent:     true,
	FieldTemperature:       true,
	FieldLoadAverage:       true,
	FieldOverallEfficiency: true,
	FieldCPUEfficiency:     true,
	FieldMemoryEfficiency:  true,
}

// Operator compares a field against a constant.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
)

// Compare applies the operator to (lhs, rhs).
func (o Operator) Compare(lhs, rhs float64) bool {
	switch o {
	case OpGreaterThan:
		return lhs > rhs
	case OpGreaterOrEqual:
		return lhs >= rhs
	case OpLessThan:
		return lhs < rhs
	case OpLessOrEqual:
		return lhs <= rhs
	default:
		return false
	}
}

// Clause is a single field/operator/value comparison.
type Clause struct {
	Field ConditionField `json:"field" yaml:"field"`
	Op    Operator       `json:"op" yaml:"op"`
	Value float64        `json:"value" yaml:"value"`
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %g", c.Field, c.Op, c.Value)
}

// Condition is a conjunction of clauses, or a disjunction when Any is set.
type Condition struct {
	Clauses []Clause `json:"clauses" yaml:"clauses"`
	Any     bool     `json:"any,omitempty" yaml:"any,omitempty"`
}

// Validate checks that every clause names a known field and operator.
func (c Condition) Validate() error {
	if len(c.Clauses) == 0 {
		return fmt.Errorf("condition has no clauses")
	}
	for _, cl := range c.Clauses {
		if !knownFields[cl.Field] {
			return fmt.Errorf("unknown condition field %q", cl.Field)
		}
		switch cl.Op {
		case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		default:
			return fmt.Errorf("unknown operator %q", cl.Op)
		}
	}
	return nil
}

// AutomationRule maps a condition to a remedial action. Only LastTriggered,
// TriggerCount and Enabled change at runtime.
type AutomationRule struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Condition       Condition  `json:"condition" yaml:"condition"`
	Action          Action     `json:"action" yaml:"action"`
	Priority        int        `json:"priority" yaml:"priority"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	CooldownSeconds int        `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	MaxAttempts     int        `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty" yaml:"-"`
	TriggerCount    int        `json:"trigger_count" yaml:"-"`
}

// Cooldown returns CooldownSeconds as a duration.
func (r AutomationRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Validate checks the rule definition.
func (r AutomationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	if r.CooldownSeconds < 0 || r.MaxAttempts < 0 {
		return fmt.Errorf("rule %s: cooldown_seconds and max_attempts must not be negative", r.ID)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// RuleTrigger records one execution of an automation rule.
type RuleTrigger struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Verified  bool      `json:"verified"`
	Detail    string    `json:"detail,omitempty"`
}
