package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op       Operator
		lhs, rhs float64
		want     bool
	}{
		{OpGreaterThan, 86, 85, true},
		{OpGreaterThan, 85, 85, false},
		{OpGreaterOrEqual, 85, 85, true},
		{OpLessThan, 29, 30, true},
		{OpLessOrEqual, 30, 30, true},
		{Operator("eq"), 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Compare(tt.lhs, tt.rhs), "%g %s %g", tt.lhs, tt.op, tt.rhs)
	}
}

func TestRuleValidate(t *testing.T) {
	valid := AutomationRule{
		ID:        "high_cpu",
		Action:    ActionReduceNonCritical,
		Condition: Condition{Clauses: []Clause{{Field: FieldCPUPercent, Op: OpGreaterThan, Value: 85}}},
	}
	assert.NoError(t, valid.Validate())

	badAction := valid
	badAction.Action = "reduce_vision_fps"
	assert.Error(t, badAction.Validate())

	badField := valid
	badField.Condition = Condition{Clauses: []Clause{{Field: "gpu", Op: OpGreaterThan, Value: 1}}}
	assert.Error(t, badField.Validate())

	empty := valid
	empty.Condition = Condition{}
	assert.Error(t, empty.Validate())
}

func TestAllActionsValid(t *testing.T) {
	for _, a := range AllActions() {
		assert.True(t, a.Valid(), string(a))
	}
}
