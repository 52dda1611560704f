package automation

import (
	"context"
	"fmt"

	"github.com/vitalis-app/rescontrol/internal/models"
)

// Action parameters.
const (
	nonCriticalReduction = 0.20
	memoryReduction      = 0.15
	thermalReliefMode    = models.ModeIdle
)

type handlerFunc func(ctx context.Context, alloc Allocator, rule models.AutomationRule, in Input) (string, error)

func handlers() map[models.Action]handlerFunc {
	return map[models.Action]handlerFunc{
		models.ActionReduceNonCritical: reduceNonCritical,
		models.ActionReduceMemory:      reduceMemory,
		models.ActionThermalRelief:     thermalRelief,
		models.ActionForceRebalance:    forceRebalance,
		models.ActionExpandAdaptive:    expandAdaptive,
	}
}

func reduceNonCritical(ctx context.Context, alloc Allocator, rule models.AutomationRule, _ Input) (string, error) {
	return describe(alloc.ScaleNonCritical(ctx, nonCriticalReduction, rule.Name))
}

func reduceMemory(ctx context.Context, alloc Allocator, rule models.AutomationRule, _ Input) (string, error) {
	return describe(alloc.ScaleMemory(ctx, memoryReduction, rule.Name))
}

// thermalRelief drops the device into idle mode. The switch is one-way:
// nothing restores the previous mode when the temperature recovers, so the
// trigger detail names it for the operator or coordinator to restore.
func thermalRelief(_ context.Context, alloc Allocator, _ models.AutomationRule, _ Input) (string, error) {
	prev := alloc.Mode()
	if prev == thermalReliefMode {
		return fmt.Sprintf("already in %s mode", thermalReliefMode), nil
	}
	if err := alloc.SetOperationMode(thermalReliefMode); err != nil {
		return "", err
	}
	return fmt.Sprintf("switched from %s to %s mode; restore %s manually once cooled",
		prev, thermalReliefMode, prev), nil
}

func forceRebalance(ctx context.Context, alloc Allocator, rule models.AutomationRule, in Input) (string, error) {
	return describe(alloc.ForceRebalance(ctx, in.History, rule.Name))
}

func expandAdaptive(ctx context.Context, alloc Allocator, rule models.AutomationRule, _ Input) (string, error) {
	return describe(alloc.ExpandAdaptive(ctx, rule.Name))
}
