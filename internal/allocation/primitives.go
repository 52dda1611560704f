package allocation

import (
	"context"

	"github.com/vitalis-app/rescontrol/internal/models"
)

// The methods below are the primitives the automation engine delegates to.
// Each one is a full adaptation pass: it resets the cooldown and applies
// its changes before returning. Critical, non-adaptive and mode-pinned
// services are never reduced.

// ScaleNonCritical reduces CPU and memory of every non-critical adaptive
// service by fraction (0.2 = 20%).
func (e *Engine) ScaleNonCritical(ctx context.Context, fraction float64, reason string) []models.AllocationDecision {
	return e.scalePass(ctx, []models.ResourceType{models.ResourceCPU, models.ResourceMemory}, fraction, reason)
}

// ScaleMemory reduces memory of every non-critical adaptive service by fraction.
func (e *Engine) ScaleMemory(ctx context.Context, fraction float64, reason string) []models.AllocationDecision {
	return e.scalePass(ctx, []models.ResourceType{models.ResourceMemory}, fraction, reason)
}

func (e *Engine) scalePass(ctx context.Context, resources []models.ResourceType, fraction float64, reason string) []models.AllocationDecision {
	if fraction <= 0 {
		return nil
	}
	if fraction > e.cfg.MaxReduction {
		fraction = e.cfg.MaxReduction
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBatch(e.now())
	e.scale(b, resources, fraction, reason)
	e.lastAdaptation = b.now
	return e.commit(ctx, b)
}

// ExpandAdaptive redistributes idle headroom regardless of pressure.
func (e *Engine) ExpandAdaptive(ctx context.Context, reason string) []models.AllocationDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBatch(e.now())
	e.redistributeIdle(b, reason)
	e.lastAdaptation = b.now
	return e.commit(ctx, b)
}

// ForceRebalance runs an adaptation pass immediately, ignoring the
// cooldown. When neither pressure, idleness nor a workload change calls for
// action, drifted services are moved back toward their base limits.
func (e *Engine) ForceRebalance(ctx context.Context, snaps []models.ResourceSnapshot, reason string) []models.AllocationDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBatch(e.now())
	if len(snaps) < e.cfg.MinHistory || !e.adapt(b, snaps) {
		e.rebalance(b, reason)
		e.lastAdaptation = b.now
	}
	return e.commit(ctx, b)
}

// ResetToBase returns every service that is not pinned by the current
// mode to its base limits.
func (e *Engine) ResetToBase(ctx context.Context, reason string) []models.AllocationDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBatch(e.now())
	for _, name := range e.order {
		if e.pinned[name] {
			continue
		}
		e.setLimits(b, name, e.profiles[name].BaseLimits, reason, ConfidenceMode)
	}
	return e.commit(ctx, b)
}
