package allocation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

// epsilon ignores float noise when comparing limits.
const epsilon = 1e-6

// Reasons attached to decisions.
const (
	ReasonIdle      = "Idle redistribution"
	ReasonWorkload  = "Workload change rebalance"
	pressureWindow  = 5
	workloadWindow  = 10
	reasonModeFmt   = "Mode adaptation for %s"
	reasonCPUFmt    = "High CPU pressure (%.2f)"
	reasonMemoryFmt = "High memory pressure (%.2f)"
)

// ModeReason returns the reason attached to mode-driven decisions.
func ModeReason(mode models.OperationMode) string {
	return fmt.Sprintf(reasonModeFmt, mode)
}

// batch accumulates the changes of one pass before they are applied.
type batch struct {
	now       time.Time
	decisions []models.AllocationDecision
	previous  map[string]models.ResourceLimits
	touched   []string
	unpinned  map[string]bool
}

func newBatch(now time.Time) *batch {
	return &batch{
		now:      now,
		previous: make(map[string]models.ResourceLimits),
		unpinned: make(map[string]bool),
	}
}

// Tick runs one control-loop iteration over snaps (oldest first). Mode
// overrides are applied on every tick; pressure, idle and workload passes
// are gated by the cooldown and the minimum history.
func (e *Engine) Tick(ctx context.Context, snaps []models.ResourceSnapshot) []models.AllocationDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBatch(e.now())
	e.applyModeOverrides(b)

	if b.now.Sub(e.lastAdaptation) >= e.cfg.Cooldown.Duration && len(snaps) >= e.cfg.MinHistory {
		e.adapt(b, snaps)
	}
	return e.commit(ctx, b)
}

// Pressure returns the normalized CPU and memory pressure of the newest
// five snapshots.
func (e *Engine) Pressure(snaps []models.ResourceSnapshot) (cpu, memory float64) {
	recent := lastN(snaps, pressureWindow)
	if len(recent) == 0 {
		return 0, 0
	}
	cpuAvg, memAvg := means(recent)
	cpu = clamp01((cpuAvg - e.cfg.CPUPressureStart) / e.cfg.CPUPressureSpan)
	memory = clamp01((memAvg - e.cfg.MemoryPressureStart) / e.cfg.MemoryPressureSpan)
	return cpu, memory
}

// adapt runs at most one of the pressure, idle or workload passes and
// reports whether one ran. Must be called with e.mu held.
func (e *Engine) adapt(b *batch, snaps []models.ResourceSnapshot) bool {
	cpuP, memP := e.Pressure(snaps)
	changed, detail := e.workloadChanged(snaps)

	switch {
	case cpuP > e.cfg.ReduceThreshold || memP > e.cfg.ReduceThreshold:
		if cpuP > e.cfg.ReduceThreshold {
			e.reduce(b, models.ResourceCPU, cpuP, fmt.Sprintf(reasonCPUFmt, cpuP))
		}
		if memP > e.cfg.ReduceThreshold {
			e.reduce(b, models.ResourceMemory, memP, fmt.Sprintf(reasonMemoryFmt, memP))
		}
	case cpuP < e.cfg.IdleThreshold && memP < e.cfg.IdleThreshold:
		e.redistributeIdle(b, ReasonIdle)
	case changed:
		e.logger.Info("Workload change detected", zap.String("detail", detail))
		e.rebalance(b, ReasonWorkload)
	default:
		return false
	}

	e.lastAdaptation = b.now
	return true
}

// applyModeOverrides pins every service that has an override for the
// current mode and releases services pinned by a previous mode back to
// their base limits. Must be called with e.mu held.
func (e *Engine) applyModeOverrides(b *batch) {
	reason := ModeReason(e.mode)
	for _, name := range e.order {
		p := e.profiles[name]
		if override, ok := p.ModeOverrides[e.mode]; ok {
			e.setLimits(b, name, override, reason, ConfidenceMode)
			e.pinned[name] = true
			continue
		}
		if e.pinned[name] {
			e.setLimits(b, name, p.BaseLimits, reason, ConfidenceMode)
			delete(e.pinned, name)
			b.unpinned[name] = true
		}
	}
}

// reduce shrinks rt on every reducible service by MaxReduction*pressure,
// lowest priority first, never below base*ReductionFloor.
func (e *Engine) reduce(b *batch, rt models.ResourceType, pressure float64, reason string) {
	factor := 1 - e.cfg.MaxReduction*pressure
	for i := len(e.order) - 1; i >= 0; i-- {
		name := e.order[i]
		if !e.reducible(name) {
			continue
		}
		cur := e.current[name].Value(rt)
		floor := e.profiles[name].BaseLimits.Value(rt) * e.cfg.ReductionFloor
		next := math.Max(cur*factor, floor)
		if next < cur-epsilon {
			e.set(b, name, rt, next, reason, ConfidencePressure)
		}
	}
}

// scale multiplies the current value of every reducible service by
// (1 - fraction), floored at base*ReductionFloor.
func (e *Engine) scale(b *batch, resources []models.ResourceType, fraction float64, reason string) {
	for i := len(e.order) - 1; i >= 0; i-- {
		name := e.order[i]
		if !e.reducible(name) {
			continue
		}
		for _, rt := range resources {
			cur := e.current[name].Value(rt)
			floor := e.profiles[name].BaseLimits.Value(rt) * e.cfg.ReductionFloor
			next := math.Max(cur*(1-fraction), floor)
			if next < cur-epsilon {
				e.set(b, name, rt, next, reason, ConfidencePressure)
			}
		}
	}
}

// redistributeIdle hands out unallocated headroom to adaptive services,
// highest priority first, in bounded per-tick steps.
func (e *Engine) redistributeIdle(b *batch, reason string) {
	var totalCPU, totalMem float64
	for _, name := range e.order {
		totalCPU += e.current[name].CPUPercent
		totalMem += e.current[name].MemoryMB
	}
	cpuRoom := e.cfg.CPUHeadroomTarget - totalCPU
	memRoom := e.cfg.MemoryHeadroomRatio*e.maxMemoryMB - totalMem

	for _, name := range e.order {
		if !e.expandable(name) {
			continue
		}
		base := e.profiles[name].BaseLimits
		if cpuRoom > epsilon {
			cur := e.current[name].CPUPercent
			inc := math.Min(math.Min(e.cfg.MaxCPUStep, base.CPUPercent*e.cfg.ExpansionCeiling-cur), cpuRoom)
			if inc > epsilon {
				e.set(b, name, models.ResourceCPU, cur+inc, reason, ConfidenceIdle)
				cpuRoom -= inc
			}
		}
		if memRoom > epsilon {
			cur := e.current[name].MemoryMB
			inc := math.Min(math.Min(e.cfg.MaxMemoryStepMB, base.MemoryMB*e.cfg.ExpansionCeiling-cur), memRoom)
			if inc > epsilon {
				e.set(b, name, models.ResourceMemory, cur+inc, reason, ConfidenceIdle)
				memRoom -= inc
			}
		}
	}
}

// rebalance moves drifted adaptive services back toward their base
// limits by at most one step per resource.
func (e *Engine) rebalance(b *batch, reason string) {
	steps := map[models.ResourceType]float64{
		models.ResourceCPU:    e.cfg.MaxCPUStep,
		models.ResourceMemory: e.cfg.MaxMemoryStepMB,
	}
	for _, name := range e.order {
		if !e.expandable(name) {
			continue
		}
		base := e.profiles[name].BaseLimits
		for _, rt := range []models.ResourceType{models.ResourceCPU, models.ResourceMemory} {
			cur := e.current[name].Value(rt)
			diff := base.Value(rt) - cur
			if math.Abs(diff) <= epsilon {
				continue
			}
			step := steps[rt]
			move := math.Max(-step, math.Min(step, diff))
			e.set(b, name, rt, cur+move, reason, ConfidenceIdle)
		}
	}
}

// reducible reports whether pressure handling may cut the service.
func (e *Engine) reducible(name string) bool {
	p := e.profiles[name]
	return p.Adaptive && !p.Critical && !e.pinned[name]
}

// expandable reports whether idle redistribution may grow the service.
func (e *Engine) expandable(name string) bool {
	return e.profiles[name].Adaptive && !e.pinned[name]
}

// touch remembers the pre-batch limits of a service.
func (b *batch) touch(name string, cur *models.ResourceLimits) {
	if _, ok := b.previous[name]; ok {
		return
	}
	b.previous[name] = cur.Clone()
	b.touched = append(b.touched, name)
}

// set changes one resource and records a decision when the value moves.
func (e *Engine) set(b *batch, name string, rt models.ResourceType, value float64, reason string, confidence float64) {
	cur := e.current[name]
	old := cur.Value(rt)
	if math.Abs(value-old) <= epsilon {
		return
	}
	b.touch(name, cur)
	if rt == models.ResourceMemory {
		cur.MemoryMB = value
	} else {
		cur.CPUPercent = value
	}
	b.decisions = append(b.decisions, models.AllocationDecision{
		Service:      name,
		ResourceType: rt,
		OldValue:     old,
		NewValue:     value,
		Reason:       reason,
		Timestamp:    b.now,
		Confidence:   confidence,
	})
}

// setLimits moves a service to target. CPU and memory produce decisions;
// io priority, nice and affinity changes are applied without one.
func (e *Engine) setLimits(b *batch, name string, target models.ResourceLimits, reason string, confidence float64) {
	e.set(b, name, models.ResourceCPU, target.CPUPercent, reason, confidence)
	e.set(b, name, models.ResourceMemory, target.MemoryMB, reason, confidence)

	cur := e.current[name]
	if cur.IOPriority != target.IOPriority || cur.NiceValue != target.NiceValue || !sameInts(cur.CPUAffinity, target.CPUAffinity) {
		b.touch(name, cur)
		cur.IOPriority = target.IOPriority
		cur.NiceValue = target.NiceValue
		cur.CPUAffinity = append([]int(nil), target.CPUAffinity...)
	}
}

// commit applies every touched service and records the decisions. A
// failed service is reverted to its pre-batch limits and its decisions are
// marked failed; the remaining services are still applied. Must be called
// with e.mu held.
func (e *Engine) commit(ctx context.Context, b *batch) []models.AllocationDecision {
	if len(b.touched) == 0 {
		return nil
	}

	failed := make(map[string]string)
	for _, name := range b.touched {
		if err := e.applyService(ctx, name); err != nil {
			failed[name] = err.Error()
			*e.current[name] = b.previous[name]
			if b.unpinned[name] {
				e.pinned[name] = true
			}
		}
		e.metrics.SetAllocation(name, *e.current[name])
	}

	for i := range b.decisions {
		d := &b.decisions[i]
		if msg, bad := failed[d.Service]; bad {
			d.Error = msg
		} else {
			d.Applied = true
		}
		e.decisions.Push(*d)
		e.metrics.ObserveDecision(*d)
		e.logger.Info("Allocation decision",
			zap.String("service", d.Service),
			zap.String("resource", string(d.ResourceType)),
			zap.Float64("old", d.OldValue),
			zap.Float64("new", d.NewValue),
			zap.String("reason", d.Reason),
			zap.Bool("applied", d.Applied))
	}
	return b.decisions
}

// applyService hands the current limits of one service to the applier
// under the apply timeout.
func (e *Engine) applyService(ctx context.Context, name string) error {
	applyCtx := ctx
	if e.cfg.ApplyTimeout.Duration > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, e.cfg.ApplyTimeout.Duration)
		defer cancel()
	}

	if err := e.applier.ApplyLimits(applyCtx, name, e.current[name].Clone()); err != nil {
		e.logger.Warn("Failed to apply limits",
			zap.String("service", name),
			zap.Error(err))
		e.metrics.ApplyFailed(name)
		return errs.Apply("service %s: %v", name, err)
	}
	return nil
}

// workloadChanged compares the mean of the newest ten snapshots with the
// ten before them.
func (e *Engine) workloadChanged(snaps []models.ResourceSnapshot) (bool, string) {
	if len(snaps) < 2*workloadWindow {
		return false, ""
	}
	recent := snaps[len(snaps)-workloadWindow:]
	older := snaps[len(snaps)-2*workloadWindow : len(snaps)-workloadWindow]
	rCPU, rMem := means(recent)
	oCPU, oMem := means(older)

	cpuDelta := relativeDelta(rCPU, oCPU)
	memDelta := relativeDelta(rMem, oMem)
	if cpuDelta > e.cfg.WorkloadChangeThreshold || memDelta > e.cfg.WorkloadChangeThreshold {
		return true, fmt.Sprintf("cpu %.1f%%→%.1f%%, memory %.1f%%→%.1f%%", oCPU, rCPU, oMem, rMem)
	}
	return false, ""
}

func relativeDelta(now, before float64) float64 {
	if before <= epsilon {
		if now <= epsilon {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(now-before) / before
}

func lastN(snaps []models.ResourceSnapshot, n int) []models.ResourceSnapshot {
	if len(snaps) <= n {
		return snaps
	}
	return snaps[len(snaps)-n:]
}

func means(snaps []models.ResourceSnapshot) (cpu, memory float64) {
	if len(snaps) == 0 {
		return 0, 0
	}
	for _, s := range snaps {
		cpu += s.CPUPercent
		memory += s.MemoryPercent
	}
	n := float64(len(snaps))
	return cpu / n, memory / n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
