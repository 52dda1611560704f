package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingApplier struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string][]models.ResourceLimits
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{fail: map[string]bool{}, calls: map[string][]models.ResourceLimits{}}
}

func (a *recordingApplier) ApplyLimits(_ context.Context, service string, limits models.ResourceLimits) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[service] = append(a.calls[service], limits)
	if a.fail[service] {
		return errors.New("cgroup write failed")
	}
	return nil
}

func (a *recordingApplier) count(service string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls[service])
}

func testProfiles() []models.ServiceResourceProfile {
	return []models.ServiceResourceProfile{
		{
			Name:       "safety_monitor",
			BaseLimits: models.ResourceLimits{CPUPercent: 20, MemoryMB: 512},
			Priority:   1,
			Critical:   true,
			Adaptive:   true,
		},
		{
			Name:       "vision",
			BaseLimits: models.ResourceLimits{CPUPercent: 30, MemoryMB: 2048},
			Priority:   3,
			Adaptive:   true,
			ModeOverrides: map[models.OperationMode]models.ResourceLimits{
				models.ModeMowing: {CPUPercent: 50, MemoryMB: 3072},
			},
		},
		{
			Name:       "telemetry_uploader",
			BaseLimits: models.ResourceLimits{CPUPercent: 5, MemoryMB: 256},
			Priority:   9,
			Adaptive:   true,
		},
		{
			Name:       "logger",
			BaseLimits: models.ResourceLimits{CPUPercent: 5, MemoryMB: 128},
			Priority:   8,
		},
	}
}

func newTestEngine(t *testing.T, a *recordingApplier, clock *fakeClock) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultConfig().Allocation, testProfiles(), models.ModeIdle, a, nil,
		WithClock(clock.Now), WithMaxMemoryMB(8192))
	require.NoError(t, err)
	return e
}

func snapshots(n int, cpu, mem float64) []models.ResourceSnapshot {
	out := make([]models.ResourceSnapshot, n)
	for i := range out {
		out[i] = models.ResourceSnapshot{CPUPercent: cpu, MemoryPercent: mem}
	}
	return out
}

func decisionsFor(ds []models.AllocationDecision, service string, rt models.ResourceType) []models.AllocationDecision {
	var out []models.AllocationDecision
	for _, d := range ds {
		if d.Service == service && d.ResourceType == rt {
			out = append(out, d)
		}
	}
	return out
}

func TestNewEngine_RejectsBadInput(t *testing.T) {
	cfg := config.DefaultConfig().Allocation
	a := newRecordingApplier()
	dup := append(testProfiles(), testProfiles()[0])

	tests := []struct {
		name     string
		profiles []models.ServiceResourceProfile
		mode     models.OperationMode
		applier  *recordingApplier
	}{
		{"no profiles", nil, models.ModeIdle, a},
		{"bad mode", testProfiles(), models.OperationMode("racing"), a},
		{"duplicate", dup, models.ModeIdle, a},
		{"invalid profile", []models.ServiceResourceProfile{{Name: "x", Priority: 1}}, models.ModeIdle, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(cfg, tt.profiles, tt.mode, tt.applier, nil)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}

	_, err := NewEngine(cfg, testProfiles(), models.ModeIdle, nil, nil)
	assert.True(t, errs.IsConfiguration(err))
}

func TestEngine_StartsAtBaseLimits(t *testing.T) {
	a := newRecordingApplier()
	e := newTestEngine(t, a, newFakeClock())

	require.NoError(t, e.ApplyInitial(context.Background()))
	for _, p := range testProfiles() {
		assert.Equal(t, p.BaseLimits.CPUPercent, e.Allocations()[p.Name].CPUPercent)
		assert.Equal(t, 1, a.count(p.Name))
	}

	names := make([]string, 0)
	for _, p := range e.Profiles() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"safety_monitor", "vision", "logger", "telemetry_uploader"}, names)
}

func TestTick_HighCPUReducesLowPriorityService(t *testing.T) {
	a := newRecordingApplier()
	e := newTestEngine(t, a, newFakeClock())

	decisions := e.Tick(context.Background(), snapshots(5, 92, 40))

	cut := decisionsFor(decisions, "telemetry_uploader", models.ResourceCPU)
	require.Len(t, cut, 1)
	assert.Less(t, cut[0].NewValue, cut[0].OldValue)
	assert.InDelta(t, 5*(1-0.3*22.0/30), cut[0].NewValue, 1e-9)
	assert.Equal(t, ConfidencePressure, cut[0].Confidence)
	assert.True(t, cut[0].Applied)
	assert.Contains(t, cut[0].Reason, "High CPU pressure")

	assert.Empty(t, decisionsFor(decisions, "safety_monitor", models.ResourceCPU))
	assert.Empty(t, decisionsFor(decisions, "logger", models.ResourceCPU))
	assert.Equal(t, 20.0, e.Allocations()["safety_monitor"].CPUPercent)
	assert.Empty(t, decisionsFor(decisions, "telemetry_uploader", models.ResourceMemory))
}

func TestTick_ReductionStopsAtFloor(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, newRecordingApplier(), clock)
	snaps := snapshots(5, 99, 95)

	for i := 0; i < 20; i++ {
		e.Tick(context.Background(), snaps)
		clock.Advance(11 * time.Second)
	}

	alloc := e.Allocations()
	assert.InDelta(t, 5*0.3, alloc["telemetry_uploader"].CPUPercent, 1e-9)
	assert.InDelta(t, 2048*0.3, alloc["vision"].MemoryMB, 1e-6)
	assert.Equal(t, 20.0, alloc["safety_monitor"].CPUPercent)
	assert.Equal(t, 512.0, alloc["safety_monitor"].MemoryMB)
	assert.Equal(t, 5.0, alloc["logger"].CPUPercent)
}

func TestTick_IdleExpansionStopsAtCeiling(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, newRecordingApplier(), clock)
	snaps := snapshots(5, 10, 20)

	first := e.Tick(context.Background(), snaps)
	require.NotEmpty(t, first)
	for _, d := range first {
		assert.Equal(t, ReasonIdle, d.Reason)
		assert.Greater(t, d.NewValue, d.OldValue)
		if d.ResourceType == models.ResourceCPU {
			assert.LessOrEqual(t, d.Delta(), 10.0)
		} else {
			assert.LessOrEqual(t, d.Delta(), 512.0)
		}
	}

	for i := 0; i < 20; i++ {
		clock.Advance(11 * time.Second)
		e.Tick(context.Background(), snaps)
	}

	alloc := e.Allocations()
	assert.InDelta(t, 45, alloc["vision"].CPUPercent, 1e-9)
	assert.InDelta(t, 3072, alloc["vision"].MemoryMB, 1e-9)
	assert.InDelta(t, 30, alloc["safety_monitor"].CPUPercent, 1e-9)
	assert.Equal(t, 5.0, alloc["logger"].CPUPercent)
	for _, p := range testProfiles() {
		assert.LessOrEqual(t, alloc[p.Name].CPUPercent, p.BaseLimits.CPUPercent*1.5+1e-9)
		assert.LessOrEqual(t, alloc[p.Name].MemoryMB, p.BaseLimits.MemoryMB*1.5+1e-9)
	}
}

func TestTick_CooldownLimitsAdaptationPasses(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, newRecordingApplier(), clock)
	snaps := snapshots(5, 92, 40)

	require.NotEmpty(t, e.Tick(context.Background(), snaps))
	adapted := e.LastAdaptation()

	clock.Advance(5 * time.Second)
	assert.Empty(t, e.Tick(context.Background(), snaps))
	assert.Equal(t, adapted, e.LastAdaptation())

	clock.Advance(5 * time.Second)
	assert.NotEmpty(t, e.Tick(context.Background(), snaps))
	assert.True(t, e.LastAdaptation().After(adapted))
}

func TestTick_NeedsMinimumHistory(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())

	assert.Empty(t, e.Tick(context.Background(), snapshots(4, 99, 99)))
	assert.True(t, e.LastAdaptation().IsZero())
}

func TestTick_ModeOverrideAppliedExactly(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, newRecordingApplier(), clock)
	require.NoError(t, e.SetOperationMode(models.ModeMowing))

	decisions := e.Tick(context.Background(), nil)

	cpu := decisionsFor(decisions, "vision", models.ResourceCPU)
	mem := decisionsFor(decisions, "vision", models.ResourceMemory)
	require.Len(t, cpu, 1)
	require.Len(t, mem, 1)
	assert.Equal(t, 50.0, cpu[0].NewValue)
	assert.Equal(t, 3072.0, mem[0].NewValue)
	assert.Equal(t, "Mode adaptation for mowing", cpu[0].Reason)
	assert.Equal(t, ConfidenceMode, mem[0].Confidence)

	// Override already in place: nothing further to decide.
	clock.Advance(time.Second)
	assert.Empty(t, e.Tick(context.Background(), nil))

	// Pressure handling leaves the pinned service alone.
	clock.Advance(time.Minute)
	pressured := e.Tick(context.Background(), snapshots(5, 99, 95))
	assert.Empty(t, decisionsFor(pressured, "vision", models.ResourceCPU))
	assert.Equal(t, 50.0, e.Allocations()["vision"].CPUPercent)
}

func TestTick_LeavingModeRevertsToBase(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())
	require.NoError(t, e.SetOperationMode(models.ModeMowing))
	e.Tick(context.Background(), nil)

	require.NoError(t, e.SetOperationMode(models.ModeCharging))
	decisions := e.Tick(context.Background(), nil)

	cpu := decisionsFor(decisions, "vision", models.ResourceCPU)
	require.Len(t, cpu, 1)
	assert.Equal(t, 30.0, cpu[0].NewValue)
	assert.Equal(t, "Mode adaptation for charging", cpu[0].Reason)
	assert.Equal(t, models.ModeCharging, e.Mode())
}

func TestSetOperationMode_RejectsUnknown(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())
	err := e.SetOperationMode("sleeping")
	assert.True(t, errs.IsConfiguration(err))
	assert.Equal(t, models.ModeIdle, e.Mode())
}

func TestTick_ApplyFailureRevertsOnlyThatService(t *testing.T) {
	a := newRecordingApplier()
	a.fail["telemetry_uploader"] = true
	e := newTestEngine(t, a, newFakeClock())

	decisions := e.Tick(context.Background(), snapshots(5, 99, 95))

	failed := decisionsFor(decisions, "telemetry_uploader", models.ResourceCPU)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Applied)
	assert.Contains(t, failed[0].Error, "cgroup write failed")
	assert.Equal(t, 5.0, e.Allocations()["telemetry_uploader"].CPUPercent)

	ok := decisionsFor(decisions, "vision", models.ResourceMemory)
	require.NotEmpty(t, ok)
	assert.True(t, ok[0].Applied)
	assert.Less(t, e.Allocations()["vision"].MemoryMB, 2048.0)
	assert.Equal(t, 1, a.count("vision"))
}

func TestScaleNonCritical_SkipsCriticalAndFixed(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())

	decisions := e.ScaleNonCritical(context.Background(), 0.2, "High CPU Usage")
	require.NotEmpty(t, decisions)
	for _, d := range decisions {
		assert.NotEqual(t, "safety_monitor", d.Service)
		assert.NotEqual(t, "logger", d.Service)
		assert.InDelta(t, d.OldValue*0.8, d.NewValue, 1e-9)
	}
	assert.False(t, e.LastAdaptation().IsZero())
}

func TestScaleMemory_OnlyTouchesMemory(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())

	decisions := e.ScaleMemory(context.Background(), 0.15, "High Memory Usage")
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.Equal(t, models.ResourceMemory, d.ResourceType)
	}
	assert.InDelta(t, 2048*0.85, e.Allocations()["vision"].MemoryMB, 1e-9)
}

func TestForceRebalance_MovesTowardBase(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, newRecordingApplier(), clock)
	e.ScaleNonCritical(context.Background(), 0.3, "squeeze")

	decisions := e.ForceRebalance(context.Background(), nil, "Low System Efficiency")
	require.NotEmpty(t, decisions)
	for _, d := range decisions {
		assert.Greater(t, d.NewValue, d.OldValue)
	}
	assert.InDelta(t, 30, e.Allocations()["vision"].CPUPercent, 1e-9)
}

func TestResetToBase(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())
	e.ExpandAdaptive(context.Background(), "Idle Resource Optimization")
	require.NotEqual(t, 30.0, e.Allocations()["vision"].CPUPercent)

	e.ResetToBase(context.Background(), "reset")
	for _, p := range testProfiles() {
		assert.Equal(t, p.BaseLimits.CPUPercent, e.Allocations()[p.Name].CPUPercent)
		assert.Equal(t, p.BaseLimits.MemoryMB, e.Allocations()[p.Name].MemoryMB)
	}
}

func TestDecisions_RecordedInHistory(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())
	produced := e.Tick(context.Background(), snapshots(5, 92, 40))

	recorded := e.Decisions(-1)
	assert.Equal(t, produced, recorded)
	assert.Len(t, e.Decisions(1), 1)
}

func TestPressure(t *testing.T) {
	e := newTestEngine(t, newRecordingApplier(), newFakeClock())

	cpu, mem := e.Pressure(snapshots(5, 85, 80))
	assert.InDelta(t, 0.5, cpu, 1e-9)
	assert.InDelta(t, 0.5, mem, 1e-9)

	cpu, mem = e.Pressure(snapshots(5, 100, 100))
	assert.Equal(t, 1.0, cpu)
	assert.Equal(t, 1.0, mem)

	cpu, mem = e.Pressure(nil)
	assert.Zero(t, cpu)
	assert.Zero(t, mem)
}

func TestTick_SameInputSameDecisions(t *testing.T) {
	run := func() []models.AllocationDecision {
		clock := newFakeClock()
		e := newTestEngine(t, newRecordingApplier(), clock)
		var snaps []models.ResourceSnapshot
		load := []float64{20, 25, 95, 97, 99, 93, 50, 10, 5, 8, 12, 88, 91, 92, 30, 15, 14, 10, 9, 11, 60, 65}
		for _, cpu := range load {
			snaps = append(snaps, models.ResourceSnapshot{CPUPercent: cpu, MemoryPercent: cpu * 0.8})
			e.Tick(context.Background(), snaps)
			clock.Advance(4 * time.Second)
		}
		return e.Decisions(-1)
	}

	first := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestTick_WorkloadChangeRebalances(t *testing.T) {
	tests := []struct {
		name      string
		olderCPU  float64
		recentCPU float64
		want      bool
	}{
		{"mean shift above 20%", 40, 60, true},
		{"mean shift of exactly 20%", 50, 60, false},
		{"steady load", 60, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			e := newTestEngine(t, newRecordingApplier(), clock)
			e.ScaleNonCritical(context.Background(), 0.2, "squeeze")
			require.InDelta(t, 24, e.Allocations()["vision"].CPUPercent, 1e-9)
			clock.Advance(time.Minute)

			// Memory at 65% keeps pressure between the idle and reduce bands.
			snaps := append(snapshots(10, tt.olderCPU, 65), snapshots(10, tt.recentCPU, 65)...)
			cpuP, memP := e.Pressure(snaps)
			require.LessOrEqual(t, cpuP, 0.3)
			require.LessOrEqual(t, memP, 0.3)
			require.GreaterOrEqual(t, memP, 0.1)

			decisions := e.Tick(context.Background(), snaps)
			if !tt.want {
				assert.Empty(t, decisions)
				assert.InDelta(t, 24, e.Allocations()["vision"].CPUPercent, 1e-9)
				return
			}

			require.NotEmpty(t, decisions)
			for _, d := range decisions {
				assert.Equal(t, ReasonWorkload, d.Reason)
				assert.Greater(t, d.NewValue, d.OldValue)
				assert.True(t, d.Applied)
			}
			assert.InDelta(t, 30, e.Allocations()["vision"].CPUPercent, 1e-9)
			assert.InDelta(t, 2048, e.Allocations()["vision"].MemoryMB, 1e-9)
			assert.InDelta(t, 5, e.Allocations()["telemetry_uploader"].CPUPercent, 1e-9)
			assert.Equal(t, clock.Now(), e.LastAdaptation())
		})
	}
}
