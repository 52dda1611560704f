// Package allocation implements the pressure-driven allocation engine. It
// owns the current per-service limits table, decides changes from recent
// snapshots, operation mode and priority, and hands each changed service to
// the limit applier.
//
// Invariants enforced here:
//   - pressure handling never touches critical or non-adaptive services;
//   - no reduction goes below base*ReductionFloor;
//   - no expansion goes above base*ExpansionCeiling;
//   - a service pinned by the current mode's override is left to the mode.
package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/applier"
	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/history"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// Decision confidences by origin.
const (
	ConfidenceMode     = 0.9
	ConfidencePressure = 0.8
	ConfidenceIdle     = 0.7
)

// Engine decides and applies per-service resource limits.
type Engine struct {
	cfg      config.AllocationConfig
	profiles map[string]models.ServiceResourceProfile
	order    []string // priority ascending (1 first), then name
	applier  applier.Applier
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu             sync.Mutex
	current        map[string]*models.ResourceLimits
	pinned         map[string]bool
	mode           models.OperationMode
	lastAdaptation time.Time
	maxMemoryMB    float64
	decisions      *history.Ring[models.AllocationDecision]
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches Prometheus telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxMemoryMB sets the physical memory used for headroom and pressure
// relief sizing when the configuration leaves it at zero.
func WithMaxMemoryMB(mb float64) Option {
	return func(e *Engine) {
		if e.maxMemoryMB <= 0 {
			e.maxMemoryMB = mb
		}
	}
}

// NewEngine validates the profiles and creates an engine whose current
// allocations start at each profile's base limits.
func NewEngine(cfg config.AllocationConfig, profiles []models.ServiceResourceProfile, mode models.OperationMode,
	a applier.Applier, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if len(profiles) == 0 {
		return nil, errs.Configuration("allocation engine needs at least one service profile")
	}
	if !mode.Valid() {
		return nil, errs.Configuration("unknown operation mode %q", mode)
	}
	if a == nil {
		return nil, errs.Configuration("allocation engine needs a limit applier")
	}
	if cfg.DecisionHistory <= 0 {
		return nil, errs.Configuration("decision history capacity must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:         cfg,
		profiles:    make(map[string]models.ServiceResourceProfile, len(profiles)),
		applier:     a,
		logger:      logger.Named("allocation"),
		now:         time.Now,
		current:     make(map[string]*models.ResourceLimits, len(profiles)),
		pinned:      make(map[string]bool),
		mode:        mode,
		maxMemoryMB: cfg.MaxMemoryMB,
		decisions:   history.New[models.AllocationDecision](cfg.DecisionHistory),
	}

	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, errs.Configuration("%v", err)
		}
		if _, dup := e.profiles[p.Name]; dup {
			return nil, errs.Configuration("duplicate service profile %q", p.Name)
		}
		e.profiles[p.Name] = p
		limits := p.BaseLimits.Clone()
		e.current[p.Name] = &limits
		e.order = append(e.order, p.Name)
	}
	sort.SliceStable(e.order, func(i, j int) bool {
		pi, pj := e.profiles[e.order[i]], e.profiles[e.order[j]]
		if pi.Priority != pj.Priority {
			return pi.Priority < pj.Priority
		}
		return pi.Name < pj.Name
	})

	for _, opt := range opts {
		opt(e)
	}
	if e.maxMemoryMB <= 0 {
		for _, p := range profiles {
			e.maxMemoryMB += p.BaseLimits.MemoryMB * cfg.ExpansionCeiling
		}
	}

	e.metrics.SetMode(mode)
	return e, nil
}

// ApplyInitial pushes every service's starting limits to the applier.
// Failures are logged and the first one is returned; all services are attempted.
func (e *Engine) ApplyInitial(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	for _, name := range e.order {
		if err := e.applyService(ctx, name); err != nil && first == nil {
			first = err
		}
		e.metrics.SetAllocation(name, *e.current[name])
	}
	return first
}

// SetOperationMode changes the global mode. The overrides take effect on
// the next Tick, bypassing the adaptation cooldown.
func (e *Engine) SetOperationMode(mode models.OperationMode) error {
	if !mode.Valid() {
		return errs.Configuration("unknown operation mode %q", mode)
	}

	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	e.mu.Unlock()

	if prev != mode {
		e.logger.Info("Operation mode changed",
			zap.String("from", string(prev)),
			zap.String("to", string(mode)))
		e.metrics.SetMode(mode)
	}
	return nil
}

// Mode returns the current operation mode.
func (e *Engine) Mode() models.OperationMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Allocations returns a deep copy of the current limits table.
func (e *Engine) Allocations() map[string]models.ResourceLimits {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]models.ResourceLimits, len(e.current))
	for name, limits := range e.current {
		out[name] = limits.Clone()
	}
	return out
}

// Profiles returns the policy profiles in priority order.
func (e *Engine) Profiles() []models.ServiceResourceProfile {
	out := make([]models.ServiceResourceProfile, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.profiles[name])
	}
	return out
}

// Decisions returns the newest n decisions, oldest first. n < 0 returns all.
func (e *Engine) Decisions(n int) []models.AllocationDecision {
	return e.decisions.Last(n)
}

// LastAdaptation returns when the last pressure/idle/rebalance pass ran.
func (e *Engine) LastAdaptation() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAdaptation
}
