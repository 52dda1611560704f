// Package automation evaluates structured rules against the latest
// snapshot and efficiency scores and delegates matching actions to the
// allocation engine.
package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/history"
	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// DefaultTriggerHistory bounds the rule-trigger history.
const DefaultTriggerHistory = 200

// Allocator is the part of the allocation engine that actions drive.
type Allocator interface {
	ScaleNonCritical(ctx context.Context, fraction float64, reason string) []models.AllocationDecision
	ScaleMemory(ctx context.Context, fraction float64, reason string) []models.AllocationDecision
	ExpandAdaptive(ctx context.Context, reason string) []models.AllocationDecision
	ForceRebalance(ctx context.Context, snaps []models.ResourceSnapshot, reason string) []models.AllocationDecision
	SetOperationMode(mode models.OperationMode) error
	Mode() models.OperationMode
}

// Verifier decides whether a successful trigger actually fixed the
// condition. Without one, triggers are recorded as unverified.
type Verifier func(ctx context.Context, trigger models.RuleTrigger) bool

// Input is what rules are evaluated against.
type Input struct {
	Snapshot  models.ResourceSnapshot
	Scores    models.EfficiencyScores
	HasScores bool
	History   []models.ResourceSnapshot
}

// Engine evaluates automation rules.
type Engine struct {
	alloc    Allocator
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	verifier Verifier
	now      func() time.Time
	triggers *history.Ring[models.RuleTrigger]
	handlers map[models.Action]handlerFunc

	mu    sync.Mutex
	rules []models.AutomationRule
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches Prometheus telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVerifier sets the recovery verification predicate.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithTriggerHistory sets the capacity of the trigger history.
func WithTriggerHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.triggers = history.New[models.RuleTrigger](n)
		}
	}
}

// NewEngine validates rules and creates an engine. An empty rule set
// selects DefaultRules.
func NewEngine(rules []models.AutomationRule, alloc Allocator, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if alloc == nil {
		return nil, errs.Configuration("automation engine needs an allocator")
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		alloc:    alloc,
		logger:   logger.Named("automation"),
		now:      time.Now,
		triggers: history.New[models.RuleTrigger](DefaultTriggerHistory),
		handlers: handlers(),
	}
	for _, opt := range opts {
		opt(e)
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, errs.Configuration("%v", err)
		}
		if seen[r.ID] {
			return nil, errs.Configuration("duplicate rule id %q", r.ID)
		}
		if _, ok := e.handlers[r.Action]; !ok {
			return nil, errs.Configuration("rule %s: no handler for action %q", r.ID, r.Action)
		}
		seen[r.ID] = true
		e.rules = append(e.rules, copyRule(r))
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority < e.rules[j].Priority
	})
	return e, nil
}

// Evaluate runs every enabled, matching rule that is out of cooldown and
// under its attempt limit, in priority order, and returns the triggers.
func (e *Engine) Evaluate(ctx context.Context, in Input) []models.RuleTrigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []models.RuleTrigger
	for i := range e.rules {
		r := &e.rules[i]
		now := e.now()

		if !r.Enabled {
			continue
		}
		if r.LastTriggered != nil && now.Sub(*r.LastTriggered) < r.Cooldown() {
			continue
		}
		if r.MaxAttempts > 0 && r.TriggerCount >= r.MaxAttempts {
			continue
		}
		if !Matches(r.Condition, in) {
			continue
		}

		trigger := models.RuleTrigger{
			ID:        uuid.NewString(),
			RuleID:    r.ID,
			Action:    r.Action,
			Timestamp: now,
		}
		detail, err := e.handlers[r.Action](ctx, e.alloc, *r, in)
		if err != nil {
			trigger.Detail = err.Error()
			e.logger.Warn("Automation action failed",
				zap.String("rule", r.ID),
				zap.String("action", string(r.Action)),
				zap.Error(err))
		} else {
			trigger.Success = true
			trigger.Detail = detail
			e.logger.Info("Automation rule triggered",
				zap.String("rule", r.ID),
				zap.String("action", string(r.Action)),
				zap.String("detail", detail))
		}
		if trigger.Success && e.verifier != nil {
			trigger.Verified = e.verifier(ctx, trigger)
		}

		r.LastTriggered = &now
		r.TriggerCount++
		e.triggers.Push(trigger)
		e.metrics.RuleTriggered(r.ID, trigger.Success)
		fired = append(fired, trigger)
	}
	return fired
}

// SetEnabled enables or disables a rule by id.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return nil
		}
	}
	return errs.NotFound("rule %q", id)
}

// Rules returns a copy of the rules in priority order.
func (e *Engine) Rules() []models.AutomationRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.AutomationRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = copyRule(r)
	}
	return out
}

// Triggers returns the newest n triggers, oldest first. n < 0 returns all.
func (e *Engine) Triggers(n int) []models.RuleTrigger {
	return e.triggers.Last(n)
}

// Matches evaluates a condition. A clause on a value that is unavailable
// (no temperature reading, no efficiency scores yet) is false.
func Matches(c models.Condition, in Input) bool {
	if len(c.Clauses) == 0 {
		return false
	}
	for _, cl := range c.Clauses {
		v, ok := fieldValue(cl.Field, in)
		hit := ok && cl.Op.Compare(v, cl.Value)
		if c.Any && hit {
			return true
		}
		if !c.Any && !hit {
			return false
		}
	}
	return !c.Any
}

func fieldValue(f models.ConditionField, in Input) (float64, bool) {
	switch f {
	case models.FieldCPUPercent:
		return in.Snapshot.CPUPercent, true
	case models.FieldMemoryPercent:
		return in.Snapshot.MemoryPercent, true
	case models.FieldTemperature:
		if in.Snapshot.Temperature == nil {
			return 0, false
		}
		return *in.Snapshot.Temperature, true
	case models.FieldLoadAverage:
		return in.Snapshot.LoadAverage[0], true
	case models.FieldOverallEfficiency:
		return in.Scores.Overall, in.HasScores
	case models.FieldCPUEfficiency:
		return in.Scores.CPU, in.HasScores
	case models.FieldMemoryEfficiency:
		return in.Scores.Memory, in.HasScores
	default:
		return 0, false
	}
}

func copyRule(r models.AutomationRule) models.AutomationRule {
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		r.LastTriggered = &t
	}
	r.Condition.Clauses = append([]models.Clause(nil), r.Condition.Clauses...)
	return r
}

func describe(decisions []models.AllocationDecision) (string, error) {
	failed := 0
	for _, d := range decisions {
		if !d.Applied {
			failed++
		}
	}
	if failed > 0 {
		return "", fmt.Errorf("%d of %d decisions failed to apply: %w", failed, len(decisions), errs.ErrApply)
	}
	return fmt.Sprintf("%d allocation decisions", len(decisions)), nil
}
