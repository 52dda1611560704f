// Package scheduler runs the control loops. Each loop ticks in its own
// goroutine at a fixed interval; a tick that fails or panics is logged and
// the loop carries on with the next one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

// DefaultFailureThreshold is the number of consecutive failed ticks after
// which a loop is reported as failing.
const DefaultFailureThreshold = 3

// Loop is one periodic task.
type Loop struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single tick. Zero means Interval.
	Timeout time.Duration
	Tick    func(ctx context.Context) error
}

// Scheduler owns a set of loops.
type Scheduler struct {
	threshold int
	logger    *zap.Logger
	metrics   *telemetry.Metrics

	onFailure   func(loop string, failures int, err error)
	onRecovered func(loop string)

	mu       sync.Mutex
	loops    []Loop
	failures map[string]int
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches Prometheus telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler. A threshold <= 0 selects DefaultFailureThreshold.
func New(threshold int, logger *zap.Logger, opts ...Option) *Scheduler {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		threshold: threshold,
		logger:    logger.Named("scheduler"),
		failures:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a loop. It must be called before Run.
func (s *Scheduler) Add(l Loop) error {
	if l.Name == "" || l.Tick == nil {
		return errs.Configuration("loop needs a name and a tick function")
	}
	if l.Interval <= 0 {
		return errs.Configuration("loop %s: interval must be positive", l.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.loops {
		if existing.Name == l.Name {
			return errs.Configuration("duplicate loop %q", l.Name)
		}
	}
	if l.Timeout <= 0 {
		l.Timeout = l.Interval
	}
	s.loops = append(s.loops, l)
	return nil
}

// OnLoopFailure sets the callback invoked on every failed tick once a
// loop has failed threshold times in a row.
func (s *Scheduler) OnLoopFailure(fn func(loop string, failures int, err error)) {
	s.onFailure = fn
}

// OnLoopRecovered sets the callback invoked when a loop that crossed the
// failure threshold succeeds again.
func (s *Scheduler) OnLoopRecovered(fn func(loop string)) {
	s.onRecovered = fn
}

// Failures returns the current consecutive failure count of a loop.
func (s *Scheduler) Failures(loop string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[loop]
}

// Run starts every loop and blocks until ctx is cancelled and all loops
// have finished their current tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	loops := append([]Loop(nil), s.loops...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l Loop) {
			defer wg.Done()
			s.runLoop(ctx, l)
		}(l)
	}

	s.logger.Info("Control loops started", zap.Int("loops", len(loops)))
	wg.Wait()
	s.logger.Info("Control loops stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, l Loop) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	// Tick immediately, then on every interval.
	s.tick(ctx, l)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, l)
		}
	}
}

// tick runs one iteration and updates the failure bookkeeping.
func (s *Scheduler) tick(ctx context.Context, l Loop) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.safeTick(ctx, l)
	s.metrics.ObserveTick(l.Name, time.Since(start))

	s.mu.Lock()
	prev := s.failures[l.Name]
	if err != nil {
		s.failures[l.Name] = prev + 1
	} else {
		s.failures[l.Name] = 0
	}
	count := s.failures[l.Name]
	s.mu.Unlock()

	if err != nil {
		s.metrics.LoopFailed(l.Name)
		s.logger.Warn("Loop tick failed",
			zap.String("loop", l.Name),
			zap.Int("consecutive", count),
			zap.Error(err))
		if count >= s.threshold && s.onFailure != nil {
			s.onFailure(l.Name, count, err)
		}
		return
	}
	if prev >= s.threshold {
		s.logger.Info("Loop recovered", zap.String("loop", l.Name), zap.Int("after", prev))
		if s.onRecovered != nil {
			s.onRecovered(l.Name)
		}
	}
}

// safeTick runs the tick under its timeout and converts a panic into an error.
func (s *Scheduler) safeTick(ctx context.Context, l Loop) (err error) {
	tickCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.LoopPanicked(l.Name)
			s.logger.Error("Loop tick panicked",
				zap.String("loop", l.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("panic in loop %s: %v", l.Name, r)
		}
	}()
	return l.Tick(tickCtx)
}
