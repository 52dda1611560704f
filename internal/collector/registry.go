package collector

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Collection is the outcome of one CollectAll pass.
type Collection struct {
	Results map[string]interface{}
	// Failed holds the sorted names of collectors that errored or did not
	// return before the context expired.
	Failed []string
}

// Registry holds the collectors available on this host and runs them
// concurrently.
type Registry struct {
	collectors []Collector
	names      map[string]bool
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		names:  make(map[string]bool),
		logger: logger.Named("collector"),
	}
}

// Register adds a collector if it is available on this host and its name
// is not taken. It reports whether the collector was added.
func (r *Registry) Register(c Collector) bool {
	switch {
	case !c.IsAvailable():
		r.logger.Warn("Collector not available, skipping", zap.String("name", c.Name()))
		return false
	case r.names[c.Name()]:
		r.logger.Warn("Duplicate collector, skipping", zap.String("name", c.Name()))
		return false
	}
	r.collectors = append(r.collectors, c)
	r.names[c.Name()] = true
	r.logger.Debug("Registered collector", zap.String("name", c.Name()))
	return true
}

type outcome struct {
	name string
	data interface{}
	err  error
}

// CollectAll runs every collector concurrently and returns once all have
// finished or ctx expires, whichever comes first. Collectors still running
// at the deadline are reported as failed and their late results discarded.
func (r *Registry) CollectAll(ctx context.Context) Collection {
	coll := Collection{Results: make(map[string]interface{}, len(r.collectors))}
	if len(r.collectors) == 0 {
		return coll
	}

	// Buffered so late collectors never block after we stop listening.
	out := make(chan outcome, len(r.collectors))
	pending := make(map[string]bool, len(r.collectors))
	for _, c := range r.collectors {
		pending[c.Name()] = true
		go func(col Collector) {
			data, err := col.Collect(ctx)
			out <- outcome{name: col.Name(), data: data, err: err}
		}(c)
	}

	for len(pending) > 0 {
		select {
		case o := <-out:
			delete(pending, o.name)
			if o.err != nil {
				r.logger.Warn("Collection failed",
					zap.String("collector", o.name),
					zap.Error(o.err))
				coll.Failed = append(coll.Failed, o.name)
				continue
			}
			coll.Results[o.name] = o.data
		case <-ctx.Done():
			for name := range pending {
				r.logger.Warn("Collector timed out", zap.String("collector", name))
				coll.Failed = append(coll.Failed, name)
			}
			pending = nil
		}
	}

	sort.Strings(coll.Failed)
	return coll
}

// Collectors returns a copy of all registered collectors.
func (r *Registry) Collectors() []Collector {
	result := make([]Collector, len(r.collectors))
	copy(result, r.collectors)
	return result
}
