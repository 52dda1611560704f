package collector

import "time"

// counterRate turns a monotonically increasing counter into a per-second
// rate. The first update establishes the baseline and yields zero; a counter
// that goes backwards (reset or wrap) also yields zero and rebases.
type counterRate struct {
	last        uint64
	lastAt      time.Time
	initialized bool
}

func (r *counterRate) update(value uint64, at time.Time) float64 {
	defer func() {
		r.last = value
		r.lastAt = at
		r.initialized = true
	}()

	if !r.initialized || value < r.last {
		return 0
	}
	elapsed := at.Sub(r.lastAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(value-r.last) / elapsed
}
