package prediction

import (
	"fmt"
	"math"
	"sort"
)

// linearTrend fits a least-squares line over the newest samples, spaced
// sampleSpacing minutes apart, and extrapolates horizon minutes past the
// last one.
func linearTrend(values []float64, horizon int) float64 {
	if len(values) > trendWindow {
		values = values[len(values)-trendWindow:]
	}
	n := float64(len(values))
	if n < 2 {
		return clampPercent(values[len(values)-1])
	}

	var sx, sy, sxx, sxy float64
	for i, v := range values {
		x := float64(i) * sampleSpacing
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return clampPercent(sy / n)
	}
	slope := (n*sxy - sx*sy) / denom
	intercept := (sy - slope*sx) / n

	x := (n-1)*sampleSpacing + float64(horizon)
	return clampPercent(intercept + slope*x)
}

func ema(values []float64, alpha float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		out = alpha*v + (1-alpha)*out
	}
	return clampPercent(out)
}

// workloadEstimate extrapolates half of a rising, noisy recent delta and
// otherwise returns the recent mean.
func workloadEstimate(values []float64) float64 {
	recent, older := split(values)
	rMean := mean(recent)
	if len(older) == 0 {
		return clampPercent(rMean)
	}
	oMean := mean(older)
	if rMean > oMean && stddev(recent) > 5 {
		return clampPercent(rMean + (rMean-oMean)/2)
	}
	return clampPercent(rMean)
}

// factors explains the prediction in words.
func factors(metric string, values []float64, current, predicted float64) []string {
	var out []string

	recent, older := split(values)
	if len(older) > 0 {
		delta := mean(recent) - mean(older)
		switch {
		case delta > 2:
			out = append(out, "increasing trend")
		case delta < -2:
			out = append(out, "decreasing trend")
		}
	}

	window := values
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}
	switch sd := stddev(window); {
	case sd > 10:
		out = append(out, "high variability")
	case sd < 2:
		out = append(out, "stable pattern")
	}

	switch {
	case current > 80:
		out = append(out, fmt.Sprintf("high current %s", metric))
	case current < 20:
		out = append(out, fmt.Sprintf("low current %s", metric))
	}

	switch change := math.Abs(predicted - current); {
	case change > 20:
		out = append(out, "significant change expected")
	case change > 10:
		out = append(out, "moderate change expected")
	}
	return out
}

// split returns the newest recentWindow values and the recentWindow before them.
func split(values []float64) (recent, older []float64) {
	if len(values) <= recentWindow {
		return values, nil
	}
	recent = values[len(values)-recentWindow:]
	start := len(values) - 2*recentWindow
	if start < 0 {
		start = 0
	}
	return recent, values[start : len(values)-recentWindow]
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
