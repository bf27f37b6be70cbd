package timing

import (
	"math"
	"slices"
	"time"
)

// Stats summarizes the measured samples of one case.
type Stats struct {
	Iterations int           `json:"iterations"`
	Mean       time.Duration `json:"mean"`
	StdDev     time.Duration `json:"stddev"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	P50        time.Duration `json:"p50"`
	P90        time.Duration `json:"p90"`
	P99        time.Duration `json:"p99"`
	// RME is the relative margin of error of the mean at 95% confidence,
	// as a fraction of the mean.
	RME float64 `json:"rme"`
}

// Summarize computes Stats for samples. It does not modify samples.
func Summarize(samples []time.Duration) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}
	vals := make([]float64, n)
	for i, s := range samples {
		vals[i] = float64(s)
	}
	slices.Sort(vals)

	mean := avg(vals)
	sd := stddev(vals, mean)
	return Stats{
		Iterations: n,
		Mean:       time.Duration(mean),
		StdDev:     time.Duration(sd),
		Min:        time.Duration(vals[0]),
		Max:        time.Duration(vals[n-1]),
		P50:        time.Duration(percentile(vals, 50)),
		P90:        time.Duration(percentile(vals, 90)),
		P99:        time.Duration(percentile(vals, 99)),
		RME:        rme(mean, sd, n),
	}
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := pct / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func stddev(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

func rme(mean, sd float64, n int) float64 {
	if n < 2 || mean == 0 {
		return math.Inf(1)
	}
	return 1.96 * sd / math.Sqrt(float64(n)) / mean
}

// sampler accumulates samples with a running (Welford) variance so the
// adaptive stop rule is O(1) per iteration.
type sampler struct {
	samples []time.Duration
	mean    float64
	m2      float64
}

func (s *sampler) add(d time.Duration) {
	s.samples = append(s.samples, d)
	x := float64(d)
	delta := x - s.mean
	s.mean += delta / float64(len(s.samples))
	s.m2 += delta * (x - s.mean)
}

func (s *sampler) n() int {
	return len(s.samples)
}

func (s *sampler) rme() float64 {
	n := len(s.samples)
	if n < 2 {
		return math.Inf(1)
	}
	return rme(s.mean, math.Sqrt(s.m2/float64(n-1)), n)
}
