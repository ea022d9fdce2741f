package compare

import (
	"math"

	"github.com/ashita-ai/hakari/internal/model"
)

// Verdict classifies the comparison of two sample sets.
type Verdict string

const (
	// Pending means there aren't enough samples yet to decide either way.
	Pending Verdict = "pending"
	// Same means the samples are statistically indistinguishable.
	Same Verdict = "same"
	// Different means the samples differ significantly.
	Different Verdict = "different"
	// Unknown means the p-value landed between the thresholds; more
	// repetitions are needed to call it.
	Unknown Verdict = "unknown"
)

// Options tune the significance thresholds of Compare.
type Options struct {
	// LowThreshold: p-values at or below it are Different.
	LowThreshold float64
	// HighThreshold: p-values above it are Same; between the two is
	// Unknown.
	HighThreshold float64
	// MinSamples is the per-sample size below which the verdict is
	// Pending.
	MinSamples int
}

// DefaultOptions derives thresholds from the job's comparison mode and the
// caller-provided magnitude (the effect size worth detecting, scaled by the
// caller against the samples' spread). Larger magnitudes need fewer
// samples.
func DefaultOptions(mode model.ComparisonMode, magnitude float64) Options {
	opts := Options{
		LowThreshold:  0.01,
		HighThreshold: 0.05,
		MinSamples:    10,
	}
	if mode == model.CompareFunctional {
		opts.HighThreshold = 0.02
	}
	if magnitude > 0 {
		needed := int(math.Ceil(10 / magnitude))
		opts.MinSamples = min(max(needed, 5), 100)
	}
	return opts
}

// Compare runs the rank-sum test over two sample sets and classifies the
// result against opts. Pure and deterministic.
func Compare(a, b []float64, opts Options) Verdict {
	if len(a) < opts.MinSamples || len(b) < opts.MinSamples {
		return Pending
	}
	p := MannWhitneyU(a, b)
	switch {
	case p <= opts.LowThreshold:
		return Different
	case p > opts.HighThreshold:
		return Same
	default:
		return Unknown
	}
}
