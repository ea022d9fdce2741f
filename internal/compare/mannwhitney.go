// Package compare implements the statistical primitive behind decision
// tasks: a non-parametric two-sample rank-sum test classifying a measured
// change as significant or noise.
package compare

import (
	"math"
	"sort"
)

// MannWhitneyU returns the two-sided p-value of the Mann-Whitney U test for
// two independent samples, using the normal approximation with tie
// correction and continuity correction. The approximation is sound for
// sample sizes above ~20; degenerate inputs (an empty sample, or all values
// identical so the tie correction collapses) return the trivial p-value 1.0
// instead of failing, keeping decision tasks total.
func MannWhitneyU(x, y []float64) float64 {
	n1 := float64(len(x))
	n2 := float64(len(y))
	if n1 == 0 || n2 == 0 {
		return 1.0
	}
	n := n1 + n2
	if n*n*n-n == 0 {
		return 1.0
	}

	ranks, tieTerm := jointRanks(x, y)

	var rankSumX float64
	for i := range x {
		rankSumX += ranks[i]
	}

	u1 := n1*n2 + n1*(n1+1)/2 - rankSumX
	u2 := n1*n2 - u1

	t := 1 - tieTerm/(n*n*n-n)
	if t == 0 {
		return 1.0
	}
	sd := math.Sqrt(t * n1 * n2 * (n + 1) / 12)

	bigU := math.Max(u1, u2)
	z := (bigU - (n1*n2/2 + 0.5)) / sd

	p := 2 * (1 - normalCDF(math.Abs(z)))
	return math.Min(math.Max(p, 0), 1)
}

// jointRanks assigns fractional ranks over the concatenation of x and y,
// ties receiving the mean of their tied ranks. It returns the ranks in
// input order (x first, then y) and the accumulated tie term Σ(c³−c).
func jointRanks(x, y []float64) ([]float64, float64) {
	n := len(x) + len(y)
	idx := make([]int, n)
	values := make([]float64, n)
	copy(values, x)
	copy(values[len(x):], y)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, n)
	var tieTerm float64
	for i := 0; i < n; {
		j := i
		for j < n && values[idx[j]] == values[idx[i]] {
			j++
		}
		// Positions i..j-1 are tied; each gets the mean rank.
		mean := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = mean
		}
		c := float64(j - i)
		tieTerm += c*c*c - c
		i = j
	}
	return ranks, tieTerm
}

// normalCDF is Φ, the standard normal CDF, via the error function.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
