// Package permutation implements the label-shuffle significance test.
package permutation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/dreamscore/pkg/metrics"
	"github.com/okian/dreamscore/pkg/parallel"
)

// Defaults used by the scoring service.
const (
	DefaultIterations = 10000
	DefaultSeed       = 42
	nullPercentile    = 95
)

// ErrStatistic is returned when a statistic yields an inconsistent result.
var ErrStatistic = errors.New("permutation statistic failed")

// Statistic computes one or more statistics of predictions against truth.
// It must not modify its arguments.
type Statistic func(predicted, truth []float64) ([]float64, error)

// Compare reports whether a shuffled statistic counts against the observed one.
type Compare func(shuffled, observed float64) bool

// AtLeast counts shuffles whose statistic is greater than or equal to the observed one.
func AtLeast(shuffled, observed float64) bool { return shuffled >= observed }

// Summary describes the null distribution of one statistic.
type Summary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	P95    float64 `json:"p95"`
	// NormalPValue is the upper tail of a normal fitted to the null.
	NormalPValue float64 `json:"normalPValue"`
}

// Result is the outcome of one permutation test.
type Result struct {
	Observed   []float64 `json:"observed"`
	PValues    []float64 `json:"pValues"`
	Iterations int       `json:"iterations"`
	Null       []Summary `json:"null"`
}

// Tester runs permutation tests with a fixed seed policy.
type Tester struct {
	iterations int
	workers    int
	seed       uint64
	compare    Compare
}

// New creates a tester. Defaults: 10000 iterations, serial, seed 42, AtLeast.
func New(opts ...Option) *Tester {
	t := &Tester{
		iterations: DefaultIterations,
		workers:    1,
		seed:       DefaultSeed,
		compare:    AtLeast,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Iterations returns the configured shuffle count.
func (t *Tester) Iterations() int { return t.iterations }

// Test shuffles predicted against fixed truth and returns
// p = (1 + #{shuffled counts}) / (iterations + 1) per statistic.
// Iteration i shuffles its own copy with a generator seeded by (seed, i),
// so the result does not depend on the worker count.
func (t *Tester) Test(ctx context.Context, predicted, truth []float64, stat Statistic) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPermutationLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(predicted) != len(truth) {
		return Result{}, fmt.Errorf("%w: %d predictions for %d outcomes", ErrStatistic, len(predicted), len(truth))
	}
	observed, err := stat(predicted, truth)
	if err != nil {
		return Result{}, fmt.Errorf("%w: observed: %w", ErrStatistic, err)
	}
	if len(observed) == 0 {
		return Result{}, fmt.Errorf("%w: no statistics", ErrStatistic)
	}

	shuffled, err := parallel.Map(ctx, t.iterations, t.workers, func(_ context.Context, i int) ([]float64, error) {
		rng := rand.New(rand.NewPCG(t.seed, uint64(i))) //nolint:gosec // reproducible shuffles
		perm := slices.Clone(predicted)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		values, err := stat(perm, truth)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		if len(values) != len(observed) {
			return nil, fmt.Errorf("iteration %d: %d statistics, want %d", i, len(values), len(observed))
		}
		return values, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStatistic, err)
	}
	metrics.RecordPermutationIterations(t.iterations)

	res := Result{
		Observed:   observed,
		PValues:    make([]float64, len(observed)),
		Iterations: t.iterations,
		Null:       make([]Summary, len(observed)),
	}
	for k, obs := range observed {
		column := make([]float64, len(shuffled))
		count := 0
		for i, values := range shuffled {
			column[i] = values[k]
			if t.compare(values[k], obs) {
				count++
			}
		}
		res.PValues[k] = float64(1+count) / float64(t.iterations+1)
		res.Null[k] = summarize(column, obs)
	}
	return res, nil
}

func summarize(null []float64, observed float64) Summary {
	if len(null) == 0 {
		return Summary{NormalPValue: 1}
	}
	data := stats.Float64Data(null)
	mean, _ := stats.Mean(data)
	sd, _ := stats.StandardDeviation(data)
	p95, _ := stats.Percentile(data, nullPercentile)

	s := Summary{Mean: mean, StdDev: sd, P95: p95}
	switch {
	case sd > 0 && !math.IsNaN(sd):
		s.NormalPValue = distuv.Normal{Mu: mean, Sigma: sd}.Survival(observed)
	case observed > mean:
		s.NormalPValue = 0
	default:
		s.NormalPValue = 1
	}
	return s
}
