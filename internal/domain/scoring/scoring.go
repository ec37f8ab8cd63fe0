// Package scoring turns validated submissions into score records.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/dreamscore/internal/domain/curve"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/permutation"
	"github.com/okian/dreamscore/internal/domain/table"
	"github.com/okian/dreamscore/pkg/metrics"
)

var (
	// ErrAlignment is returned when submission rows cannot be paired with the reference.
	ErrAlignment = errors.New("submission does not align with reference")
	// ErrQuestion is returned for a question kind with no scorer.
	ErrQuestion = errors.New("no scorer for question")
)

// Reference supplies true outcomes by subject.
type Reference interface {
	IDs() []string
	Value(id string) (float64, bool)
}

// Pairs are predictions and outcomes lined up by subject identifier.
type Pairs struct {
	IDs       []string
	Predicted []float64
	Truth     []float64
}

// Detail is a score record with the intermediate results behind it.
type Detail struct {
	Record      model.ScoreRecord
	Permutation permutation.Result
	// Curve is set for binary questions only.
	Curve *curve.Curve
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithTester sets the permutation tester.
func WithTester(t *permutation.Tester) Option {
	return func(s *Scorer) {
		if t != nil {
			s.tester = t
		}
	}
}

// Scorer computes metrics for both question families. It holds no
// per-call state and is safe for concurrent use.
type Scorer struct {
	tester *permutation.Tester
}

// NewScorer creates a scorer with the default permutation tester.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{tester: permutation.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the score record of a validated submission.
func (s *Scorer) Score(ctx context.Context, sub *table.Table, ref Reference, q model.Question) (model.ScoreRecord, error) {
	d, err := s.ScoreDetailed(ctx, sub, ref, q)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return d.Record, nil
}

// ScoreDetailed is Score plus the permutation summary and curve.
func (s *Scorer) ScoreDetailed(ctx context.Context, sub *table.Table, ref Reference, q model.Question) (Detail, error) {
	start := time.Now()
	defer func() {
		metrics.RecordScoringLatency(q.Kind.String(), float64(time.Since(start).Milliseconds()))
	}()

	pairs, err := Align(sub, ref, q)
	if err != nil {
		return Detail{}, err
	}
	switch q.Kind {
	case model.KindBinaryRanking:
		return s.scoreBinary(ctx, pairs)
	case model.KindContinuousCorrelation:
		return s.scoreContinuous(ctx, pairs)
	default:
		return Detail{}, fmt.Errorf("%w: %s (%s)", ErrQuestion, q.Key, q.Kind)
	}
}

// Align pairs every reference subject with its submitted prediction, in
// reference identifier order. Row order in the submission is irrelevant.
func Align(sub *table.Table, ref Reference, q model.Question) (Pairs, error) {
	ids, ok := sub.Column(model.IDColumn)
	if !ok {
		return Pairs{}, fmt.Errorf("%w: %s column missing", ErrAlignment, model.IDColumn)
	}
	cells, ok := sub.Column(q.OutcomeColumn)
	if !ok {
		return Pairs{}, fmt.Errorf("%w: %s column missing", ErrAlignment, q.OutcomeColumn)
	}
	if len(ids) != len(ref.IDs()) {
		return Pairs{}, fmt.Errorf("%w: %d rows for %d subjects", ErrAlignment, len(ids), len(ref.IDs()))
	}

	byID := make(map[string]float64, len(ids))
	for i, id := range ids {
		v, ok := table.ParseNumber(cells[i])
		if !ok {
			return Pairs{}, fmt.Errorf("%w: %s=%q is not numeric", ErrAlignment, id, cells[i])
		}
		byID[id] = v
	}

	refIDs := ref.IDs()
	p := Pairs{
		IDs:       refIDs,
		Predicted: make([]float64, len(refIDs)),
		Truth:     make([]float64, len(refIDs)),
	}
	for i, id := range refIDs {
		pred, ok := byID[id]
		if !ok {
			return Pairs{}, fmt.Errorf("%w: no prediction for %s", ErrAlignment, id)
		}
		truth, _ := ref.Value(id)
		p.Predicted[i] = pred
		p.Truth[i] = truth
	}
	return p, nil
}

func curveStatistic(predicted, truth []float64) ([]float64, error) {
	roc, pr, err := curve.Areas(predicted, truth)
	if err != nil {
		return nil, err
	}
	return []float64{roc, pr}, nil
}

func correlationStatistic(predicted, truth []float64) ([]float64, error) {
	return []float64{Pearson(predicted, truth)}, nil
}

func (s *Scorer) scoreBinary(ctx context.Context, p Pairs) (Detail, error) {
	c, err := curve.Build(p.Predicted, p.Truth)
	if err != nil {
		return Detail{}, fmt.Errorf("curve: %w", err)
	}
	res, err := s.tester.Test(ctx, p.Predicted, p.Truth, curveStatistic)
	if err != nil {
		return Detail{}, fmt.Errorf("permutation: %w", err)
	}
	rocP, prP := res.PValues[0], res.PValues[1]
	return Detail{
		Record: model.ScoreRecord{
			Metrics: map[string]float64{
				model.MetricAUROC:       c.ROC,
				model.MetricAUPR:        c.PR,
				model.MetricAUROCPValue: rocP,
				model.MetricAUPRPValue:  prP,
			},
			Message: fmt.Sprintf("AUROC: %.4f, AUPR: %.4f, nAUROC_pVal: %.4g, nAUPR_pVal: %.4g", c.ROC, c.PR, rocP, prP),
		},
		Permutation: res,
		Curve:       &c,
	}, nil
}

func (s *Scorer) scoreContinuous(ctx context.Context, p Pairs) (Detail, error) {
	r := Pearson(p.Predicted, p.Truth)
	res, err := s.tester.Test(ctx, p.Predicted, p.Truth, correlationStatistic)
	if err != nil {
		return Detail{}, fmt.Errorf("permutation: %w", err)
	}
	return Detail{
		Record: model.ScoreRecord{
			Metrics: map[string]float64{
				model.MetricScore:  r,
				model.MetricPValue: res.PValues[0],
			},
			Message: fmt.Sprintf("Your score is: %.2f", r),
		},
		Permutation: res,
	}, nil
}

// Pearson returns the correlation of x and y, or 0 when it is undefined
// (fewer than two rows or a constant series).
func Pearson(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}
