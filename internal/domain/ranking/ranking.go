// Package ranking aggregates leaderboard scores into final ranks.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/okian/dreamscore/internal/domain/model"
)

// DefaultSignificanceThreshold is the p-value below which a score is flagged significant.
const DefaultSignificanceThreshold = 0.05

// Annotation keys written back onto submission statuses.
const (
	AnnotationFinalRank        = "finalRank"
	AnnotationAUPRSignificant  = "AUPRpVal_boolean"
	AnnotationAUROCSignificant = "AUROCpVal_boolean"
	AnnotationSignificant      = "booleanpVal"
)

// ErrQuestion is returned for a question kind that cannot be ranked.
var ErrQuestion = errors.New("no ranking for question")

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithSignificanceThreshold sets the p-value cut-off.
func WithSignificanceThreshold(threshold float64) Option {
	return func(a *Aggregator) {
		if threshold > 0 && threshold <= 1 {
			a.threshold = threshold
		}
	}
}

// Aggregator ranks the rows of one leaderboard.
type Aggregator struct {
	threshold float64
}

// NewAggregator creates an aggregator with the default threshold.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{threshold: DefaultSignificanceThreshold}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the significance cut-off.
func (a *Aggregator) Threshold() float64 { return a.threshold }

// Rank computes one record per row, in row order.
//
// Binary questions rank AUPR and AUROC descending, average the two ranks and
// rank the average ascending. Continuous questions rank score descending.
func (a *Aggregator) Rank(q model.Question, rows []model.LeaderboardRow) ([]model.RankRecord, error) {
	out := make([]model.RankRecord, len(rows))
	switch q.Kind {
	case model.KindBinaryRanking:
		aupr := CompetitionRank(column(rows, model.MetricAUPR), true)
		auroc := CompetitionRank(column(rows, model.MetricAUROC), true)
		avg := make([]float64, len(rows))
		for i := range rows {
			avg[i] = float64(aupr[i]+auroc[i]) / 2
		}
		final := CompetitionRank(avg, false)
		for i, row := range rows {
			out[i] = model.RankRecord{
				SubmissionID: row.ObjectID,
				FinalRank:    float64(final[i]),
				Significant: map[string]bool{
					model.MetricAUPRPValue:  a.significant(row, model.MetricAUPRPValue),
					model.MetricAUROCPValue: a.significant(row, model.MetricAUROCPValue),
				},
			}
		}
	case model.KindContinuousCorrelation:
		final := CompetitionRank(column(rows, model.MetricScore), true)
		for i, row := range rows {
			out[i] = model.RankRecord{
				SubmissionID: row.ObjectID,
				FinalRank:    float64(final[i]),
				Significant: map[string]bool{
					model.MetricPValue: a.significant(row, model.MetricPValue),
				},
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrQuestion, q.Key)
	}
	return out, nil
}

// NaN never counts as significant.
func (a *Aggregator) significant(row model.LeaderboardRow, metric string) bool {
	p, ok := row.Metrics[metric]
	return ok && p < a.threshold
}

func column(rows []model.LeaderboardRow, metric string) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		v, ok := row.Metrics[metric]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// CompetitionRank ranks values so that ties share a rank and the next
// distinct value skips ahead by the tie size (1, 2, 2, 4). NaN values rank
// last and tie with each other.
func CompetitionRank(values []float64, descending bool) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	better := func(x, y float64) bool {
		if math.IsNaN(x) || math.IsNaN(y) {
			return !math.IsNaN(x) && math.IsNaN(y)
		}
		if descending {
			return x > y
		}
		return x < y
	}
	sort.SliceStable(order, func(i, j int) bool { return better(values[order[i]], values[order[j]]) })

	ranks := make([]int, len(values))
	for pos, idx := range order {
		if pos > 0 && same(values[idx], values[order[pos-1]]) {
			ranks[idx] = ranks[order[pos-1]]
			continue
		}
		ranks[idx] = pos + 1
	}
	return ranks
}

func same(x, y float64) bool {
	return x == y || (math.IsNaN(x) && math.IsNaN(y))
}

// Annotations converts a rank record into the annotations stored on a submission status.
func Annotations(q model.Question, rec model.RankRecord) model.Annotations {
	ann := model.Annotations{
		Strings: map[string]string{},
		Doubles: map[string]float64{AnnotationFinalRank: rec.FinalRank},
	}
	switch q.Kind {
	case model.KindBinaryRanking:
		ann.Strings[AnnotationAUPRSignificant] = strconv.FormatBool(rec.Significant[model.MetricAUPRPValue])
		ann.Strings[AnnotationAUROCSignificant] = strconv.FormatBool(rec.Significant[model.MetricAUROCPValue])
	case model.KindContinuousCorrelation:
		ann.Strings[AnnotationSignificant] = strconv.FormatBool(rec.Significant[model.MetricPValue])
	}
	return ann
}
