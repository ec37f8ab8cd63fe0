package ranking_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func binaryRow(id string, auroc, aupr, aurocP, auprP float64) model.LeaderboardRow {
	return model.LeaderboardRow{ObjectID: id, Metrics: map[string]float64{
		model.MetricAUROC: auroc, model.MetricAUPR: aupr,
		model.MetricAUROCPValue: aurocP, model.MetricAUPRPValue: auprP,
	}}
}

func TestCompetitionRank(t *testing.T) {
	Convey("Given values with ties", t, func() {
		Convey("When ranking descending", func() {
			So(ranking.CompetitionRank([]float64{0.9, 0.8, 0.8}, true), ShouldResemble, []int{1, 2, 2})
			So(ranking.CompetitionRank([]float64{0.7, 0.7, 0.6}, true), ShouldResemble, []int{1, 1, 3})
			So(ranking.CompetitionRank([]float64{3, 5, 5, 5, 1}, true), ShouldResemble, []int{4, 1, 1, 1, 5})
		})

		Convey("When ranking ascending", func() {
			So(ranking.CompetitionRank([]float64{1, 1.5, 2.5}, false), ShouldResemble, []int{1, 2, 3})
			So(ranking.CompetitionRank([]float64{2, 1, 2}, false), ShouldResemble, []int{2, 1, 2})
		})

		Convey("When a value is NaN", func() {
			So(ranking.CompetitionRank([]float64{math.NaN(), 0.2, 0.9, math.NaN()}, true), ShouldResemble, []int{3, 2, 1, 3})
		})

		Convey("When empty", func() {
			So(ranking.CompetitionRank(nil, true), ShouldBeEmpty)
		})
	})
}

func TestRankBinary(t *testing.T) {
	Convey("Given three binary submissions", t, func() {
		rows := []model.LeaderboardRow{
			binaryRow("s1", 0.9, 0.7, 0.01, 0.2),
			binaryRow("s2", 0.8, 0.7, 0.04, 0.04),
			binaryRow("s3", 0.8, 0.6, 0.05, 0.5),
		}

		Convey("When ranked", func() {
			recs, err := ranking.NewAggregator().Rank(model.SC1, rows)

			Convey("Then the averaged rank should break the AUROC tie using AUPR", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 3)
				So(recs[0].FinalRank, ShouldEqual, 1)
				So(recs[1].FinalRank, ShouldEqual, 2)
				So(recs[2].FinalRank, ShouldEqual, 3)
				So(recs[2].SubmissionID, ShouldEqual, "s3")
			})

			Convey("Then p-values should be flagged against 0.05 strictly", func() {
				So(recs[0].Significant[model.MetricAUROCPValue], ShouldBeTrue)
				So(recs[0].Significant[model.MetricAUPRPValue], ShouldBeFalse)
				So(recs[1].Significant[model.MetricAUPRPValue], ShouldBeTrue)
				So(recs[2].Significant[model.MetricAUROCPValue], ShouldBeFalse)
			})

			Convey("Then annotations should carry the final rank and string booleans", func() {
				ann := ranking.Annotations(model.SC1, recs[0])
				So(ann.Doubles[ranking.AnnotationFinalRank], ShouldEqual, 1)
				So(ann.Strings[ranking.AnnotationAUROCSignificant], ShouldEqual, "true")
				So(ann.Strings[ranking.AnnotationAUPRSignificant], ShouldEqual, "false")
				So(ann.Strings, ShouldNotContainKey, ranking.AnnotationSignificant)
			})
		})

		Convey("When every submission ties", func() {
			tied := []model.LeaderboardRow{binaryRow("a", 0.5, 0.5, 1, 1), binaryRow("b", 0.5, 0.5, 1, 1)}
			recs, err := ranking.NewAggregator().Rank(model.SC2, tied)
			So(err, ShouldBeNil)
			So(recs[0].FinalRank, ShouldEqual, 1)
			So(recs[1].FinalRank, ShouldEqual, 1)
		})
	})
}

func TestRankContinuous(t *testing.T) {
	Convey("Given continuous submissions", t, func() {
		rows := []model.LeaderboardRow{
			{ObjectID: "a", Metrics: map[string]float64{model.MetricScore: 0.2, model.MetricPValue: 0.3}},
			{ObjectID: "b", Metrics: map[string]float64{model.MetricScore: 0.6, model.MetricPValue: 0.001}},
			{ObjectID: "c", Metrics: map[string]float64{model.MetricScore: 0.6, model.MetricPValue: 0.02}},
			{ObjectID: "d", Metrics: map[string]float64{}},
		}

		Convey("When ranked with a custom threshold", func() {
			agg := ranking.NewAggregator(ranking.WithSignificanceThreshold(0.01))
			recs, err := agg.Rank(model.SC3, rows)

			Convey("Then score should rank descending with missing values last", func() {
				So(err, ShouldBeNil)
				So(agg.Threshold(), ShouldEqual, 0.01)
				So([]float64{recs[0].FinalRank, recs[1].FinalRank, recs[2].FinalRank, recs[3].FinalRank},
					ShouldResemble, []float64{3, 1, 1, 4})
			})

			Convey("Then significance should use the custom threshold", func() {
				So(recs[1].Significant[model.MetricPValue], ShouldBeTrue)
				So(recs[2].Significant[model.MetricPValue], ShouldBeFalse)
				So(recs[3].Significant[model.MetricPValue], ShouldBeFalse)
				ann := ranking.Annotations(model.SC3, recs[1])
				So(ann.Strings[ranking.AnnotationSignificant], ShouldEqual, "true")
			})
		})
	})

	Convey("Given an unknown question", t, func() {
		_, err := ranking.NewAggregator().Rank(model.Question{Key: "X"}, nil)
		So(errors.Is(err, ranking.ErrQuestion), ShouldBeTrue)
	})

	Convey("Given an out of range threshold", t, func() {
		So(ranking.NewAggregator(ranking.WithSignificanceThreshold(2)).Threshold(), ShouldEqual, ranking.DefaultSignificanceThreshold)
	})
}
