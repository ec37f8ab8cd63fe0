package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/dreamscore/internal/app"
	"github.com/okian/dreamscore/internal/domain/model"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func with(base []string, more ...string) []string {
	return append(slices.Clone(base), more...)
}

func TestScorectl(t *testing.T) {
	convey.Convey("Given a generated dataset", t, func() {
		dir := t.TempDir()
		common := []string{"--gold-dir", dir, "--iterations", "19"}
		_, err := execute(with(common, "generate", "--subjects", "20", "--qualities", "1,-1")...)
		convey.So(err, convey.ShouldBeNil)
		good := filepath.Join(dir, "submissions", "5821575", "quality_1.00.csv")
		bad := filepath.Join(dir, "submissions", "5821575", "quality_m1.00.csv")

		convey.Convey("When validating a generated submission", func() {
			out, err := execute(with(common, "validate", "5821575", good)...)

			convey.Convey("Then it should pass", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, service.ValidatedMessage)
			})
		})

		convey.Convey("When validating a file with an NA value", func() {
			broken := filepath.Join(t.TempDir(), "na.csv")
			body, _ := os.ReadFile(good)
			body = append(body, []byte("extra,NA\n")...)
			convey.So(os.WriteFile(broken, body, 0o600), convey.ShouldBeNil)
			out, err := execute(with(common, "validate", "5821575", broken)...)

			convey.Convey("Then the submitter message should be printed", func() {
				convey.So(errors.Is(err, ErrInvalidSubmission), convey.ShouldBeTrue)
				convey.So(out, convey.ShouldNotBeEmpty)
			})
		})

		convey.Convey("When scoring the perfect submission", func() {
			out, err := execute(with(common, "score", "5821575", good)...)
			convey.So(err, convey.ShouldBeNil)

			var res scoreOutput
			convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
			convey.So(res.Metrics[model.MetricAUROC], convey.ShouldAlmostEqual, 1.0, 1e-12)
			convey.So(res.Permutation, convey.ShouldBeNil)
		})

		convey.Convey("When scoring with zero permutation iterations", func() {
			out, err := execute("--gold-dir", dir, "--iterations", "0", "score", "5821575", good)
			convey.So(err, convey.ShouldBeNil)

			var res scoreOutput
			convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
			convey.So(res.Metrics[model.MetricAUROCPValue], convey.ShouldEqual, 1)
			convey.So(res.Metrics[model.MetricAUPRPValue], convey.ShouldEqual, 1)
		})

		convey.Convey("When evaluating into sqlite and ranking", func() {
			store := with(common, "--store", "sqlite", "--dsn", filepath.Join(t.TempDir(), "lb.db"))
			_, err := execute(with(store, "evaluate", "5821575", good, bad)...)
			convey.So(err, convey.ShouldBeNil)

			out, err := execute(with(store, "rank", "5821575")...)
			convey.So(err, convey.ShouldBeNil)
			var recs []model.RankRecord
			convey.So(json.Unmarshal([]byte(out), &recs), convey.ShouldBeNil)

			convey.Convey("Then both stored submissions should be ranked", func() {
				convey.So(len(recs), convey.ShouldEqual, 2)
				ranks := []float64{recs[0].FinalRank, recs[1].FinalRank}
				convey.So(ranks, convey.ShouldContain, 1.0)
				convey.So(ranks, convey.ShouldContain, 2.0)
			})

			convey.Convey("Then the leaderboard should list both rows", func() {
				out, err := execute(with(store, "leaderboard", "5821575")...)
				convey.So(err, convey.ShouldBeNil)
				var rows []model.LeaderboardRow
				convey.So(json.Unmarshal([]byte(out), &rows), convey.ShouldBeNil)
				convey.So(len(rows), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the evaluation id is unknown", func() {
			_, err := execute(with(common, "validate", "42", good)...)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, ErrInvalidSubmission), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given the evaluations command", t, func() {
		out, err := execute("evaluations")
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldContainSubstring, "5821583")
	})
}
