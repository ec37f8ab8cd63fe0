package registry_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/okian/dreamscore/internal/domain/gold"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/permutation"
	"github.com/okian/dreamscore/internal/domain/registry"
	"github.com/okian/dreamscore/internal/domain/scoring"
	"github.com/okian/dreamscore/internal/domain/validation"
	. "github.com/smartystreets/goconvey/convey"
)

// memLoader serves reference files from memory, keyed by path.
type memLoader struct {
	files map[string]string
}

func (m *memLoader) Standard(_ context.Context, q model.Question, path string) (*gold.Standard, error) {
	body, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no file %s", path)
	}
	return gold.Load(strings.NewReader(body), q)
}

func (m *memLoader) Template(_ context.Context, _ model.Question, path string) (*gold.IDSet, error) {
	body, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no file %s", path)
	}
	return gold.LoadIDs(strings.NewReader(body))
}

func newRegistry(t *testing.T, loader registry.Loader) *registry.Registry {
	t.Helper()
	scorer := scoring.NewScorer(scoring.WithTester(permutation.New(permutation.WithIterations(50))))
	r, err := registry.New([]registry.Definition{
		{ID: "5821621", Name: "DARPA-SC3", QuestionKey: "SC3", GoldStandard: "gold3.csv"},
		{ID: "5821575", Name: "DARPA-SC1", QuestionKey: "SC1", GoldStandard: "gold1.csv", Template: "tpl1.csv"},
	}, loader, scorer)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestRegistry(t *testing.T) {
	Convey("Given a registry with two evaluations", t, func() {
		loader := &memLoader{files: map[string]string{
			"gold1.csv": "SUBJECTID,SHEDDING_SC1\na,1\nb,0\nc,1\nd,0\n",
			"tpl1.csv":  "SUBJECTID,SHEDDING_SC1\na,\nb,\nc,\nd,\n",
			"gold3.csv": "SUBJECTID,LOGSYMPTSCORE_SC3\na,0.5\nb,1.5\nc,0.1\n",
		}}
		r := newRegistry(t, loader)
		ctx := context.Background()

		Convey("When listing evaluations", func() {
			list := r.Evaluations()

			Convey("Then they should be ordered by id with their questions bound", func() {
				So(len(list), ShouldEqual, 2)
				So(list[0].ID, ShouldEqual, "5821575")
				So(list[0].Question.OutcomeColumn, ShouldEqual, "SHEDDING_SC1")
				So(list[1].Question.Kind, ShouldEqual, model.KindContinuousCorrelation)
				So(list[1].Template, ShouldEqual, "gold3.csv")
			})
		})

		Convey("When validating against the template", func() {
			sub, err := r.Validate(ctx, "5821575", strings.NewReader("SUBJECTID,SHEDDING_SC1\nd,0.1\nc,0.9\nb,0.2\na,0.8\n"))

			Convey("Then a complete submission should pass and score", func() {
				So(err, ShouldBeNil)
				rec, err := r.Score(ctx, "5821575", sub)
				So(err, ShouldBeNil)
				So(rec.Metrics[model.MetricAUROC], ShouldAlmostEqual, 1.0, 1e-12)
			})
		})

		Convey("When the submission misses a subject", func() {
			_, err := r.Validate(ctx, "5821575", strings.NewReader("SUBJECTID,SHEDDING_SC1\nd,0.1\nc,0.9\nb,0.2\n"))

			Convey("Then it should be a validation error, not a configuration error", func() {
				So(errors.Is(err, validation.ErrInvalid), ShouldBeTrue)
				So(errors.Is(err, registry.ErrConfiguration), ShouldBeFalse)
				So(err.Error(), ShouldContainSubstring, "You are missing a")
			})
		})

		Convey("When the evaluation id is unknown", func() {
			_, errV := r.Validate(ctx, "42", strings.NewReader("SUBJECTID\n"))
			_, errS := r.Score(ctx, "42", nil)

			Convey("Then both entry points should report a configuration error", func() {
				So(errors.Is(errV, registry.ErrUnknownEvaluation), ShouldBeTrue)
				So(errors.Is(errV, registry.ErrConfiguration), ShouldBeTrue)
				So(errors.Is(errV, validation.ErrInvalid), ShouldBeFalse)
				So(errors.Is(errS, registry.ErrUnknownEvaluation), ShouldBeTrue)
			})
		})

		Convey("When scoring the continuous evaluation", func() {
			sub, err := r.Validate(ctx, "5821621", strings.NewReader("SUBJECTID,LOGSYMPTSCORE_SC3\nc,0.1\na,0.5\nb,1.5\n"))
			So(err, ShouldBeNil)
			detail, err := r.ScoreDetailed(ctx, "5821621", sub)

			Convey("Then the correlation should be perfect", func() {
				So(err, ShouldBeNil)
				So(detail.Record.Metrics[model.MetricScore], ShouldAlmostEqual, 1.0, 1e-9)
				So(detail.Permutation.Iterations, ShouldEqual, 50)
			})
		})
	})

	Convey("Given missing reference files", t, func() {
		r := newRegistry(t, &memLoader{files: map[string]string{}})
		_, err := r.Validate(context.Background(), "5821575", strings.NewReader("SUBJECTID,SHEDDING_SC1\na,1\n"))

		Convey("Then loading should fail as a reference error", func() {
			So(errors.Is(err, registry.ErrReference), ShouldBeTrue)
			So(errors.Is(err, registry.ErrConfiguration), ShouldBeFalse)
		})
	})
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	Convey("Given invalid definitions", t, func() {
		scorer := scoring.NewScorer()
		loader := &memLoader{}

		cases := []struct {
			name string
			defs []registry.Definition
		}{
			{"unknown question", []registry.Definition{{ID: "1", QuestionKey: "SC9", GoldStandard: "g"}}},
			{"duplicate id", []registry.Definition{{ID: "1", QuestionKey: "SC1", GoldStandard: "g"}, {ID: "1", QuestionKey: "SC2", GoldStandard: "g"}}},
			{"missing id", []registry.Definition{{QuestionKey: "SC1", GoldStandard: "g"}}},
			{"no gold", []registry.Definition{{ID: "1", QuestionKey: "SC1"}}},
		}
		for _, tc := range cases {
			Convey("When "+tc.name, func() {
				_, err := registry.New(tc.defs, loader, scorer)
				So(errors.Is(err, registry.ErrConfiguration), ShouldBeTrue)
			})
		}

		Convey("When the loader is nil", func() {
			_, err := registry.New(nil, nil, scorer)
			So(errors.Is(err, registry.ErrConfiguration), ShouldBeTrue)
		})
	})
}
