// Package sample generates synthetic gold standards, templates and
// submissions, and drives them through a running service.
package sample

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/dreamscore/internal/domain/model"
)

// Generation defaults.
const (
	DefaultSubjects     = 100
	DefaultPositiveRate = 0.4
	DefaultSeed         = 1

	filePermission      = 0o600
	directoryPermission = 0o750

	// LOGSYMPTSCORE values roughly follow this distribution.
	symptomMean  = 1.5
	symptomSigma = 1.0
)

// ErrQuality is returned for a prediction quality outside [-1, 1].
var ErrQuality = errors.New("quality must be in [-1, 1]")

// Option configures a Generator.
type Option func(*Generator)

// WithSubjects sets the number of subjects per reference.
func WithSubjects(n int) Option {
	return func(g *Generator) {
		if n > 1 {
			g.subjects = n
		}
	}
}

// WithPositiveRate sets the fraction of positive labels of binary questions.
func WithPositiveRate(rate float64) Option {
	return func(g *Generator) {
		if rate > 0 && rate < 1 {
			g.positiveRate = rate
		}
	}
}

// WithSeed makes generation reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// Generator produces synthetic challenge data.
type Generator struct {
	subjects     int
	positiveRate float64
	seed         uint64

	mu     sync.Mutex
	stream uint64
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		subjects:     DefaultSubjects,
		positiveRate: DefaultPositiveRate,
		seed:         DefaultSeed,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// rand returns a fresh deterministic generator; every call gets its own stream.
func (g *Generator) rand() *rand.Rand {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stream++
	return rand.New(rand.NewPCG(g.seed, g.stream)) //nolint:gosec // synthetic data
}

// Reference is a generated gold standard.
type Reference struct {
	Question model.Question
	IDs      []string
	Outcomes []float64
}

// Reference generates a gold standard for q. Binary questions always get at
// least one subject of each label.
func (g *Generator) Reference(q model.Question) Reference {
	rng := g.rand()
	ref := Reference{Question: q, IDs: make([]string, g.subjects), Outcomes: make([]float64, g.subjects)}
	for i := range ref.IDs {
		ref.IDs[i] = uuid.NewString()
	}

	switch q.Kind {
	case model.KindBinaryRanking:
		positives := int(math.Round(g.positiveRate * float64(g.subjects)))
		positives = max(1, min(positives, g.subjects-1))
		for _, i := range rng.Perm(g.subjects)[:positives] {
			ref.Outcomes[i] = 1
		}
	default:
		for i := range ref.Outcomes {
			ref.Outcomes[i] = math.Max(0, symptomMean+symptomSigma*rng.NormFloat64())
		}
	}
	return ref
}

// Predictions is a generated submission.
type Predictions struct {
	Question model.Question
	IDs      []string
	Values   []float64
}

// Predictions generates a submission for ref. A quality of 1 ranks the
// subjects exactly like the truth, 0 is noise and -1 is fully reversed.
func (g *Generator) Predictions(ref Reference, quality float64) (Predictions, error) {
	if quality < -1 || quality > 1 || math.IsNaN(quality) {
		return Predictions{}, fmt.Errorf("%w: %v", ErrQuality, quality)
	}
	rng := g.rand()
	mean, sd := stat.MeanStdDev(ref.Outcomes, nil)
	if sd == 0 {
		sd = 1
	}
	spread := math.Sqrt(1 - quality*quality)

	p := Predictions{Question: ref.Question, IDs: append([]string(nil), ref.IDs...), Values: make([]float64, len(ref.IDs))}
	for i, truth := range ref.Outcomes {
		p.Values[i] = quality*(truth-mean)/sd + spread*rng.NormFloat64()
	}
	if ref.Question.Kind == model.KindBinaryRanking {
		// Confidences are probabilities.
		for i, v := range p.Values {
			p.Values[i] = 1 / (1 + math.Exp(-v))
		}
	}
	return p, nil
}

// WriteGold writes the gold standard CSV.
func (r Reference) WriteGold(w io.Writer) error {
	return writeRows(w, r.Question.OutcomeColumn, r.IDs, func(i int) string { return formatFloat(r.Outcomes[i]) })
}

// WriteTemplate writes the submission template: identifiers with empty outcomes.
func (r Reference) WriteTemplate(w io.Writer) error {
	return writeRows(w, r.Question.OutcomeColumn, r.IDs, func(int) string { return "" })
}

// Write writes the submission CSV.
func (p Predictions) Write(w io.Writer) error {
	return writeRows(w, p.Question.OutcomeColumn, p.IDs, func(i int) string { return formatFloat(p.Values[i]) })
}

func writeRows(w io.Writer, column string, ids []string, value func(int) string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{model.IDColumn, column}); err != nil {
		return err
	}
	for i, id := range ids {
		if err := cw.Write([]string{id, value(i)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteFile writes data produced by write to path, creating parent directories.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), directoryPermission); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission) //nolint:gosec // operator path
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
