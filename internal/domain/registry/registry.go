// Package registry resolves evaluation queues to their question, validator and scorer.
//
// A Registry is built once at startup and never modified; every entry binds
// its validator and scorer when the registry is constructed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/okian/dreamscore/internal/domain/gold"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/scoring"
	"github.com/okian/dreamscore/internal/domain/table"
	"github.com/okian/dreamscore/internal/domain/validation"
)

var (
	// ErrConfiguration marks operator-facing errors that are never shown to submitters.
	ErrConfiguration = errors.New("scoring configuration error")
	// ErrUnknownEvaluation is returned for an evaluation id with no entry.
	ErrUnknownEvaluation = fmt.Errorf("%w: unknown evaluation", ErrConfiguration)
	// ErrReference is returned when a gold standard or template cannot be loaded.
	ErrReference = errors.New("reference data unavailable")
)

// Loader provides reference data for a question.
type Loader interface {
	Standard(ctx context.Context, q model.Question, path string) (*gold.Standard, error)
	Template(ctx context.Context, q model.Question, path string) (*gold.IDSet, error)
}

// Definition describes one evaluation queue.
type Definition struct {
	ID           string
	Name         string
	QuestionKey  string
	GoldStandard string
	// Template defaults to GoldStandard when empty.
	Template string
}

// Entry is a resolved evaluation.
type Entry struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Question     model.Question `json:"question"`
	GoldStandard string         `json:"-"`
	Template     string         `json:"-"`

	validate func(ctx context.Context, sub *table.Table) error
	score    func(ctx context.Context, sub *table.Table) (scoring.Detail, error)
}

// Registry is an immutable evaluation table.
type Registry struct {
	entries map[string]Entry
	ids     []string
}

// New resolves every definition. Unknown question keys and duplicate ids
// are configuration errors.
func New(defs []Definition, loader Loader, scorer *scoring.Scorer) (*Registry, error) {
	if loader == nil || scorer == nil {
		return nil, fmt.Errorf("%w: loader and scorer are required", ErrConfiguration)
	}
	r := &Registry{entries: make(map[string]Entry, len(defs))}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: evaluation without id", ErrConfiguration)
		}
		if _, dup := r.entries[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate evaluation %s", ErrConfiguration, def.ID)
		}
		q, ok := model.QuestionByKey(def.QuestionKey)
		if !ok {
			return nil, fmt.Errorf("%w: evaluation %s has unknown question %q", ErrConfiguration, def.ID, def.QuestionKey)
		}
		if def.GoldStandard == "" {
			return nil, fmt.Errorf("%w: evaluation %s has no gold standard", ErrConfiguration, def.ID)
		}
		template := def.Template
		if template == "" {
			template = def.GoldStandard
		}
		r.entries[def.ID] = bind(Entry{
			ID:           def.ID,
			Name:         def.Name,
			Question:     q,
			GoldStandard: def.GoldStandard,
			Template:     template,
		}, loader, scorer)
		r.ids = append(r.ids, def.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func bind(e Entry, loader Loader, scorer *scoring.Scorer) Entry {
	q, goldPath, templatePath := e.Question, e.GoldStandard, e.Template
	e.validate = func(ctx context.Context, sub *table.Table) error {
		ref, err := loader.Template(ctx, q, templatePath)
		if err != nil {
			return fmt.Errorf("%w: template for %s: %w", ErrReference, q.Key, err)
		}
		_, err = validation.Validate(sub, ref, q)
		return err
	}
	e.score = func(ctx context.Context, sub *table.Table) (scoring.Detail, error) {
		ref, err := loader.Standard(ctx, q, goldPath)
		if err != nil {
			return scoring.Detail{}, fmt.Errorf("%w: gold standard for %s: %w", ErrReference, q.Key, err)
		}
		return scorer.ScoreDetailed(ctx, sub, ref, q)
	}
	return e
}

// Lookup returns the entry for an evaluation id.
func (r *Registry) Lookup(id string) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEvaluation, id)
	}
	return e, nil
}

// Evaluations lists the entries ordered by id.
func (r *Registry) Evaluations() []Entry {
	out := make([]Entry, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.entries[id])
	}
	return out
}

// Validate parses and validates a submission for the evaluation. Parse and
// rule failures match validation.ErrInvalid.
func (r *Registry) Validate(ctx context.Context, evaluationID string, rd io.Reader) (*table.Table, error) {
	e, err := r.Lookup(evaluationID)
	if err != nil {
		return nil, err
	}
	sub, err := validation.Parse(rd)
	if err != nil {
		return nil, err
	}
	if err := e.validate(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Score scores a validated submission for the evaluation.
func (r *Registry) Score(ctx context.Context, evaluationID string, sub *table.Table) (model.ScoreRecord, error) {
	d, err := r.ScoreDetailed(ctx, evaluationID, sub)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return d.Record, nil
}

// ScoreDetailed is Score with the permutation summary and curve attached.
func (r *Registry) ScoreDetailed(ctx context.Context, evaluationID string, sub *table.Table) (scoring.Detail, error) {
	e, err := r.Lookup(evaluationID)
	if err != nil {
		return scoring.Detail{}, err
	}
	return e.score(ctx, sub)
}
