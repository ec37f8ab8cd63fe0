// Package gold holds the immutable reference outcomes of a question.
package gold

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/table"
)

// ErrInvalid marks a gold standard that cannot be used for scoring.
var ErrInvalid = errors.New("invalid gold standard")

// Standard maps subject identifiers to true outcomes. It is never mutated after construction.
type Standard struct {
	question model.Question
	ids      []string
	values   map[string]float64
}

// Load parses and builds a gold standard from CSV.
func Load(r io.Reader, q model.Question) (*Standard, error) {
	t, err := table.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return FromTable(t, q)
}

// FromTable builds a gold standard from a parsed table.
func FromTable(t *table.Table, q model.Question) (*Standard, error) {
	ids, ok := t.Column(model.IDColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s column missing", ErrInvalid, model.IDColumn)
	}
	cells, ok := t.Column(q.OutcomeColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s column missing", ErrInvalid, q.OutcomeColumn)
	}
	values := make(map[string]float64, len(ids))
	for i, cell := range cells {
		v, ok := table.ParseNumber(cell)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%q is not numeric", ErrInvalid, ids[i], cell)
		}
		values[ids[i]] = v
	}
	return New(q, ids, values)
}

// New builds a gold standard from identifiers and their outcomes.
func New(q model.Question, ids []string, values map[string]float64) (*Standard, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no subjects", ErrInvalid)
	}
	s := &Standard{
		question: q,
		ids:      make([]string, 0, len(ids)),
		values:   make(map[string]float64, len(ids)),
	}
	for _, id := range ids {
		if _, dup := s.values[id]; dup {
			return nil, fmt.Errorf("%w: duplicate subject %s", ErrInvalid, id)
		}
		v, ok := values[id]
		if !ok {
			return nil, fmt.Errorf("%w: no outcome for %s", ErrInvalid, id)
		}
		if q.Kind == model.KindBinaryRanking && v != 0 && v != 1 {
			return nil, fmt.Errorf("%w: label for %s must be 0 or 1, got %v", ErrInvalid, id, v)
		}
		s.ids = append(s.ids, id)
		s.values[id] = v
	}
	sort.Strings(s.ids)
	return s, nil
}

// Question returns the question the outcomes belong to.
func (s *Standard) Question() model.Question { return s.question }

// IDs returns the subject identifiers in sorted order.
func (s *Standard) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Has reports whether id is a reference subject.
func (s *Standard) Has(id string) bool {
	_, ok := s.values[id]
	return ok
}

// Value returns the true outcome of id.
func (s *Standard) Value(id string) (float64, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Len returns the number of subjects.
func (s *Standard) Len() int { return len(s.ids) }

// IDSet is the subject universe of a submission template. Template outcome
// cells are placeholders and are not read.
type IDSet struct {
	ids []string
	set map[string]struct{}
}

// LoadIDs reads the identifier column of a template file.
func LoadIDs(r io.Reader) (*IDSet, error) {
	t, err := table.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ids, ok := t.Column(model.IDColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s column missing", ErrInvalid, model.IDColumn)
	}
	return NewIDSet(ids)
}

// NewIDSet builds an identifier set; duplicates are rejected.
func NewIDSet(ids []string) (*IDSet, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no subjects", ErrInvalid)
	}
	s := &IDSet{ids: make([]string, 0, len(ids)), set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := s.set[id]; dup {
			return nil, fmt.Errorf("%w: duplicate subject %s", ErrInvalid, id)
		}
		s.set[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)
	return s, nil
}

// IDs returns the identifiers in sorted order.
func (s *IDSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Has reports whether id is part of the template.
func (s *IDSet) Has(id string) bool {
	_, ok := s.set[id]
	return ok
}

// Len returns the number of identifiers.
func (s *IDSet) Len() int { return len(s.ids) }
