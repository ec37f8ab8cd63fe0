package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/dreamscore/internal/domain/model"
)

// MemoryStore is an in-process Store. Values are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	rows     map[string]map[string]model.LeaderboardRow
	statuses map[string]model.Status
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[string]map[string]model.LeaderboardRow),
		statuses: make(map[string]model.Status),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) UpsertRow(ctx context.Context, evaluationID string, row model.LeaderboardRow) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	board, ok := s.rows[evaluationID]
	if !ok {
		board = make(map[string]model.LeaderboardRow)
		s.rows[evaluationID] = board
	}
	_, exists := board[row.ObjectID]
	board[row.ObjectID] = copyRow(row)
	return !exists, nil
}

func (s *MemoryStore) Rows(ctx context.Context, evaluationID string) ([]model.LeaderboardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	board := s.rows[evaluationID]
	out := make([]model.LeaderboardRow, 0, len(board))
	for _, r := range board {
		out = append(out, copyRow(r))
	}
	sortRows(out)
	return out, nil
}

func (s *MemoryStore) SaveStatus(ctx context.Context, st model.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.statuses[st.Submission.ID] = copyStatus(st)
	return nil
}

func (s *MemoryStore) Status(ctx context.Context, submissionID string) (model.Status, error) {
	if err := ctx.Err(); err != nil {
		return model.Status{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Status{}, ErrClosed
	}
	st, ok := s.statuses[submissionID]
	if !ok {
		return model.Status{}, ErrNotFound
	}
	return copyStatus(st), nil
}

func (s *MemoryStore) Statuses(ctx context.Context, evaluationID string, state model.State) ([]model.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.Status
	for _, st := range s.statuses {
		if st.Submission.EvaluationID != evaluationID {
			continue
		}
		if state != "" && st.State != state {
			continue
		}
		out = append(out, copyStatus(st))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Submission, out[j].Submission
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemoryStore) Annotate(ctx context.Context, submissionID string, ann model.Annotations) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	st, ok := s.statuses[submissionID]
	if !ok {
		return ErrNotFound
	}
	st.Annotations = st.Annotations.Merge(ann)
	s.statuses[submissionID] = st
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortRows(rows []model.LeaderboardRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].SubmitDate.Equal(rows[j].SubmitDate) {
			return rows[i].SubmitDate.Before(rows[j].SubmitDate)
		}
		return rows[i].ObjectID < rows[j].ObjectID
	})
}

func copyRow(r model.LeaderboardRow) model.LeaderboardRow {
	m := make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		m[k] = v
	}
	r.Metrics = m
	return r
}

func copyStatus(st model.Status) model.Status {
	if st.Score != nil {
		rec := *st.Score
		rec.Metrics = make(map[string]float64, len(st.Score.Metrics))
		for k, v := range st.Score.Metrics {
			rec.Metrics[k] = v
		}
		st.Score = &rec
	}
	st.Annotations = model.Annotations{}.Merge(st.Annotations)
	return st
}
