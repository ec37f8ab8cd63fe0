// Package repository stores submission statuses and leaderboards.
package repository

import (
	"context"

	"github.com/okian/dreamscore/internal/domain/model"
)

// Store is the submission and leaderboard store the scoring service writes to.
type Store interface {
	// UpsertRow inserts the row for row.ObjectID or replaces it. Returns true on insert.
	UpsertRow(ctx context.Context, evaluationID string, row model.LeaderboardRow) (bool, error)
	// Rows returns every row of a leaderboard ordered by submit date.
	Rows(ctx context.Context, evaluationID string) ([]model.LeaderboardRow, error)

	// SaveStatus creates or replaces the status of a submission.
	SaveStatus(ctx context.Context, st model.Status) error
	// Status returns ErrNotFound for unknown submissions.
	Status(ctx context.Context, submissionID string) (model.Status, error)
	// Statuses lists an evaluation's statuses in the given state, or all when state is empty.
	Statuses(ctx context.Context, evaluationID string, state model.State) ([]model.Status, error)
	// Annotate merges annotations onto a stored status.
	Annotate(ctx context.Context, submissionID string, ann model.Annotations) error

	Close() error
}
