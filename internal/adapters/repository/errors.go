package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("submission not found")
	// ErrDuplicateRow means a leaderboard holds more than one row for a submission.
	ErrDuplicateRow = errors.New("multiple leaderboard rows for submission")
	ErrClosed       = errors.New("store closed")
)
