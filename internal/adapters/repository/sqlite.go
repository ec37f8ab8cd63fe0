package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/okian/dreamscore/internal/domain/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// a transaction holds the only connection, so transactions never interleave
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS statuses (
	submission_id TEXT PRIMARY KEY,
	evaluation_id TEXT NOT NULL,
	state         TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	submission    TEXT NOT NULL,
	score         TEXT,
	annotations   TEXT NOT NULL DEFAULT '{}',
	submitted_at  INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS leaderboard_rows (
	evaluation_id TEXT NOT NULL,
	object_id     TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	team          TEXT NOT NULL,
	submit_date   INTEGER NOT NULL,
	metrics       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_statuses_evaluation ON statuses(evaluation_id, state);
CREATE INDEX IF NOT EXISTS idx_leaderboard_rows_object ON leaderboard_rows(evaluation_id, object_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRow replaces the row for the submission, failing with ErrDuplicateRow
// when the leaderboard already holds more than one.
func (s *SQLiteStore) UpsertRow(ctx context.Context, evaluationID string, row model.LeaderboardRow) (bool, error) {
	metricsJSON, err := json.Marshal(row.Metrics)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal metrics")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leaderboard_rows WHERE evaluation_id = ? AND object_id = ?`,
		evaluationID, row.ObjectID,
	).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "sqlite: count rows %s", row.ObjectID)
	}
	if n > 1 {
		return false, eris.Wrapf(ErrDuplicateRow, "sqlite: %s has %d rows", row.ObjectID, n)
	}

	if n == 1 {
		_, err = tx.ExecContext(ctx,
			`UPDATE leaderboard_rows SET user_id = ?, entity_id = ?, name = ?, team = ?, submit_date = ?, metrics = ?
			 WHERE evaluation_id = ? AND object_id = ?`,
			row.UserID, row.EntityID, row.Name, row.Team, toMillis(row.SubmitDate), string(metricsJSON),
			evaluationID, row.ObjectID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO leaderboard_rows (evaluation_id, object_id, user_id, entity_id, name, team, submit_date, metrics)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evaluationID, row.ObjectID, row.UserID, row.EntityID, row.Name, row.Team, toMillis(row.SubmitDate), string(metricsJSON),
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: write row %s", row.ObjectID)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n == 0, nil
}

func (s *SQLiteStore) Rows(ctx context.Context, evaluationID string) ([]model.LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_id, user_id, entity_id, name, team, submit_date, metrics
		 FROM leaderboard_rows WHERE evaluation_id = ? ORDER BY submit_date, object_id`,
		evaluationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rows %s", evaluationID)
	}
	defer func() { _ = rows.Close() }()

	out := []model.LeaderboardRow{}
	for rows.Next() {
		var (
			r           model.LeaderboardRow
			submitted   int64
			metricsJSON string
		)
		if err := rows.Scan(&r.ObjectID, &r.UserID, &r.EntityID, &r.Name, &r.Team, &submitted, &metricsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		r.SubmitDate = fromMillis(submitted)
		if err := json.Unmarshal([]byte(metricsJSON), &r.Metrics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal metrics")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rows")
}

func (s *SQLiteStore) SaveStatus(ctx context.Context, st model.Status) error {
	subJSON, err := json.Marshal(st.Submission)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal submission")
	}
	var scoreJSON sql.NullString
	if st.Score != nil {
		b, err := json.Marshal(st.Score)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal score")
		}
		scoreJSON = sql.NullString{String: string(b), Valid: true}
	}
	annJSON, err := json.Marshal(st.Annotations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal annotations")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO statuses (submission_id, evaluation_id, state, message, submission, score, annotations, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id) DO UPDATE SET
			evaluation_id = excluded.evaluation_id,
			state = excluded.state,
			message = excluded.message,
			submission = excluded.submission,
			score = excluded.score,
			annotations = excluded.annotations,
			submitted_at = excluded.submitted_at,
			updated_at = excluded.updated_at`,
		st.Submission.ID, st.Submission.EvaluationID, string(st.State), st.Message,
		string(subJSON), scoreJSON, string(annJSON),
		toMillis(st.Submission.SubmittedAt), toMillis(st.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: save status %s", st.Submission.ID)
}

const statusColumns = `state, message, submission, score, annotations, updated_at`

func (s *SQLiteStore) Status(ctx context.Context, submissionID string) (model.Status, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM statuses WHERE submission_id = ?`, submissionID)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Status{}, ErrNotFound
	}
	return st, err
}

func (s *SQLiteStore) Statuses(ctx context.Context, evaluationID string, state model.State) ([]model.Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE evaluation_id = ?`
	args := []any{evaluationID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY submitted_at, submission_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list statuses %s", evaluationID)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Status
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate statuses")
}

// Annotate merges ann into the stored annotations inside one transaction.
func (s *SQLiteStore) Annotate(ctx context.Context, submissionID string, ann model.Annotations) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin annotate")
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT annotations FROM statuses WHERE submission_id = ?`, submissionID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read annotations %s", submissionID)
	}
	var existing model.Annotations
	if err := json.Unmarshal([]byte(current), &existing); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal annotations")
	}
	merged, err := json.Marshal(existing.Merge(ann))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal annotations")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE statuses SET annotations = ?, updated_at = ? WHERE submission_id = ?`,
		string(merged), toMillis(time.Now()), submissionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: annotate %s", submissionID)
	}
	if err := checkRowsAffected(res, submissionID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit annotate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStatus(row scannable) (model.Status, error) {
	var (
		st        model.Status
		state     string
		subJSON   string
		scoreJSON sql.NullString
		annJSON   string
		updated   int64
	)
	if err := row.Scan(&state, &st.Message, &subJSON, &scoreJSON, &annJSON, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Status{}, err
		}
		return model.Status{}, eris.Wrap(err, "sqlite: scan status")
	}
	st.State = model.State(state)
	st.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(subJSON), &st.Submission); err != nil {
		return model.Status{}, eris.Wrap(err, "sqlite: unmarshal submission")
	}
	if scoreJSON.Valid {
		var rec model.ScoreRecord
		if err := json.Unmarshal([]byte(scoreJSON.String), &rec); err != nil {
			return model.Status{}, eris.Wrap(err, "sqlite: unmarshal score")
		}
		st.Score = &rec
	}
	if err := json.Unmarshal([]byte(annJSON), &st.Annotations); err != nil {
		return model.Status{}, eris.Wrap(err, "sqlite: unmarshal annotations")
	}
	return st, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s", id)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
