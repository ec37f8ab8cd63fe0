// Package service wires the registry, store, queue and worker pool into the
// submission lifecycle behind the HTTP API and the CLI.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/dreamscore/internal/adapters/mq/queue"
	"github.com/okian/dreamscore/internal/adapters/mq/worker"
	"github.com/okian/dreamscore/internal/adapters/repository"
	"github.com/okian/dreamscore/internal/domain/dedupe"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/ranking"
	"github.com/okian/dreamscore/internal/domain/registry"
	"github.com/okian/dreamscore/internal/domain/validation"
	"github.com/okian/dreamscore/pkg/logger"
	"github.com/okian/dreamscore/pkg/metrics"
)

// ValidatedMessage is the status message of a submission that passed validation.
const ValidatedMessage = "Looks OK to me!"

// Service runs submissions through validation, scoring and the leaderboard.
type Service struct {
	mu sync.RWMutex

	registry   *registry.Registry
	store      repository.Store
	aggregator *ranking.Aggregator
	deduper    dedupe.Deduper
	queue      *queue.InMemoryQueue
	pool       *worker.Pool

	workerCount int
	queueSize   int
	dedupeSize  int

	started bool
	now     func() time.Time
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of submission workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued submissions.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds the submission id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		s.dedupeSize = size
	}
}

// WithStore replaces the default in-memory store. The service closes it on Stop.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithAggregator sets the rank aggregator.
func WithAggregator(a *ranking.Aggregator) Option {
	return func(s *Service) {
		if a != nil {
			s.aggregator = a
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over reg. Evaluate works right away; Submit needs Start.
func New(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		registry:    reg,
		workerCount: runtime.NumCPU(),
		queueSize:   1024,
		dedupeSize:  50_000,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.aggregator == nil {
		s.aggregator = ranking.NewAggregator()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start creates the queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, worker.ProcessorFunc(s.Process),
		worker.WithPoolLogger(s.logger.Named("workers")),
		worker.WithAbortOn(func(err error) bool { return errors.Is(err, registry.ErrConfiguration) }),
	)
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("evaluations", len(s.registry.Evaluations())),
	)
	return nil
}

// Stop drains the queue, waits for the workers and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.started {
		s.logger.Info(ctx, "stopping scoring service...")
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.started = false
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Done is closed when the worker pool stops, e.g. after a configuration error.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil
	}
	return s.pool.Stopped()
}

// Err returns the error that aborted the worker pool, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil
	}
	return s.pool.Err()
}

// Evaluations lists the configured evaluation queues.
func (s *Service) Evaluations() []registry.Entry {
	return s.registry.Evaluations()
}

// Submit records a submission and queues it for evaluation. A missing id is
// generated and a missing submit date is set to now.
func (s *Service) Submit(ctx context.Context, sub model.Submission, payload []byte) (model.Submission, error) {
	s.mu.RLock()
	started, q, d := s.started, s.queue, s.deduper
	s.mu.RUnlock()
	if !started {
		return sub, ErrNotStarted
	}
	if _, err := s.registry.Lookup(sub.EvaluationID); err != nil {
		return sub, err
	}
	if len(payload) == 0 {
		return sub, ErrEmptyPayload
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}

	if d.SeenAndRecord(ctx, sub.ID) {
		metrics.RecordSubmissionDuplicate()
		return sub, fmt.Errorf("%w: %s", ErrDuplicate, sub.ID)
	}
	if err := s.save(ctx, model.Status{Submission: sub, State: model.StateReceived}); err != nil {
		d.Unrecord(ctx, sub.ID)
		return sub, err
	}
	if err := q.Enqueue(ctx, queue.Job{Submission: sub, Payload: payload}); err != nil {
		d.Unrecord(ctx, sub.ID)
		_ = s.save(ctx, model.Status{Submission: sub, State: model.StateError, Message: "submission could not be queued"})
		if errors.Is(err, queue.ErrFull) {
			return sub, ErrQueueFull
		}
		return sub, fmt.Errorf("enqueue %s: %w", sub.ID, err)
	}

	metrics.RecordSubmissionReceived(sub.EvaluationID)
	s.logger.Debug(ctx, "submission queued",
		logger.String("submission", sub.ID),
		logger.String("evaluation", sub.EvaluationID),
		logger.Int("bytes", len(payload)),
	)
	return sub, nil
}

// Process evaluates one queued job. It is the worker pool's processor.
func (s *Service) Process(ctx context.Context, j queue.Job) error {
	_, err := s.Evaluate(ctx, j.Submission, bytes.NewReader(j.Payload))
	return err
}

// Evaluate validates and scores a submission and publishes its leaderboard row.
//
// Validation failures end in INVALID with a submitter-facing message and a nil
// error. Configuration errors are returned untouched and leave the status as it
// was. Any other failure ends in ERROR and is returned.
func (s *Service) Evaluate(ctx context.Context, sub model.Submission, r io.Reader) (model.Status, error) {
	entry, err := s.registry.Lookup(sub.EvaluationID)
	if err != nil {
		return model.Status{}, err
	}
	st := model.Status{Submission: sub, State: model.StateReceived}

	tbl, err := s.registry.Validate(ctx, sub.EvaluationID, r)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			st.State, st.Message = model.StateInvalid, verr.Message
			metrics.RecordSubmissionInvalid(sub.EvaluationID, string(verr.Check))
			s.logger.Info(ctx, "submission invalid",
				logger.String("submission", sub.ID),
				logger.String("check", string(verr.Check)),
			)
			return st, s.save(ctx, st)
		}
		return s.fail(ctx, st, err)
	}

	st.State, st.Message = model.StateValidated, ValidatedMessage
	metrics.RecordSubmissionValidated(sub.EvaluationID)
	if err := s.save(ctx, st); err != nil {
		return st, err
	}

	detail, err := s.registry.ScoreDetailed(ctx, sub.EvaluationID, tbl)
	if err != nil {
		return s.fail(ctx, st, err)
	}
	rec := detail.Record
	st.State, st.Message, st.Score = model.StateScored, rec.Message, &rec
	st.Annotations = st.Annotations.Merge(model.Annotations{Doubles: rec.Metrics})
	if err := s.save(ctx, st); err != nil {
		return st, err
	}
	metrics.RecordSubmissionScored(sub.EvaluationID, entry.Question.Key)

	if _, err := s.store.UpsertRow(ctx, sub.EvaluationID, model.NewLeaderboardRow(sub, rec)); err != nil {
		metrics.RecordErrorByComponent("service", "leaderboard_upsert")
		return st, fmt.Errorf("leaderboard %s: %w", sub.EvaluationID, err)
	}
	metrics.RecordLeaderboardUpsert(sub.EvaluationID)

	s.logger.Info(ctx, "submission scored",
		logger.String("submission", sub.ID),
		logger.String("evaluation", sub.EvaluationID),
		logger.String("message", rec.Message),
		logger.Int("iterations", detail.Permutation.Iterations),
	)
	return st, nil
}

func (s *Service) fail(ctx context.Context, st model.Status, err error) (model.Status, error) {
	if errors.Is(err, registry.ErrConfiguration) {
		metrics.RecordErrorByComponent("service", "configuration")
		return st, err
	}
	st.State, st.Message = model.StateError, err.Error()
	metrics.RecordSubmissionFailed(st.Submission.EvaluationID)
	s.logger.Warn(ctx, "submission failed",
		logger.String("submission", st.Submission.ID),
		logger.Error(err),
	)
	if serr := s.save(ctx, st); serr != nil {
		return st, errors.Join(err, serr)
	}
	return st, err
}

func (s *Service) save(ctx context.Context, st model.Status) error {
	st.UpdatedAt = s.now().UTC()
	if err := s.store.SaveStatus(ctx, st); err != nil {
		metrics.RecordErrorByComponent("service", "save_status")
		return fmt.Errorf("save status %s: %w", st.Submission.ID, err)
	}
	return nil
}

// Status returns the stored status of a submission.
func (s *Service) Status(ctx context.Context, submissionID string) (model.Status, error) {
	return s.store.Status(ctx, submissionID)
}

// Leaderboard returns the rows of an evaluation ordered by submit date.
func (s *Service) Leaderboard(ctx context.Context, evaluationID string) ([]model.LeaderboardRow, error) {
	if _, err := s.registry.Lookup(evaluationID); err != nil {
		return nil, err
	}
	rows, err := s.store.Rows(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	metrics.UpdateLeaderboardRows(evaluationID, len(rows))
	return rows, nil
}

// Rank aggregates the leaderboard of an evaluation and annotates every ranked
// submission with its final rank and significance flags.
func (s *Service) Rank(ctx context.Context, evaluationID string) ([]model.RankRecord, error) {
	entry, err := s.registry.Lookup(evaluationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Rows(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	recs, err := s.aggregator.Rank(entry.Question, rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		err := s.store.Annotate(ctx, rec.SubmissionID, ranking.Annotations(entry.Question, rec))
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn(ctx, "ranked row has no submission status", logger.String("submission", rec.SubmissionID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("annotate %s: %w", rec.SubmissionID, err)
		}
	}
	metrics.RecordRankingRun(evaluationID)
	s.logger.Info(ctx, "leaderboard ranked",
		logger.String("evaluation", evaluationID),
		logger.Int("rows", len(recs)),
	)
	return recs, nil
}

// RebuildLeaderboard re-publishes the row of every SCORED submission of an
// evaluation from the metrics annotated on its status. It returns the number
// of rows written.
func (s *Service) RebuildLeaderboard(ctx context.Context, evaluationID string) (int, error) {
	entry, err := s.registry.Lookup(evaluationID)
	if err != nil {
		return 0, err
	}
	scored, err := s.store.Statuses(ctx, evaluationID, model.StateScored)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range scored {
		rec := model.ScoreRecord{Metrics: make(map[string]float64)}
		for _, col := range entry.Question.MetricColumns() {
			if v, ok := st.Annotations.Doubles[col]; ok {
				rec.Metrics[col] = v
			} else if st.Score != nil {
				if v, ok := st.Score.Metrics[col]; ok {
					rec.Metrics[col] = v
				}
			}
		}
		if _, err := s.store.UpsertRow(ctx, evaluationID, model.NewLeaderboardRow(st.Submission, rec)); err != nil {
			return n, fmt.Errorf("leaderboard %s: %w", st.Submission.ID, err)
		}
		metrics.RecordLeaderboardUpsert(evaluationID)
		n++
	}
	s.logger.Info(ctx, "leaderboard rebuilt",
		logger.String("evaluation", evaluationID),
		logger.Int("rows", n),
	)
	return n, nil
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started               bool              `json:"started"`
	Aborted               bool              `json:"aborted"`
	Workers               int               `json:"workers"`
	QueueLength           int               `json:"queueLength"`
	QueueCapacity         int               `json:"queueCapacity"`
	DedupeEntries         int64             `json:"dedupeEntries"`
	SignificanceThreshold float64           `json:"significanceThreshold"`
	Evaluations           []EvaluationStats `json:"evaluations"`
}

// EvaluationStats counts the submissions and leaderboard rows of one evaluation.
type EvaluationStats struct {
	ID              string              `json:"id"`
	Question        string              `json:"question"`
	States          map[model.State]int `json:"states"`
	LeaderboardRows int                 `json:"leaderboardRows"`
}

// Stats reports the worker pool and per-evaluation submission counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	out := Stats{
		Started:               s.started,
		Workers:               s.workerCount,
		QueueCapacity:         s.queueSize,
		SignificanceThreshold: s.aggregator.Threshold(),
	}
	if s.started {
		out.Workers = s.pool.Size()
		out.QueueLength = s.queue.Len()
		out.DedupeEntries = s.deduper.Size()
		out.Aborted = s.pool.Err() != nil
	}
	s.mu.RUnlock()
	metrics.UpdateQueueSize(out.QueueLength)

	for _, e := range s.registry.Evaluations() {
		statuses, err := s.store.Statuses(ctx, e.ID, "")
		if err != nil {
			return out, fmt.Errorf("statuses %s: %w", e.ID, err)
		}
		rows, err := s.store.Rows(ctx, e.ID)
		if err != nil {
			return out, fmt.Errorf("rows %s: %w", e.ID, err)
		}
		es := EvaluationStats{ID: e.ID, Question: e.Question.Key, States: make(map[model.State]int), LeaderboardRows: len(rows)}
		for _, st := range statuses {
			es.States[st.State]++
		}
		out.Evaluations = append(out.Evaluations, es)
	}
	return out, nil
}
