package sample

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/pkg/logger"
)

// Runner defaults.
const (
	DefaultWorkers      = 8
	DefaultPollInterval = 100 * time.Millisecond
	DefaultWaitTimeout  = 2 * time.Minute
)

// ErrTimeout is returned when submissions do not settle in time.
var ErrTimeout = errors.New("timed out waiting for submissions")

// Entry is one submission to send.
type Entry struct {
	EvaluationID string
	Meta         model.Submission
	Payload      []byte
}

// Report summarizes a run.
type Report struct {
	Submitted int
	Rejected  int
	States    map[model.State]int
	Statuses  []model.Status
	Ranks     map[string][]model.RankRecord
	Duration  time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers bounds concurrent requests.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithPollInterval sets how often statuses are polled.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithWaitTimeout bounds how long to wait for terminal states.
func WithWaitTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.wait = d
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner submits entries to a live service, waits for them to settle and
// ranks every touched evaluation.
type Runner struct {
	client  *Client
	workers int
	poll    time.Duration
	wait    time.Duration
	logger  logger.Logger
}

// NewRunner creates a runner over client.
func NewRunner(client *Client, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:  client,
		workers: DefaultWorkers,
		poll:    DefaultPollInterval,
		wait:    DefaultWaitTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the complete round trip.
func (r *Runner) Run(ctx context.Context, entries []Entry) (*Report, error) {
	start := time.Now()
	if err := r.client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	accepted, rejected, err := r.submit(ctx, entries)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "submissions sent", logger.Int("accepted", len(accepted)), logger.Int("rejected", rejected))

	statuses, err := r.await(ctx, accepted)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Submitted: len(entries),
		Rejected:  rejected,
		States:    make(map[model.State]int),
		Statuses:  statuses,
		Ranks:     make(map[string][]model.RankRecord),
	}
	evals := make(map[string]struct{})
	for _, st := range statuses {
		rep.States[st.State]++
		if st.State == model.StateScored {
			evals[st.Submission.EvaluationID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(evals))
	for id := range evals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		recs, err := r.client.Rank(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("rank %s: %w", id, err)
		}
		rep.Ranks[id] = recs
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

func (r *Runner) submit(ctx context.Context, entries []Entry) ([]string, int, error) {
	var (
		mu       sync.Mutex
		accepted = make([]string, 0, len(entries))
		rejected int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, e := range entries {
		g.Go(func() error {
			sub, err := r.client.Submit(gctx, e.EvaluationID, e.Meta, e.Payload)
			mu.Lock()
			defer mu.Unlock()
			var apiErr *APIError
			switch {
			case errors.As(err, &apiErr):
				// Duplicates and backpressure are reported, not fatal.
				rejected++
				r.logger.Warn(gctx, "submission rejected",
					logger.String("evaluation", e.EvaluationID),
					logger.String("name", e.Meta.Name),
					logger.Int("status", apiErr.StatusCode),
					logger.String("message", apiErr.Message))
				return nil
			case err != nil:
				return fmt.Errorf("submit %s: %w", e.Meta.Name, err)
			}
			accepted = append(accepted, sub.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	sort.Strings(accepted)
	return accepted, rejected, nil
}

func (r *Runner) await(ctx context.Context, ids []string) ([]model.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	out := make([]model.Status, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, id := range ids {
		g.Go(func() error {
			ticker := time.NewTicker(r.poll)
			defer ticker.Stop()
			for {
				st, err := r.client.Status(gctx, id)
				if err != nil && gctx.Err() == nil && !errors.Is(err, ErrStatus) {
					return fmt.Errorf("status %s: %w", id, err)
				}
				if err == nil && st.State.Terminal() {
					out[i] = st
					return nil
				}
				select {
				case <-gctx.Done():
					if errors.Is(gctx.Err(), context.DeadlineExceeded) {
						return fmt.Errorf("%w: %s", ErrTimeout, id)
					}
					return gctx.Err()
				case <-ticker.C:
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
