// Package worker drains the submission queue through a Processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/dreamscore/internal/adapters/mq/queue"
	"github.com/okian/dreamscore/pkg/logger"
	"github.com/okian/dreamscore/pkg/metrics"
)

const defaultMetricsInterval = 5 * time.Second

// ErrAborted is returned by Shutdown after a fatal processing error stopped the pool.
var ErrAborted = errors.New("worker pool aborted")

// Processor handles one queued submission.
type Processor interface {
	Process(ctx context.Context, j queue.Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, j queue.Job) error

func (f ProcessorFunc) Process(ctx context.Context, j queue.Job) error { return f(ctx, j) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// InMemoryWorker processes jobs until the queue closes or ctx is cancelled.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string
	fatal     func(error) bool
	onFatal   func(error)
	done      chan struct{}
	logger    logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		fatal:     func(error) bool { return false },
		onFatal:   func(error) {},
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run blocks until the queue is drained, ctx is cancelled or a fatal error occurs.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				if w.fatal(err) {
					w.logger.Error(ctx, "fatal processing error, stopping",
						logger.String("submission", j.Submission.ID),
						logger.String("evaluation", j.Submission.EvaluationID),
						logger.Error(err),
					)
					w.onFatal(err)
					return
				}
				w.logger.Warn(ctx, "processing failed",
					logger.String("submission", j.Submission.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Done is closed once Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error {
	start := time.Now()
	metrics.IncWorkerBusy()
	defer func() {
		metrics.DecWorkerBusy()
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.processor.Process(ctx, j); err != nil {
		metrics.RecordErrorByComponent("worker", "process")
		return fmt.Errorf("process %s: %w", j.Submission.ID, err)
	}
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers         []*InMemoryWorker
	queue           Queue
	fatal           func(error) bool
	metricsInterval time.Duration
	logger          logger.Logger

	cancel  context.CancelFunc
	stopped chan struct{}

	mu       sync.Mutex
	abortErr error
}

// NewPool creates a pool of workerCount workers; values below one mean runtime.NumCPU().
func NewPool(workerCount int, q Queue, p Processor, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	pool := &Pool{
		queue:           q,
		fatal:           func(error) bool { return false },
		metricsInterval: defaultMetricsInterval,
		logger:          logger.Get().Named("worker-pool"),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}

	pool.workers = make([]*InMemoryWorker, workerCount)
	for i := range workerCount {
		pool.workers[i] = NewInMemoryWorker(q, p,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(pool.logger),
			WithFatal(pool.fatal),
		)
		pool.workers[i].onFatal = pool.abort
	}
	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(p.stopped)
	}()
	if p.metricsInterval > 0 {
		go p.updateRuntimeMetrics(ctx)
	}
}

// Stopped is closed once every worker has returned.
func (p *Pool) Stopped() <-chan struct{} { return p.stopped }

// Err returns the fatal error that aborted the pool, if any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortErr
}

func (p *Pool) abort(err error) {
	p.mu.Lock()
	if p.abortErr != nil {
		p.mu.Unlock()
		return
	}
	p.abortErr = fmt.Errorf("%w: %w", ErrAborted, err)
	p.mu.Unlock()

	p.logger.Error(context.Background(), "worker pool aborted", logger.Error(err))
	p.cancel()
}

func (p *Pool) updateRuntimeMetrics(ctx context.Context) {
	ticker := time.NewTicker(p.metricsInterval)
	defer ticker.Stop()
	var ms runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&ms)
			metrics.UpdateSystemMemoryUsage(ms.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
			if ms.NumGC > 0 {
				metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6)
			}
		}
	}
}

// Shutdown closes the queue, lets workers drain what is queued and waits for
// them until ctx expires. It returns the abort error when a fatal error stopped the pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	select {
	case <-p.stopped:
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
	if p.cancel != nil {
		p.cancel()
	}
	return p.Err()
}
