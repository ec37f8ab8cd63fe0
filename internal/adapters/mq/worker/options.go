package worker

import (
	"time"

	"github.com/okian/dreamscore/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFatal sets the predicate deciding which processing errors stop the worker.
func WithFatal(fatal func(error) bool) Option {
	return func(w *InMemoryWorker) {
		if fatal != nil {
			w.fatal = fatal
		}
	}
}

// PoolOption applies a configuration option to the Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger shared by the pool and its workers.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithAbortOn makes the pool stop every worker on the first error matching fatal.
func WithAbortOn(fatal func(error) bool) PoolOption {
	return func(p *Pool) {
		if fatal != nil {
			p.fatal = fatal
		}
	}
}

// WithMetricsInterval sets how often runtime gauges are refreshed. Zero disables it.
func WithMetricsInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d >= 0 {
			p.metricsInterval = d
		}
	}
}
