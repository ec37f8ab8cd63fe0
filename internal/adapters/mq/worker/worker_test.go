package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/dreamscore/internal/adapters/mq/queue"
	worker "github.com/okian/dreamscore/internal/adapters/mq/worker"
	model "github.com/okian/dreamscore/internal/domain/model"
	logging "github.com/okian/dreamscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

var errConfig = errors.New("configuration broken")

// recorder is a Processor remembering what it saw.
type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func newRecorder() *recorder { return &recorder{fail: make(map[string]error)} }

func (r *recorder) Process(_ context.Context, j queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[j.Submission.ID]; ok {
		return err
	}
	r.seen = append(r.seen, j.Submission.ID)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func enqueue(q *queue.InMemoryQueue, ids ...string) {
	for _, id := range ids {
		if err := q.Enqueue(context.Background(), queue.Job{Submission: model.Submission{ID: id}}); err != nil {
			panic(err)
		}
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newRecorder()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, rec, worker.WithName("w-1"), worker.WithLogger(logging.Nop()))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker over queued jobs", func() {
			rec.fail["bad"] = errors.New("scoring blew up")
			enqueue(q, "s1", "bad", "s2")
			w := worker.NewInMemoryWorker(q, rec, worker.WithLogger(logging.Nop()))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("Then non-fatal errors should not stop it", func() {
				convey.So(waitFor(func() bool { return rec.count() == 2 }), convey.ShouldBeTrue)
				convey.So(q.Close(), convey.ShouldBeNil)
				<-w.Done()
			})
		})

		convey.Convey("When a fatal error occurs", func() {
			rec.fail["bad"] = errConfig
			enqueue(q, "bad", "s1")
			w := worker.NewInMemoryWorker(q, rec,
				worker.WithLogger(logging.Nop()),
				worker.WithFatal(func(err error) bool { return errors.Is(err, errConfig) }),
			)
			go w.Run(context.Background())

			convey.Convey("Then the worker should stop before the next job", func() {
				select {
				case <-w.Done():
				case <-time.After(2 * time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
				convey.So(rec.count(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When context is cancelled", func() {
			w := worker.NewInMemoryWorker(q, rec, worker.WithLogger(logging.Nop()))
			ctx, cancel := context.WithCancel(context.Background())
			go w.Run(ctx)
			cancel()

			convey.Convey("Then worker should stop", func() {
				select {
				case <-w.Done():
				case <-time.After(2 * time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		rec := newRecorder()

		convey.Convey("When creating a pool with default count", func() {
			p := worker.NewPool(0, q, rec)
			convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("When processing multiple jobs and shutting down", func() {
			p := worker.NewPool(4, q, rec, worker.WithPoolLogger(logging.Nop()), worker.WithMetricsInterval(time.Millisecond))
			p.Start(context.Background())
			for i := range 40 {
				enqueue(q, fmt.Sprintf("s%d", i))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := p.Shutdown(ctx)

			convey.Convey("Then every queued job should be drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.count(), convey.ShouldEqual, 40)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a job hits a configuration error", func() {
			rec.fail["bad"] = fmt.Errorf("wrapped: %w", errConfig)
			p := worker.NewPool(2, q, rec,
				worker.WithPoolLogger(logging.Nop()),
				worker.WithAbortOn(func(err error) bool { return errors.Is(err, errConfig) }),
			)
			p.Start(context.Background())
			enqueue(q, "bad")

			convey.Convey("Then the whole pool should abort", func() {
				select {
				case <-p.Stopped():
				case <-time.After(2 * time.Second):
					convey.So("pool still running", convey.ShouldBeEmpty)
				}
				convey.So(errors.Is(p.Err(), worker.ErrAborted), convey.ShouldBeTrue)
				convey.So(errors.Is(p.Err(), errConfig), convey.ShouldBeTrue)

				err := p.Shutdown(context.Background())
				convey.So(errors.Is(err, worker.ErrAborted), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When using ProcessorFunc", func() {
			var calls int
			var mu sync.Mutex
			p := worker.NewPool(1, q, worker.ProcessorFunc(func(context.Context, queue.Job) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			}), worker.WithPoolLogger(logging.Nop()), worker.WithMetricsInterval(0))
			p.Start(context.Background())
			enqueue(q, "s1")
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			mu.Lock()
			convey.So(calls, convey.ShouldEqual, 1)
			mu.Unlock()
		})
	})
}
