// Package reference loads gold standards and submission templates from disk
// and keeps a read-only cache of them keyed by question.
package reference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/dreamscore/internal/domain/gold"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/pkg/logger"
	"github.com/okian/dreamscore/pkg/metrics"
)

// ErrWatching is returned when Watch is called twice.
var ErrWatching = errors.New("reference loader already watching")

type kind string

const (
	kindStandard kind = "gold"
	kindTemplate kind = "template"
)

type cacheKey struct {
	kind     kind
	question string
}

type entry struct {
	path     string
	standard *gold.Standard
	template *gold.IDSet
}

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithCache toggles caching. Without it every call reads the file.
func WithCache(enabled bool) Option {
	return func(ld *Loader) {
		ld.cache = enabled
	}
}

// Loader reads reference files relative to a base directory.
type Loader struct {
	dir    string
	cache  bool
	logger logger.Logger

	mu      sync.RWMutex
	entries map[cacheKey]entry
	// generations counts invalidations per path; a read that overlaps one is not cached.
	generations map[string]uint64

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, opts ...Option) *Loader {
	l := &Loader{
		dir:     dir,
		cache:   true,
		logger:  logger.Nop(),
		entries:     make(map[cacheKey]entry),
		generations: make(map[string]uint64),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the base directory.
func (l *Loader) Dir() string { return l.dir }

// Resolve returns the absolute path of a reference file name.
func (l *Loader) Resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Standard returns the gold standard of q stored at path.
func (l *Loader) Standard(ctx context.Context, q model.Question, path string) (*gold.Standard, error) {
	e, err := l.get(ctx, cacheKey{kind: kindStandard, question: q.Key}, path, func(f *os.File) (entry, error) {
		std, err := gold.Load(f, q)
		return entry{standard: std}, err
	})
	if err != nil {
		return nil, err
	}
	return e.standard, nil
}

// Template returns the subject identifiers of the template of q stored at path.
func (l *Loader) Template(ctx context.Context, q model.Question, path string) (*gold.IDSet, error) {
	e, err := l.get(ctx, cacheKey{kind: kindTemplate, question: q.Key}, path, func(f *os.File) (entry, error) {
		ids, err := gold.LoadIDs(f)
		return entry{template: ids}, err
	})
	if err != nil {
		return nil, err
	}
	return e.template, nil
}

func (l *Loader) get(ctx context.Context, key cacheKey, path string, read func(*os.File) (entry, error)) (entry, error) {
	if err := ctx.Err(); err != nil {
		return entry{}, err
	}
	abs := l.Resolve(path)

	var generation uint64
	if l.cache {
		l.mu.RLock()
		e, ok := l.entries[key]
		generation = l.generations[abs]
		l.mu.RUnlock()
		if ok && e.path == abs {
			metrics.RecordGoldCacheHit()
			return e, nil
		}
	}
	metrics.RecordGoldCacheMiss()

	f, err := os.Open(abs) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return entry{}, fmt.Errorf("open %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()

	e, err := read(f)
	if err != nil {
		return entry{}, fmt.Errorf("read %s: %w", abs, err)
	}
	e.path = abs

	if l.cache {
		l.mu.Lock()
		if l.generations[abs] == generation {
			l.entries[key] = e
		}
		l.mu.Unlock()
	}
	l.logger.Debug(ctx, "reference loaded",
		logger.String("kind", string(key.kind)),
		logger.String("question", key.question),
		logger.String("path", abs),
	)
	return e, nil
}

// Invalidate drops every cached entry read from path and returns how many were dropped.
func (l *Loader) Invalidate(path string) int {
	abs := l.Resolve(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generations[abs]++
	n := 0
	for k, e := range l.entries {
		if e.path == abs {
			delete(l.entries, k)
			n++
		}
	}
	for range n {
		metrics.RecordGoldCacheInvalidation()
	}
	return n
}

// Cached returns the number of cached entries.
func (l *Loader) Cached() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Watch invalidates cache entries whenever a file in the base directory is
// written, created, removed or renamed. It returns once the watch is set up.
func (l *Loader) Watch(ctx context.Context) error {
	l.mu.Lock()
	if l.watcher != nil {
		l.mu.Unlock()
		return ErrWatching
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		l.mu.Unlock()
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.watcher = w
	l.mu.Unlock()

	go l.processEvents(ctx, w)
	return nil
}

func (l *Loader) processEvents(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if n := l.Invalidate(event.Name); n > 0 {
				l.logger.Info(ctx, "reference cache invalidated",
					logger.String("path", event.Name),
					logger.String("op", event.Op.String()),
					logger.Int("entries", n),
				)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			metrics.RecordErrorByComponent("reference", "watch")
			l.logger.Warn(ctx, "reference watcher error", logger.Error(err))
		}
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
