package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/dreamscore/internal/adapters/reference"
	"github.com/okian/dreamscore/internal/adapters/repository"
	"github.com/okian/dreamscore/internal/config"
	"github.com/okian/dreamscore/internal/domain/permutation"
	"github.com/okian/dreamscore/internal/domain/ranking"
	"github.com/okian/dreamscore/internal/domain/registry"
	"github.com/okian/dreamscore/internal/domain/scoring"
	"github.com/okian/dreamscore/pkg/logger"
)

// Definitions maps configured evaluations to registry definitions.
func Definitions(evals []config.Evaluation) []registry.Definition {
	defs := make([]registry.Definition, 0, len(evals))
	for _, e := range evals {
		defs = append(defs, registry.Definition{
			ID:           e.ID,
			Name:         e.Name,
			QuestionKey:  e.Question,
			GoldStandard: e.GoldStandard,
			Template:     e.Template,
		})
	}
	return defs
}

// NewScorer builds the scorer and its permutation tester from cfg.
func NewScorer(cfg *config.Config) *scoring.Scorer {
	tester := permutation.New(
		permutation.WithIterations(cfg.PermutationIterations),
		permutation.WithWorkers(cfg.PermutationWorkers),
		permutation.WithSeed(cfg.PermutationSeed),
	)
	return scoring.NewScorer(scoring.WithTester(tester))
}

// NewRegistry builds the evaluation registry over loader.
func NewRegistry(cfg *config.Config, loader registry.Loader) (*registry.Registry, error) {
	return registry.New(Definitions(cfg.Evaluations), loader, NewScorer(cfg))
}

// OpenStore opens the configured store. SQLite stores are migrated before use.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "", config.StoreMemory:
		return repository.NewMemoryStore(), nil
	case config.StoreSQLite:
		st, err := repository.NewSQLite(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// Assembly is a service together with the reference loader it reads from.
type Assembly struct {
	Service *Service
	Loader  *reference.Loader
}

// Close stops the service and the loader.
func (a *Assembly) Close(ctx context.Context) error {
	return errors.Join(a.Service.Stop(ctx), a.Loader.Close())
}

// FromConfig wires loader, registry, store and aggregator from cfg. Extra
// options are applied after the configured ones. The service is not started.
func FromConfig(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Assembly, error) {
	if log == nil {
		log = logger.Get()
	}
	loader := reference.NewLoader(cfg.GoldStandardDir, reference.WithLogger(log.Named("reference")))

	reg, err := NewRegistry(cfg, loader)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.WatchGoldStandards {
		if err := loader.Watch(ctx); err != nil {
			log.Warn(ctx, "gold standard watch disabled",
				logger.String("dir", cfg.GoldStandardDir),
				logger.Error(err))
		}
	}

	base := []Option{
		WithLogger(log.Named("service")),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithStore(st),
		WithAggregator(ranking.NewAggregator(ranking.WithSignificanceThreshold(cfg.SignificanceThreshold))),
	}
	return &Assembly{Service: New(reg, append(base, opts...)...), Loader: loader}, nil
}
