package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/dreamscore/internal/domain/model"
)

// EnvPrefix prefixes every environment override; EnvFile names the YAML file variable.
const (
	EnvPrefix = "DREAMSCORE_"
	EnvFile   = EnvPrefix + "CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if DREAMSCORE_CONFIG is set
//  3. env (prefix DREAMSCORE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(EnvFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// DREAMSCORE_QUEUE_SIZE -> queue_size
	prefix := strings.ToLower(EnvPrefix)
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), prefix)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if len(cfg.Evaluations) == 0 {
		cfg.Evaluations = DefaultEvaluations()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and the evaluation table.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.PermutationIterations < 0:
		return fmt.Errorf("%w: permutation_iterations must not be negative", ErrInvalidConfig)
	case c.SignificanceThreshold <= 0 || c.SignificanceThreshold > 1:
		return fmt.Errorf("%w: significance_threshold must be in (0, 1]", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StoreSQLite:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StoreSQLite && c.SQLiteDSN == "":
		return fmt.Errorf("%w: sqlite_dsn required for the sqlite store", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Evaluations))
	for _, e := range c.Evaluations {
		if e.ID == "" {
			return fmt.Errorf("%w: evaluation without id", ErrInvalidConfig)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate evaluation %s", ErrInvalidConfig, e.ID)
		}
		seen[e.ID] = struct{}{}
		if _, ok := model.QuestionByKey(e.Question); !ok {
			return fmt.Errorf("%w: evaluation %s has unknown question %q", ErrInvalidConfig, e.ID, e.Question)
		}
		if e.GoldStandard == "" {
			return fmt.Errorf("%w: evaluation %s has no gold_standard", ErrInvalidConfig, e.ID)
		}
	}
	return nil
}
