// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"runtime"

	"github.com/okian/dreamscore/internal/domain/model"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Evaluation binds an evaluation queue to a question and its reference files.
type Evaluation struct {
	ID       string `koanf:"id"`
	Name     string `koanf:"name"`
	Question string `koanf:"question"`
	// GoldStandard and Template are resolved against GoldStandardDir.
	GoldStandard string `koanf:"gold_standard"`
	Template     string `koanf:"template"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of submission workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the submission id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	PermutationIterations int    `koanf:"permutation_iterations"`
	PermutationWorkers    int    `koanf:"permutation_workers"`
	PermutationSeed       uint64 `koanf:"permutation_seed"`

	// SignificanceThreshold is the p-value below which a score counts as significant.
	SignificanceThreshold float64 `koanf:"significance_threshold"`

	// StoreDriver is memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	SQLiteDSN   string `koanf:"sqlite_dsn"`

	GoldStandardDir string `koanf:"gold_standard_dir"`
	// WatchGoldStandards drops cached reference files when they change on disk.
	WatchGoldStandards bool `koanf:"watch_gold_standards"`

	Evaluations []Evaluation `koanf:"evaluations"`
}

// New creates a Config with defaults. Evaluations are left empty; Load fills
// in DefaultEvaluations when none are configured.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		QueueSize:             1024,
		WorkerCount:           runtime.NumCPU(),
		DedupeSize:            50_000,
		PermutationIterations: 10_000,
		PermutationWorkers:    runtime.NumCPU(),
		PermutationSeed:       42,
		SignificanceThreshold: 0.05,
		StoreDriver:           StoreMemory,
		SQLiteDSN:             "dreamscore.db",
		GoldStandardDir:       "goldstandards",
		WatchGoldStandards:    true,
	}
}

// DefaultEvaluations returns the three challenge queues.
func DefaultEvaluations() []Evaluation {
	return []Evaluation{
		defaultEvaluation("5821575", "DARPA-SC1", model.SC1),
		defaultEvaluation("5821583", "DARPA-SC2", model.SC2),
		defaultEvaluation("5821621", "DARPA-SC3", model.SC3),
	}
}

func defaultEvaluation(id, name string, q model.Question) Evaluation {
	return Evaluation{
		ID:           id,
		Name:         name,
		Question:     q.Key,
		GoldStandard: "IDResilienceChallenge_GoldStandard_" + q.OutcomeColumn + ".csv",
		Template:     "IDResilienceChallenge_SubmissionTemplate_" + q.OutcomeColumn + ".csv",
	}
}
