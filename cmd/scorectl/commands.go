package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okian/dreamscore/internal/adapters/reference"
	service "github.com/okian/dreamscore/internal/app"
	"github.com/okian/dreamscore/internal/config"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/permutation"
	"github.com/okian/dreamscore/internal/domain/registry"
	"github.com/okian/dreamscore/internal/domain/validation"
	"github.com/okian/dreamscore/internal/sample"
	"github.com/okian/dreamscore/pkg/logger"
)

// ErrInvalidSubmission is returned by validate and evaluate when a file fails validation.
var ErrInvalidSubmission = errors.New("submission is invalid")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	goldDir    string
	iterations int
	store      string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "scorectl",
		Short:         "Validate, score and rank challenge submissions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return err
			}
			return logger.SetLevelString(opts.logLevel)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file (overrides "+config.EnvFile+")")
	f.StringVar(&opts.goldDir, "gold-dir", "", "directory holding gold standards and templates")
	f.IntVar(&opts.iterations, "iterations", 0, "permutation iterations; 0 skips the test and reports p=1")
	f.StringVar(&opts.store, "store", "", "store driver: memory or sqlite")
	f.StringVar(&opts.dsn, "dsn", "", "sqlite database file")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newEvaluationsCmd(opts),
		newValidateCmd(opts),
		newScoreCmd(opts),
		newEvaluateCmd(opts),
		newLeaderboardCmd(opts),
		newRankCmd(opts),
		newGenerateCmd(opts),
		newSmokeCmd(),
	)
	return root
}

// load reads configuration and applies flag overrides.
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, error) {
	if o.configFile != "" {
		if err := os.Setenv(config.EnvFile, o.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	if o.goldDir != "" {
		cfg.GoldStandardDir = o.goldDir
	}
	if cmd.Flags().Changed("iterations") {
		cfg.PermutationIterations = o.iterations
	}
	if o.store != "" {
		cfg.StoreDriver = o.store
	}
	if o.dsn != "" {
		cfg.SQLiteDSN = o.dsn
	}
	// One-shot commands never need to follow file changes.
	cfg.WatchGoldStandards = false
	return cfg, cfg.Validate()
}

func (o *globalOptions) registry(cmd *cobra.Command) (*registry.Registry, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return service.NewRegistry(cfg, reference.NewLoader(cfg.GoldStandardDir, reference.WithLogger(logger.Get().Named("reference"))))
}

func (o *globalOptions) assembly(cmd *cobra.Command) (*service.Assembly, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return service.FromConfig(cmd.Context(), cfg, logger.Get())
}

func newEvaluationsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluations",
		Short: "List the configured evaluation queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reg.Evaluations())
		},
	}
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <evaluation-id> <file>",
		Short: "Check a submission file against the evaluation template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			_, err = reg.Validate(cmd.Context(), args[0], f)
			var verr *validation.Error
			if errors.As(err, &verr) {
				fmt.Fprintln(cmd.OutOrStdout(), verr.Message)
				return fmt.Errorf("%w: %s", ErrInvalidSubmission, verr.Check)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), service.ValidatedMessage)
			return nil
		},
	}
}

type scoreOutput struct {
	EvaluationID string              `json:"evaluationId"`
	Message      string              `json:"message"`
	Metrics      map[string]float64  `json:"metrics"`
	Permutation  *permutation.Result `json:"permutation,omitempty"`
}

func newScoreCmd(opts *globalOptions) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "score <evaluation-id> <file>",
		Short: "Validate and score a submission file without storing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			sub, err := reg.Validate(cmd.Context(), args[0], f)
			var verr *validation.Error
			if errors.As(err, &verr) {
				fmt.Fprintln(cmd.OutOrStdout(), verr.Message)
				return fmt.Errorf("%w: %s", ErrInvalidSubmission, verr.Check)
			}
			if err != nil {
				return err
			}
			detail, err := reg.ScoreDetailed(cmd.Context(), args[0], sub)
			if err != nil {
				return err
			}
			out := scoreOutput{EvaluationID: args[0], Message: detail.Record.Message, Metrics: detail.Record.Metrics}
			if detailed {
				out.Permutation = &detail.Permutation
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include the permutation null summary")
	return cmd
}

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	var user, team string
	cmd := &cobra.Command{
		Use:   "evaluate <evaluation-id> <file>...",
		Short: "Validate, score and store submission files on the leaderboard",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			asm, err := opts.assembly(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, asm.Close(cmd.Context())) }()

			invalid := 0
			statuses := make([]model.Status, 0, len(args)-1)
			for _, path := range args[1:] {
				st, err := evaluateFile(cmd, asm.Service, args[0], path, user, team)
				if err != nil {
					return err
				}
				if st.State == model.StateInvalid {
					invalid++
				}
				statuses = append(statuses, st)
			}
			if err := writeJSON(cmd.OutOrStdout(), statuses); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d files", ErrInvalidSubmission, invalid, len(statuses))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "submitter user id and name")
	cmd.Flags().StringVar(&team, "team", "", "team name")
	return cmd
}

func evaluateFile(cmd *cobra.Command, svc *service.Service, evaluationID, path, user, team string) (model.Status, error) {
	f, err := os.Open(path) //nolint:gosec // operator path
	if err != nil {
		return model.Status{}, err
	}
	defer func() { _ = f.Close() }()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	sub := model.Submission{
		ID:           uuid.NewString(),
		EvaluationID: evaluationID,
		UserID:       user,
		UserName:     user,
		Name:         name,
		TeamName:     team,
		SubmittedAt:  time.Now().UTC(),
	}
	return svc.Evaluate(cmd.Context(), sub, f)
}

func newLeaderboardCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard <evaluation-id>",
		Short: "Print the stored leaderboard of an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			asm, err := opts.assembly(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, asm.Close(cmd.Context())) }()

			rows, err := asm.Service.Leaderboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newRankCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <evaluation-id>",
		Short: "Aggregate metric ranks of a stored leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			asm, err := opts.assembly(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, asm.Close(cmd.Context())) }()

			recs, err := asm.Service.Rank(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
}

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	var (
		dir          string
		subjects     int
		seed         uint64
		positiveRate float64
		qualities    []float64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic gold standards, templates and submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.GoldStandardDir
			}
			g := sample.NewGenerator(
				sample.WithSubjects(subjects),
				sample.WithSeed(seed),
				sample.WithPositiveRate(positiveRate),
			)
			sets, err := g.WriteDataset(dir, cfg.Evaluations, qualities)
			if err != nil {
				return err
			}
			for _, ds := range sets {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d subjects, %d submissions\n",
					ds.Evaluation.ID, ds.Evaluation.Question, len(ds.Reference.IDs), len(ds.Submissions))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (defaults to the gold standard directory)")
	cmd.Flags().IntVar(&subjects, "subjects", sample.DefaultSubjects, "subjects per gold standard")
	cmd.Flags().Uint64Var(&seed, "seed", sample.DefaultSeed, "random seed")
	cmd.Flags().Float64Var(&positiveRate, "positive-rate", sample.DefaultPositiveRate, "fraction of positive labels")
	cmd.Flags().Float64SliceVar(&qualities, "qualities", sample.DefaultQualities, "prediction qualities in [-1, 1], one submission each")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	var (
		baseURL string
		dir     string
		workers int
		timeout time.Duration
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Submit generated submissions to a running service and rank them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := sample.LoadEntries(dir)
			if err != nil {
				return err
			}
			r := sample.NewRunner(sample.NewClient(baseURL, timeout),
				sample.WithWorkers(workers),
				sample.WithWaitTimeout(wait),
				sample.WithRunnerLogger(logger.Get().Named("smoke")))
			rep, err := r.Run(cmd.Context(), entries)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), smokeOutput{
				Submitted: rep.Submitted,
				Rejected:  rep.Rejected,
				States:    rep.States,
				Ranks:     rep.Ranks,
				Duration:  rep.Duration.String(),
			})
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:9080", "base URL of the service")
	cmd.Flags().StringVar(&dir, "dir", "goldstandards", "dataset directory written by generate")
	cmd.Flags().IntVar(&workers, "workers", sample.DefaultWorkers, "concurrent requests")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
	cmd.Flags().DurationVar(&wait, "wait", sample.DefaultWaitTimeout, "how long to wait for scoring")
	return cmd
}

type smokeOutput struct {
	Submitted int                           `json:"submitted"`
	Rejected  int                           `json:"rejected"`
	States    map[model.State]int           `json:"states"`
	Ranks     map[string][]model.RankRecord `json:"ranks"`
	Duration  string                        `json:"duration"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
