// Command rxsim runs the PBM claim adjudication simulator.
//
// Usage:
//
//	rxsim [speedup]
//
// speedup is a positive decimal compressing simulated time (default 1.0,
// real time). Exit codes: 0 success, 2 reference-data verification failure,
// 3 input discovery failure, 4 database failure mid-run, 130 cancelled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rxops/rxsim/internal/config"
	"github.com/rxops/rxsim/internal/engine"
	"github.com/rxops/rxsim/internal/ingest"
	"github.com/rxops/rxsim/internal/metrics"
	"github.com/rxops/rxsim/internal/pipeline"
	"github.com/rxops/rxsim/internal/store"
	"github.com/rxops/rxsim/internal/telemetry"
)

// Version and Build are stamped by the release process via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	cfgFile     string
	verboseFlag bool
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "rxsim [speedup]",
	Short: "rxsim - pharmacy claim adjudication simulator",
	Long: `Replays a pre-generated pharmacy claim corpus through an NCPDP-style
adjudication engine at a configurable speedup, persisting adjudicated
claims to the reference store in atomic batches.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		return telemetry.Init(cmd.Context(), "rxsim", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("rxsim version %s (%s)\n", Version, Build)
			return nil
		}

		speedup := 1.0
		if len(args) == 1 {
			s, err := parseSpeedup(args[0])
			if err != nil {
				return err
			}
			speedup = s
		}
		return runSimulation(cmd.Context(), speedup)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./rxsim.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().String("input-dir", "", "Directory holding the claim CSV shards")
	rootCmd.Flags().String("pattern", config.DefaultPattern, "Input filename glob")
	rootCmd.Flags().String("dsn", "", "Claims database DSN (user:pass@tcp(host:port)/db)")
	rootCmd.Flags().String("metrics-dir", config.DefaultMetricsDir, "Directory for pipe-delimited metrics logs")
	rootCmd.Flags().Int("batch-size", config.DefaultBatchSize, "Claims per persistence batch")
	rootCmd.Flags().Uint64("seed", 0, "Random seed for the decision engine (0 = time-derived)")
	rootCmd.Flags().Bool("step-delays", false, "Simulate per-step adjudication latency")
	rootCmd.Flags().Bool("stream", false, "Stream claims through a bounded queue instead of loading all up front")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	// Flags override env and config file through viper.
	bind := map[string]string{
		"input.dir":          "input-dir",
		"input.pattern":      "pattern",
		"db.dsn":             "dsn",
		"metrics.dir":        "metrics-dir",
		"batch.size":         "batch-size",
		"engine.seed":        "seed",
		"engine.step-delays": "step-delays",
		"pipeline.stream":    "stream",
	}
	for key, flag := range bind {
		if err := viper.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// parseSpeedup validates the positional time-compression argument.
func parseSpeedup(arg string) (float64, error) {
	s, err := strconv.ParseFloat(arg, 64)
	if err != nil || s <= 0 {
		return 0, fmt.Errorf("%w: speedup must be a positive decimal, got %q",
			config.ErrConfig, arg)
	}
	return s, nil
}

// runSimulation wires the components and executes the pipeline.
func runSimulation(ctx context.Context, speedup float64) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	rec, err := metrics.NewRecorder(cfg.MetricsDir)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	defer func() { _ = rec.Close() }()

	st, err := store.Open(ctx, cfg.DSN,
		store.WithRecorder(rec),
		store.WithTxTimeout(cfg.TxTimeout),
	)
	if err != nil {
		// Unreachable store and missing reference data both block startup
		// the same way.
		return &pipeline.StageError{Stage: pipeline.StageVerify, Err: err}
	}
	defer func() { _ = st.Close() }()

	src := ingest.New(cfg.InputDir, cfg.Pattern)
	eng := engine.New(engine.NewSeededSource(cfg.Seed), engine.WithStepDelays(cfg.StepDelays))

	coord := pipeline.New(src, eng, st,
		pipeline.WithBatchSize(cfg.BatchSize),
		pipeline.WithStreaming(cfg.Stream),
	)

	if !quietFlag {
		fmt.Printf("Starting simulation: speedup=%.1f batch=%d stream=%v\n",
			speedup, cfg.BatchSize, cfg.Stream)
	}

	report, err := coord.Run(ctx, speedup)
	if report != nil && !quietFlag {
		report.Render(os.Stdout)
	}
	return err
}

// exitCode maps an Execute error to the documented process exit code.
func exitCode(err error) int {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
