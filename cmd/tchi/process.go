package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/config"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/harmonize"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/pipeline"
)

func newProcessCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one date (default: today, UTC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := parseDateFlag("date", date, domain.Today())
			if err != nil {
				return err
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *pipeline.Orchestrator) error {
				res, err := o.Process(ctx, d)
				if err != nil {
					reportFailure(cmd.ErrOrStderr(), res)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps executed, %d reused\n",
					d, res.Executed(), len(res.Steps)-res.Executed())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "processing date, YYYY-MM-DD")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Process every date in an inclusive range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseDateFlag("from", from, domain.Date{})
			if err != nil {
				return err
			}
			t, err := parseDateFlag("to", to, domain.Date{})
			if err != nil {
				return err
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *pipeline.Orchestrator) error {
				results, err := o.Backfill(ctx, f, t)
				for _, res := range results {
					if res == nil {
						continue
					}
					if res.Failed() != nil {
						reportFailure(cmd.ErrOrStderr(), res)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps executed\n", res.Date, res.Executed())
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// parseDateFlag returns def for an empty value.
func parseDateFlag(name, value string, def domain.Date) (domain.Date, error) {
	if value == "" {
		if def.IsZero() {
			return domain.Date{}, fmt.Errorf("--%s is required", name)
		}
		return def, nil
	}
	d, err := domain.ParseDate(value)
	if err != nil {
		return domain.Date{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

// reportFailure prints the failed step and its diagnostics.
func reportFailure(w io.Writer, res *pipeline.RunResult) {
	if res == nil {
		return
	}
	failed := res.Failed()
	if failed == nil {
		return
	}
	fmt.Fprintf(w, "%s: step %s failed: %v\n", res.Date, failed.Step, failed.Err)
	for _, d := range failed.Diagnostics {
		fmt.Fprintf(w, "  %s\n", d)
	}
}

// withOrchestrator builds the orchestrator and its run hooks from the
// environment, runs fn under a signal-aware context and releases the hooks.
func withOrchestrator(parent context.Context, fn func(context.Context, *pipeline.Orchestrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hooks, closeHooks, err := buildHooks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHooks()

	o := pipeline.New(orchestratorOptions(cfg), harmonize.New(logger), logger, metrics, hooks...)
	err = fn(ctx, o)
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted")
	}
	return err
}

func layoutFrom(cfg *config.Config) catalog.Layout {
	return catalog.Layout{RawDir: cfg.RawDir, ProcessedDir: cfg.ProcessedDir}
}

func orchestratorOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Layout: layoutFrom(cfg),
		Inputs: pipeline.DefaultInputs(cfg.EKESourcePath, cfg.BathymetryPath),
		Target: harmonize.Target{
			CRS:        cfg.TargetCRS,
			Resolution: cfg.TargetResolution,
			Bounds:     cfg.TargetBounds,
		},
		StepTimeout:     cfg.StepTimeout,
		Workers:         cfg.HarmonizeWorkers,
		BackfillWorkers: cfg.BackfillWorkers,
		VerifyChecksums: cfg.VerifyChecksums,
	}
}

func logClose(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(what+" close error", "error", err)
	}
}
