package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/config"
	httpserver "github.com/fyrsmithlabs/cogpid/internal/http"
	"github.com/fyrsmithlabs/cogpid/internal/loop"
	"github.com/fyrsmithlabs/cogpid/internal/telemetry"
)

type runFlags struct {
	goal          string
	targetPV      float64
	maxIterations int
	budget        float64
	metricsAddr   string
}

func newRunCmd(opts *options) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Refine the workspace toward a goal",
		Long: `Run the refinement loop on the workspace until it converges or a guard
stops it. The final report is printed to stdout as JSON; logs go to stderr.

The exit code is 0 whenever the loop reaches a terminal state, including
budget, stagnation, iteration-limit and human-review stops.

Examples:
  # Refine the current directory
  cogpid run --goal "Implement a CLI calculator with tests"

  # Cap the spend and expose /metrics and /api/v1/status
  cogpid run --goal "..." --budget 2.5 --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLoop(ctx, opts, flags, cmd)
		},
	}

	cmd.Flags().StringVarP(&flags.goal, "goal", "g", "", "what the workspace should become (required)")
	cmd.Flags().Float64Var(&flags.targetPV, "target-pv", 0, "PV at which the run converges (overrides config)")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "iteration cap (overrides config)")
	cmd.Flags().Float64Var(&flags.budget, "budget", 0, "spend ceiling in USD (overrides config)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics and /api/v1/status on this address")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func runLoop(ctx context.Context, opts *options, flags *runFlags, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, func(c *config.Config) {
		if cmd.Flags().Changed("target-pv") {
			c.TargetPV = flags.targetPV
		}
		if cmd.Flags().Changed("max-iterations") {
			c.Guards.MaxIterations = flags.maxIterations
		}
		if cmd.Flags().Changed("budget") {
			c.Guards.MaxBudgetUSD = flags.budget
		}
		if flags.metricsAddr != "" {
			c.Server.Addr = flags.metricsAddr
		}
	})
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Zap()

	tel, err := telemetry.New(ctx, &cfg.Telemetry, zlog)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Telemetry.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	comps, err := buildComponents(cfg, llmCollaborators, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			zlog.Warn("closing run components failed", zap.Error(err))
		}
	}()

	l, err := loop.New(loop.Setpoint{Goal: flags.goal, TargetPV: cfg.TargetPV}, cfg.Loop, comps.deps)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	logger.Info(ctx, "starting cogpid run",
		zap.String("run.id", l.RunID()),
		zap.String("workspace", cfg.Workspace),
		zap.Float64("target_pv", cfg.TargetPV),
		zap.Int("max_iterations", cfg.Guards.MaxIterations),
		zap.Float64("max_budget_usd", cfg.Guards.MaxBudgetUSD))

	if cfg.Server.Addr != "" {
		srv, err := startServer(l, cfg, zlog)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zlog.Warn("http server shutdown failed", zap.Error(err))
			}
		}()
	}

	// Cancellation is honoured at the next iteration boundary.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn(context.WithoutCancel(ctx), "stop requested, finishing current iteration",
				zap.String("run.id", l.RunID()))
			l.Stop()
		case <-done:
		}
	}()

	report, err := l.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info(ctx, "cogpid run finished",
		zap.String("run.id", report.RunID),
		zap.String("state", string(report.State)),
		zap.String("reason", report.Reason),
		zap.Int("iterations", report.Iterations),
		zap.Float64("best_pv", report.BestPV),
		zap.Float64("final_pv", report.FinalPV),
		zap.Float64("total_cost_usd", report.TotalCost),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	enc := json.NewEncoder(opts.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// startServer binds the status endpoint synchronously so a bad address
// fails the run before it starts.
func startServer(l *loop.Loop, cfg *config.Config, logger *zap.Logger) (*httpserver.Server, error) {
	srv, err := httpserver.NewServer(l, logger, &httpserver.Config{
		Addr:    cfg.Server.Addr,
		Version: version,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Listen(); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	logger.Info("status endpoint listening",
		zap.String("metrics", "http://"+srv.Addr()+"/metrics"),
		zap.String("status", "http://"+srv.Addr()+"/api/v1/status"),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))
	return srv, nil
}
