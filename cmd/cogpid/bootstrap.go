package main

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/agent"
	"github.com/fyrsmithlabs/cogpid/internal/checkpoint"
	"github.com/fyrsmithlabs/cogpid/internal/config"
	"github.com/fyrsmithlabs/cogpid/internal/controller"
	"github.com/fyrsmithlabs/cogpid/internal/embeddings"
	"github.com/fyrsmithlabs/cogpid/internal/guard"
	"github.com/fyrsmithlabs/cogpid/internal/history"
	"github.com/fyrsmithlabs/cogpid/internal/logging"
	"github.com/fyrsmithlabs/cogpid/internal/loop"
	"github.com/fyrsmithlabs/cogpid/internal/measure"
	"github.com/fyrsmithlabs/cogpid/internal/policy"
	"github.com/fyrsmithlabs/cogpid/internal/secrets"
	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

// errConfig marks failures that happen before a run starts.
var errConfig = errors.New("configuration error")

// loadConfig reads the configuration, applies the persistent flags and
// resolves paths against the workspace.
func loadConfig(opts *options, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	if opts.workspace != "" {
		cfg.Workspace = opts.workspace
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. The OTEL output uses the global
// logger provider.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(&cfg.Logging, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return logger, nil
}

// openCheckpoints opens the checkpoint store of cfg.
func openCheckpoints(cfg *config.Config, logger *zap.Logger) (checkpoint.Service, error) {
	return checkpoint.NewService(checkpoint.Config{
		Dir:        cfg.Checkpoint.Dir,
		KeepRecent: cfg.Checkpoint.KeepRecent,
		Git:        cfg.Checkpoint.Git,
	}, logger)
}

// components are the collaborators of one run plus what must be closed
// after it.
type components struct {
	deps    loop.Deps
	closers []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// collaborators builds the planner, generator and reviewer.
type collaborators func(cfg *config.Config, ledger *agent.Ledger, logger *zap.Logger) (agent.Planner, agent.Generator, agent.Reviewer, error)

// llmCollaborators drives each role through its own langchaingo model,
// wrapped with retries and rate limiting.
func llmCollaborators(cfg *config.Config, ledger *agent.Ledger, logger *zap.Logger) (agent.Planner, agent.Generator, agent.Reviewer, error) {
	scrubber, err := secrets.New(cfg.Secrets)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("secrets: %w", err)
	}
	llmFor := func(role string) (*agent.LLM, error) {
		ac := cfg.LLM.AgentConfig(role)
		model, err := agent.NewModel(ac)
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", role, err)
		}
		return agent.NewLLM(model, ac, ledger, logger.Named(role), agent.WithScrubber(scrubber)), nil
	}

	p, err := llmFor("planner")
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := llmFor("generator")
	if err != nil {
		return nil, nil, nil, err
	}
	r, err := llmFor("reviewer")
	if err != nil {
		return nil, nil, nil, err
	}

	planner, err := agent.Retrying("planner", p.Planner(), cfg.LLM.Retry, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	generator, err := agent.Retrying("generator", g.Generator(), cfg.LLM.Retry, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	reviewer, err := agent.Retrying("reviewer", r.Reviewer(), cfg.LLM.Retry, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return planner, generator, reviewer, nil
}

// buildComponents wires every dependency of a run from cfg. On error,
// whatever was opened is closed again.
func buildComponents(cfg *config.Config, newCollaborators collaborators, logger *zap.Logger) (*components, error) {
	c := &components{}
	built := false
	defer func() {
		if !built {
			_ = c.Close()
		}
	}()

	var wsOpts []workspace.Option
	if len(cfg.IgnoreFiles) > 0 {
		wsOpts = append(wsOpts, workspace.WithIgnoreFiles(cfg.IgnoreFiles...))
	}
	ws, err := workspace.Open(cfg.Workspace, wsOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	cps, err := openCheckpoints(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	c.closers = append(c.closers, cps.Close)

	provider, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings: %w", errConfig, err)
	}
	similarity := &measure.SimilarityMetric{MaxChars: cfg.Measure.MaxChars, Logger: logger}
	if provider != nil {
		similarity.Embedder = provider
		c.closers = append(c.closers, provider.Close)
	}

	engine, err := measure.NewEngine(cfg.Measure.Weights, []measure.Metric{
		similarity,
		&measure.TestsMetric{NoTestsScore: cfg.Measure.NoTestsScore},
		&measure.LintMetric{Floor: cfg.Measure.LintFloor, Logger: logger},
		&measure.CoverageMetric{MaxChars: cfg.Measure.MaxChars},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	var runner measure.TestRunner
	if len(cfg.Measure.TestCommand) > 0 {
		runner = &measure.CommandTestRunner{
			Command: cfg.Measure.TestCommand,
			Timeout: cfg.Measure.TestTimeout.Duration(),
		}
	}

	ctrl, err := controller.New(cfg.Controller)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	pol, err := policy.New(cfg.Policy.Schedule, cfg.Policy.Bands)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	guards, err := guard.NewSet(cfg.Guards)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	ledger := &agent.Ledger{}
	planner, generator, reviewer, err := newCollaborators(cfg, ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("opening history log: %w", err)
	}
	c.closers = append(c.closers, hist.Close)

	c.deps = loop.Deps{
		Workspace:   ws,
		Checkpoints: cps,
		Measurer:    engine,
		TestRunner:  runner,
		Controller:  ctrl,
		Policy:      pol,
		Guards:      guards,
		Planner:     planner,
		Generator:   generator,
		Reviewer:    reviewer,
		Ledger:      ledger,
		History:     hist,
		Metrics:     loop.NewMetrics(),
		Logger:      logger,
		Params:      cfg.Policy.Initial,
	}
	built = true
	return c, nil
}
