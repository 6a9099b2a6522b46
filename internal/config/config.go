// Package config assembles cogpid's configuration from defaults, a YAML
// file and COGPID_ environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cogpid/internal/agent"
	"github.com/fyrsmithlabs/cogpid/internal/checkpoint"
	"github.com/fyrsmithlabs/cogpid/internal/controller"
	"github.com/fyrsmithlabs/cogpid/internal/embeddings"
	"github.com/fyrsmithlabs/cogpid/internal/guard"
	"github.com/fyrsmithlabs/cogpid/internal/logging"
	"github.com/fyrsmithlabs/cogpid/internal/loop"
	"github.com/fyrsmithlabs/cogpid/internal/measure"
	"github.com/fyrsmithlabs/cogpid/internal/policy"
	"github.com/fyrsmithlabs/cogpid/internal/secrets"
	"github.com/fyrsmithlabs/cogpid/internal/telemetry"
	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

// Config holds the complete cogpid configuration.
type Config struct {
	TargetPV  float64 `koanf:"target_pv" json:"target_pv"`
	Workspace string  `koanf:"workspace" json:"workspace"`
	StateDir  string  `koanf:"state_dir" json:"state_dir"`

	// IgnoreFiles hold gitignore-style patterns, relative to Workspace,
	// that measurement and summaries skip.
	IgnoreFiles []string `koanf:"ignore_files" json:"ignore_files"`

	Loop       loop.Config               `koanf:"loop" json:"loop"`
	Controller controller.Config         `koanf:"controller" json:"controller"`
	Policy     PolicyConfig              `koanf:"policy" json:"policy"`
	Guards     guard.Config              `koanf:"guards" json:"guards"`
	Measure    MeasureConfig             `koanf:"measure" json:"measure"`
	Embeddings embeddings.ProviderConfig `koanf:"embeddings" json:"embeddings"`
	Checkpoint CheckpointConfig          `koanf:"checkpoint" json:"checkpoint"`
	LLM        LLMConfig                 `koanf:"llm" json:"llm"`
	Secrets    secrets.Config            `koanf:"secrets" json:"secrets"`
	Server     ServerConfig              `koanf:"server" json:"server"`
	Logging    logging.Config            `koanf:"logging" json:"logging"`
	Telemetry  telemetry.Config          `koanf:"telemetry" json:"telemetry"`
}

// PolicyConfig configures the progressive policy.
type PolicyConfig struct {
	Schedule policy.Schedule `koanf:"schedule" json:"schedule"`
	Bands    policy.Bands    `koanf:"bands" json:"bands"`
	Initial  policy.Params   `koanf:"initial" json:"initial"`
}

// MeasureConfig configures the PV engine and test runner.
type MeasureConfig struct {
	Weights map[string]float64 `koanf:"weights" json:"weights"`

	// NoTestsScore is the tests metric when the suite reports no tests.
	NoTestsScore float64 `koanf:"no_tests_score" json:"no_tests_score"`

	// TestCommand emits `go test -json` events. Empty disables tests.
	TestCommand []string `koanf:"test_command" json:"test_command"`
	TestTimeout Duration `koanf:"test_timeout" json:"test_timeout"`

	// LintFloor is the syntax issues per file that score 0.
	LintFloor float64 `koanf:"lint_floor" json:"lint_floor"`

	// MaxChars bounds the workspace text fed to similarity and coverage.
	MaxChars int `koanf:"max_chars" json:"max_chars"`
}

// CheckpointConfig configures the checkpoint store. An empty Dir means
// <state_dir>/checkpoints.
type CheckpointConfig struct {
	Dir        string `koanf:"dir" json:"dir"`
	KeepRecent int    `koanf:"keep_recent" json:"keep_recent"`
	Git        bool   `koanf:"git" json:"git"`
}

// LLMConfig configures the language-model collaborators. Planner,
// Generator and Reviewer override Model per role when set.
type LLMConfig struct {
	Provider  string        `koanf:"provider" json:"provider"`
	Model     string        `koanf:"model" json:"model"`
	BaseURL   string        `koanf:"base_url" json:"base_url"`
	APIKey    Secret        `koanf:"api_key" json:"api_key"`
	MaxTokens int           `koanf:"max_tokens" json:"max_tokens"`
	Price     agent.Pricing `koanf:"price" json:"price"`

	Planner   string `koanf:"planner_model" json:"planner_model"`
	Generator string `koanf:"generator_model" json:"generator_model"`
	Reviewer  string `koanf:"reviewer_model" json:"reviewer_model"`

	Retry agent.RetryConfig `koanf:"retry" json:"retry"`
}

// ServerConfig configures the optional status and metrics endpoint.
type ServerConfig struct {
	// Addr enables the endpoint when non-empty, e.g. "127.0.0.1:9464".
	Addr            string   `koanf:"addr" json:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		TargetPV:    0.85,
		Workspace:   ".",
		IgnoreFiles: append([]string(nil), workspace.DefaultIgnoreFiles...),
		Loop:        loop.DefaultConfig(),
		Controller:  controller.DefaultConfig(),
		Policy: PolicyConfig{
			Schedule: policy.DefaultSchedule(),
			Bands:    policy.DefaultBands(),
			Initial:  policy.DefaultParams(),
		},
		Guards: guard.DefaultConfig(),
		Measure: MeasureConfig{
			Weights:     measure.DefaultWeights(),
			TestCommand: append([]string(nil), measure.DefaultTestCommand...),
			TestTimeout: Duration(5 * time.Minute),
			LintFloor:   10,
			MaxChars:    50000,
		},
		Embeddings: embeddings.ProviderConfig{Provider: "none"},
		Checkpoint: CheckpointConfig{
			KeepRecent: checkpoint.DefaultConfig().KeepRecent,
			Git:        false,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 4096,
			Retry:     agent.DefaultRetryConfig(),
		},
		Secrets: secrets.DefaultConfig(),
		Server: ServerConfig{
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate is the single startup gate: every configuration error is
// reported here, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	if c.TargetPV <= 0 || c.TargetPV > 1 {
		errs = append(errs, fmt.Errorf("target_pv must be in (0, 1], got %g", c.TargetPV))
	}
	if c.Workspace == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	add("loop", c.Loop.Validate())
	add("controller", c.Controller.Validate())
	add("policy.schedule", c.Policy.Schedule.Validate())
	add("policy.bands", c.Policy.Bands.Validate())
	if t := c.Policy.Initial.Temperature; t < c.Policy.Bands.MinTemperature || t > c.Policy.Bands.MaxTemperature {
		errs = append(errs, fmt.Errorf("policy.initial: temperature %g outside [%g, %g]", t, c.Policy.Bands.MinTemperature, c.Policy.Bands.MaxTemperature))
	}
	if s := c.Policy.Initial.Strictness; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("policy.initial: strictness must be in [0, 1], got %g", s))
	}
	add("guards", c.Guards.Validate())
	add("measure.weights", measure.ValidateWeights(c.Measure.Weights))
	if c.Measure.NoTestsScore < 0 || c.Measure.NoTestsScore > 1 {
		errs = append(errs, fmt.Errorf("measure: no_tests_score must be in [0, 1], got %g", c.Measure.NoTestsScore))
	}
	if c.Checkpoint.KeepRecent < 0 {
		errs = append(errs, fmt.Errorf("checkpoint: keep_recent must be >= 0, got %d", c.Checkpoint.KeepRecent))
	}
	switch c.Embeddings.Provider {
	case "", "none", "fastembed", "tei":
	default:
		errs = append(errs, fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider))
	}
	add("llm.retry", c.LLM.Retry.Validate())
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm: provider is required"))
	}
	if c.LLM.Price.InputPer1K < 0 || c.LLM.Price.OutputPer1K < 0 {
		errs = append(errs, errors.New("llm: prices must be >= 0"))
	}
	add("secrets", c.Secrets.Validate())
	add("logging", c.Logging.Validate())
	add("telemetry", c.Telemetry.Validate())
	return errors.Join(errs...)
}

// AgentConfig returns the collaborator settings for role, one of
// "planner", "generator" or "reviewer".
func (c LLMConfig) AgentConfig(role string) agent.LLMConfig {
	model := c.Model
	switch role {
	case "planner":
		model = orDefault(c.Planner, model)
	case "generator":
		model = orDefault(c.Generator, model)
	case "reviewer":
		model = orDefault(c.Reviewer, model)
	}
	return agent.LLMConfig{
		Provider:  c.Provider,
		Model:     model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey.Value(),
		MaxTokens: c.MaxTokens,
		Price:     c.Price,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
