package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level     string            `koanf:"level" json:"level"`
	Format    string            `koanf:"format" json:"format"`
	Output    OutputConfig      `koanf:"output" json:"output"`
	Sampling  SamplingConfig    `koanf:"sampling" json:"sampling"`
	Caller    bool              `koanf:"caller" json:"caller"`
	Fields    map[string]string `koanf:"fields" json:"fields"`
	Redaction RedactionConfig   `koanf:"redaction" json:"redaction"`
}

// OutputConfig controls where logs are written. Stderr keeps stdout free
// for command output.
type OutputConfig struct {
	Stderr bool `koanf:"stderr" json:"stderr"`
	OTEL   bool `koanf:"otel" json:"otel"`
}

// SamplingConfig throttles repeated entries below error level.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled" json:"enabled"`
	Tick       time.Duration `koanf:"tick" json:"tick"`
	Initial    int           `koanf:"initial" json:"initial"`
	Thereafter int           `koanf:"thereafter" json:"thereafter"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled" json:"enabled"`
	Fields   []string `koanf:"fields" json:"fields"`
	Patterns []string `koanf:"patterns" json:"patterns"`
}

// maxPatternLen bounds redaction regexps.
const maxPatternLen = 200

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: OutputConfig{Stderr: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "cogpid",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`sk-[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// ZapLevel parses Level, accepting "trace".
func (c *Config) ZapLevel() (zapcore.Level, error) {
	return LevelFromString(c.Level)
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.ZapLevel(); err != nil {
		errs = append(errs, fmt.Errorf("level: %w", err))
	}
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled (stderr or otel)"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		errs = append(errs, errors.New("sampling tick must be > 0 when sampling enabled"))
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p))
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("invalid redaction pattern %q: %w", p, err))
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("constant field %q must have a key and a value", k))
		}
	}
	return errors.Join(errs...)
}
