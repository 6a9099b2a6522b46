package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrPermanent marks a collaborator failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent collaborator failure")

// CallError is returned once a collaborator has exhausted its attempts.
// The loop treats it as a failed iteration, not a fatal error.
type CallError struct {
	Collaborator string
	Attempts     int
	Err          error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Collaborator, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// RetryConfig bounds each collaborator call.
type RetryConfig struct {
	// MaxAttempts includes the first try.
	MaxAttempts int `koanf:"max_attempts" json:"max_attempts"`

	// Timeout applies to each attempt separately.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`

	InitialInterval time.Duration `koanf:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval" json:"max_interval"`

	// RateLimit is requests per second across attempts. Zero disables.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit"`
	Burst     int     `koanf:"burst" json:"burst"`
}

// DefaultRetryConfig mirrors the limits used for hosted LLM APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		Timeout:         2 * time.Minute,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
		RateLimit:       50.0 / 60.0,
		Burst:           5,
	}
}

// Validate checks the retry bounds.
func (c RetryConfig) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	if c.InitialInterval < 0 || c.MaxInterval < c.InitialInterval {
		errs = append(errs, fmt.Errorf("backoff interval range [%s, %s] is invalid", c.InitialInterval, c.MaxInterval))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be >= 0, got %g", c.RateLimit))
	}
	return errors.Join(errs...)
}

type retrying[Req, Resp any] struct {
	name    string
	next    Collaborator[Req, Resp]
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Retrying wraps c with a per-attempt timeout, an optional rate limit and
// bounded exponential backoff. Errors wrapping ErrPermanent stop retrying.
func Retrying[Req, Resp any](name string, c Collaborator[Req, Resp], cfg RetryConfig, logger *zap.Logger) (Collaborator[Req, Resp], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s retry config: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &retrying[Req, Resp]{name: name, next: c, cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	return r, nil
}

func (r *retrying[Req, Resp]) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
}

// Call implements Collaborator.
func (r *retrying[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var (
		out      Resp
		attempts int
	)

	op := func() error {
		attempts++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		resp, err := r.next.Call(attemptCtx, req)
		if err != nil {
			if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("collaborator call failed, retrying",
			zap.String("collaborator", r.name),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, r.newBackOff(ctx), notify); err != nil {
		var zero Resp
		return zero, &CallError{Collaborator: r.name, Attempts: attempts, Err: err}
	}
	return out, nil
}
