// Package retry applies the monitor's backoff policy to gateway calls. Only failures that
// broker.Classify reports as transient are retried; everything else returns at once.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/config"
)

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// FromConfig converts the gateway retry section.
func FromConfig(c config.RetryConfig) Config {
	return Config{MaxAttempts: c.MaxAttempts, InitialBackoff: c.InitialBackoff, MaxBackoff: c.MaxBackoff}
}

// Retrier carries a policy, the clock backoff waits on, and a logger.
type Retrier struct {
	config Config
	clock  clock.Clock
	logger *logrus.Entry
}

// New builds a Retrier. Invalid attempt counts fall back to the default; a zero initial
// backoff retries immediately.
func New(cfg Config, clk clock.Clock, logger *logrus.Entry) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retrier{config: cfg, clock: clk, logger: logger}
}

// Config returns the sanitized policy.
func (r *Retrier) Config() Config {
	return r.config
}

// Do runs fn until it succeeds, fails with a non-transient error, attempts run out, or ctx
// ends. The returned error wraps the last failure so it still classifies.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Info("gateway call recovered")
			}
			return v, nil
		}
		lastErr = err

		outcome := broker.Classify(err)
		if !outcome.Retryable() {
			return zero, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("transient gateway error, retrying")

		if backoff > 0 {
			select {
			case <-r.clock.After(backoff):
			case <-ctx.Done():
				return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
			}
		}
		backoff = r.nextBackoff(backoff)
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, r.config.MaxAttempts, lastErr)
}

// nextBackoff grows by 1.5x up to MaxBackoff and adds up to 25% jitter.
func (r *Retrier) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}
	if maxJitter := int64(backoff / 4); maxJitter > 0 {
		backoff += time.Duration(rand.Int64N(maxJitter))
	}
	return backoff
}
