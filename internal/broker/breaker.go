package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker functionality.
// Only transient and fatal failures count against the breaker; a missing quote or an expired
// session says nothing about the gateway's health.
type CircuitBreakerGateway struct {
	gw      Gateway
	breaker *gobreaker.CircuitBreaker
}

var _ Gateway = (*CircuitBreakerGateway)(nil)

// execCircuitBreaker runs fn through the breaker and restores its static result type.
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, gw Gateway, fn func(Gateway) (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gw) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerGateway creates a breaker with the configured thresholds.
func NewCircuitBreakerGateway(gw Gateway, settings config.CircuitBreakerConfig, log *logrus.Logger) *CircuitBreakerGateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			switch Classify(err) {
			case OutcomeSuccess, OutcomeQuoteUnavailable, OutcomeAuthExpired:
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	}
	return &CircuitBreakerGateway{gw: gw, breaker: gobreaker.NewCircuitBreaker(gbSettings)}
}

// State exposes the breaker state for metrics and the query surface.
func (c *CircuitBreakerGateway) State() gobreaker.State {
	return c.breaker.State()
}

// UpdateSession forwards to the wrapped gateway when it supports session refresh.
func (c *CircuitBreakerGateway) UpdateSession(ctx context.Context, token string) error {
	if r, ok := c.gw.(SessionRefresher); ok {
		return r.UpdateSession(ctx, token)
	}
	return nil
}

func (c *CircuitBreakerGateway) GetSpot(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) (float64, error) { return g.GetSpot(ctx) })
}

func (c *CircuitBreakerGateway) GetVIX(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) (float64, error) { return g.GetVIX(ctx) })
}

func (c *CircuitBreakerGateway) GetOptionQuote(ctx context.Context, strike int, typ models.OptionType, expiry time.Time) (float64, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) (float64, error) {
		return g.GetOptionQuote(ctx, strike, typ, expiry)
	})
}

func (c *CircuitBreakerGateway) GetOptionChain(ctx context.Context, expiry time.Time) ([]ChainEntry, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) ([]ChainEntry, error) {
		return g.GetOptionChain(ctx, expiry)
	})
}

func (c *CircuitBreakerGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) (*Fill, error) { return g.PlaceOrder(ctx, req) })
}

func (c *CircuitBreakerGateway) CloseOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	return execCircuitBreaker(c.breaker, c.gw, func(g Gateway) (*Fill, error) { return g.CloseOrder(ctx, req) })
}
