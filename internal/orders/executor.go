// Package orders places and unwinds the per-leg orders of a multi-leg position.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
)

// EntryError reports a failed entry. Legs filled before the failure were unwound.
type EntryError struct {
	Leg       models.Leg
	Filled    int
	Err       error
	UnwindErr error
}

func (e *EntryError) Error() string {
	msg := fmt.Sprintf("entry failed on %s after %d filled legs: %v", e.Leg, e.Filled, e.Err)
	if e.UnwindErr != nil {
		msg += fmt.Sprintf(" (unwind: %v)", e.UnwindErr)
	}
	return msg
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Executor sends leg orders through the gateway with the monitor's retry policy.
type Executor struct {
	gw      broker.Gateway
	retrier *retry.Retrier
	logger  *logrus.Entry
}

// NewExecutor creates an executor. The gateway must not be nil.
func NewExecutor(gw broker.Gateway, retrier *retry.Retrier, logger *logrus.Entry) *Executor {
	if gw == nil {
		panic("orders.NewExecutor: gateway must not be nil")
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig, nil, logger)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{gw: gw, retrier: retrier, logger: logger}
}

// Open fills legs in slice order. If any leg fails, legs already filled are closed again
// (even when ctx has been canceled) and an *EntryError is returned.
func (e *Executor) Open(ctx context.Context, tag string, expiry time.Time, legs []models.Leg) ([]broker.Fill, error) {
	fills := make([]broker.Fill, 0, len(legs))
	for _, leg := range legs {
		req := broker.OpenRequest(tag, expiry, leg)
		fill, err := retry.Do(ctx, e.retrier, "PlaceOrder", func(ctx context.Context) (*broker.Fill, error) {
			return e.gw.PlaceOrder(ctx, req)
		})
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"position": tag, "leg": leg.String()}).
				Error("entry order failed, unwinding filled legs")
			filled := legs[:len(fills)]
			return nil, &EntryError{
				Leg:       leg,
				Filled:    len(fills),
				Err:       err,
				UnwindErr: e.unwind(context.WithoutCancel(ctx), tag, expiry, filled),
			}
		}
		e.logger.WithFields(logrus.Fields{"position": tag, "leg": leg.String(), "price": fill.Price}).Info("entry leg filled")
		fills = append(fills, *fill)
	}
	return fills, nil
}

// unwind closes filled legs in reverse fill order, so short legs go before their hedges.
func (e *Executor) unwind(ctx context.Context, tag string, expiry time.Time, legs []models.Leg) error {
	var errs []error
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		req := broker.CloseRequest(tag, expiry, leg)
		if _, err := retry.Do(ctx, e.retrier, "CloseOrder", func(ctx context.Context) (*broker.Fill, error) {
			return e.gw.CloseOrder(ctx, req)
		}); err != nil {
			errs = append(errs, fmt.Errorf("unwind %s: %w", leg, err))
		}
	}
	return errors.Join(errs...)
}

// CloseOrder returns the indices of idx that are still open, SELL legs first.
func CloseOrder(legs []models.Leg, idx []int) []int {
	var sells, buys []int
	for _, i := range idx {
		if i < 0 || i >= len(legs) || legs[i].Closed {
			continue
		}
		if legs[i].Side == models.SideSell {
			sells = append(sells, i)
		} else {
			buys = append(buys, i)
		}
	}
	return append(sells, buys...)
}

// Close sends closing orders for the open legs among idx, short legs first. It keeps going
// after a failed leg so one bad contract does not strand the others, except on an expired
// session where every further call would fail too. The fills map is keyed by leg index.
func (e *Executor) Close(ctx context.Context, tag string, expiry time.Time, legs []models.Leg, idx []int) (map[int]broker.Fill, error) {
	fills := make(map[int]broker.Fill)
	var errs []error
	for _, i := range CloseOrder(legs, idx) {
		req := broker.CloseRequest(tag, expiry, legs[i])
		fill, err := retry.Do(ctx, e.retrier, "CloseOrder", func(ctx context.Context) (*broker.Fill, error) {
			return e.gw.CloseOrder(ctx, req)
		})
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"position": tag, "leg": legs[i].String()}).
				Warn("close order failed")
			errs = append(errs, fmt.Errorf("close %s: %w", legs[i], err))
			if broker.Classify(err) == broker.OutcomeAuthExpired {
				break
			}
			continue
		}
		fills[i] = *fill
	}
	return fills, errors.Join(errs...)
}
