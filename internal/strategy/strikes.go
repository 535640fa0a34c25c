// Package strategy holds the entry gate and exit evaluator shared by the live monitor and the
// backtest simulator. Nothing here performs I/O; market data arrives through MarketSource or
// a models.MarketSnapshot.
package strategy

import (
	"context"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// MarketSource prices candidate legs at entry. The live monitor backs it with the gateway,
// the simulator with the pricing model.
type MarketSource interface {
	Premium(ctx context.Context, key models.LegKey) (float64, error)
	// OpenInterest is only consulted in dynamic strike mode; a nil map falls back to offsets.
	OpenInterest(ctx context.Context) (map[models.LegKey]int64, error)
}

// SelectLegs builds the unpriced legs for a variant around atm. Long wings come first so
// callers placing orders in slice order buy protection before writing.
func SelectLegs(sc config.StrategyConfig, inst config.InstrumentConfig, atm int, oi map[models.LegKey]int64) []models.Leg {
	qty := sc.Quantity(inst.LotSize)

	callShort := atm + sc.CallSellOffset
	putShort := atm - sc.PutSellOffset
	if sc.StrikeMode == config.StrikeDynamic && len(oi) > 0 {
		callShort = maxOIStrike(oi, models.OptionCall, atm, sc.DynamicRadius, inst.StrikeStep, sc.CallSellOffset == 0, callShort)
		putShort = maxOIStrike(oi, models.OptionPut, atm, sc.DynamicRadius, inst.StrikeStep, sc.PutSellOffset == 0, putShort)
	}

	var wings, shorts []models.Leg
	if sc.CallBuyOffset > 0 {
		wings = append(wings, leg(models.SideBuy, models.OptionCall, callShort+(sc.CallBuyOffset-sc.CallSellOffset), qty))
	}
	if sc.PutBuyOffset > 0 {
		wings = append(wings, leg(models.SideBuy, models.OptionPut, putShort-(sc.PutBuyOffset-sc.PutSellOffset), qty))
	}
	shorts = append(shorts,
		leg(models.SideSell, models.OptionCall, callShort, qty),
		leg(models.SideSell, models.OptionPut, putShort, qty),
	)
	return append(wings, shorts...)
}

func leg(side models.Side, typ models.OptionType, strike, qty int) models.Leg {
	return models.Leg{Side: side, OptionType: typ, Strike: strike, Quantity: qty}
}

// maxOIStrike scans outward from ATM on the out-of-the-money side of typ and returns the strike
// with the highest open interest within radius. ATM itself is a candidate only with
// includeATM. Ties keep the strike nearer ATM.
func maxOIStrike(oi map[models.LegKey]int64, typ models.OptionType, atm, radius, step int, includeATM bool, fallback int) int {
	if step <= 0 {
		return fallback
	}
	dir := step
	if typ == models.OptionPut {
		dir = -step
	}
	first := atm + dir
	if includeATM {
		first = atm
	}
	best, bestOI := fallback, int64(-1)
	for k := first; util.Abs(k-atm) <= radius; k += dir {
		v, ok := oi[models.LegKey{Strike: k, Type: typ}]
		if !ok {
			continue
		}
		if v > bestOI {
			best, bestOI = k, v
		}
	}
	return best
}
