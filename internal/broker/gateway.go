// Package broker defines the quote and order gateway the trading core depends on, its error
// taxonomy, and decorators that add a circuit breaker, call spacing and a short quote cache.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// Gateway is the market data and order contract consumed by the monitor.
// Implementations return *Error (or wrap one of the sentinels) so callers can Classify failures.
type Gateway interface {
	// Market data
	GetSpot(ctx context.Context) (float64, error)
	GetVIX(ctx context.Context) (float64, error)
	GetOptionQuote(ctx context.Context, strike int, typ models.OptionType, expiry time.Time) (float64, error)
	GetOptionChain(ctx context.Context, expiry time.Time) ([]ChainEntry, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
	CloseOrder(ctx context.Context, req OrderRequest) (*Fill, error)
}

// SessionRefresher is implemented by gateways whose session token can be replaced at runtime.
type SessionRefresher interface {
	UpdateSession(ctx context.Context, token string) error
}

// ChainEntry is one row of an option chain.
type ChainEntry struct {
	Strike int               `json:"strike"`
	Type   models.OptionType `json:"type"`
	LTP    float64           `json:"ltp"`
	OI     int64             `json:"oi"`
}

// OrderRequest is a market order for one leg.
type OrderRequest struct {
	Tag      string            `json:"tag"` // position id, for the broker's order book
	Expiry   time.Time         `json:"expiry"`
	Strike   int               `json:"strike"`
	Type     models.OptionType `json:"type"`
	Side     models.Side       `json:"side"`
	Quantity int               `json:"quantity"`
}

// Key returns the leg key the order trades.
func (r OrderRequest) Key() models.LegKey {
	return models.LegKey{Strike: r.Strike, Type: r.Type}
}

func (r OrderRequest) String() string {
	return fmt.Sprintf("%s %d%s x%d exp %s", r.Side, r.Strike, r.Type.Suffix(), r.Quantity, r.Expiry.Format("2006-01-02"))
}

// OpenRequest builds the order that opens leg.
func OpenRequest(tag string, expiry time.Time, leg models.Leg) OrderRequest {
	return OrderRequest{Tag: tag, Expiry: expiry, Strike: leg.Strike, Type: leg.OptionType, Side: leg.Side, Quantity: leg.Quantity}
}

// CloseRequest builds the offsetting order for leg.
func CloseRequest(tag string, expiry time.Time, leg models.Leg) OrderRequest {
	side := models.SideBuy
	if leg.Side == models.SideBuy {
		side = models.SideSell
	}
	return OrderRequest{Tag: tag, Expiry: expiry, Strike: leg.Strike, Type: leg.OptionType, Side: side, Quantity: leg.Quantity}
}

// Fill is an executed order.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	Quantity int       `json:"quantity"`
	Time     time.Time `json:"time"`
}

// ChainQuotes indexes a chain by leg key.
func ChainQuotes(chain []ChainEntry) (ltp map[models.LegKey]float64, oi map[models.LegKey]int64) {
	ltp = make(map[models.LegKey]float64, len(chain))
	oi = make(map[models.LegKey]int64, len(chain))
	for _, e := range chain {
		k := models.LegKey{Strike: e.Strike, Type: e.Type}
		ltp[k] = e.LTP
		oi[k] = e.OI
	}
	return ltp, oi
}
