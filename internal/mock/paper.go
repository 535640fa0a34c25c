// Package mock provides the paper-trading gateway: a seeded simulated NIFTY market priced with
// the same model the backtest uses. Fills are at the model price; nothing leaves the process.
package mock

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/pricing"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// chainWidth is the number of strikes listed either side of ATM.
const chainWidth = 20

// tradingMinutesPerYear scales VIX to per-minute spot moves.
const tradingMinutesPerYear = 252 * 375

// OrderRecord is an order the paper gateway filled.
type OrderRecord struct {
	Request broker.OrderRequest
	Fill    broker.Fill
	Close   bool
}

// PaperGateway implements broker.Gateway against a simulated market. Spot follows a random walk
// scaled by VIX over the clock time elapsed between calls. Tests can pin prices, queue failures
// and expire the session.
type PaperGateway struct {
	mu        sync.Mutex
	rng       *rand.Rand
	clock     clock.Clock
	cal       *calendar.Calendar
	step      int
	spot      float64
	vix       float64
	lastMove  time.Time
	frozen    bool
	expired   bool
	token     string
	failures  []error
	overrides map[models.LegKey]float64
	orders    []OrderRecord
}

var (
	_ broker.Gateway          = (*PaperGateway)(nil)
	_ broker.SessionRefresher = (*PaperGateway)(nil)
)

// NewPaperGateway seeds the simulated market from config.
func NewPaperGateway(cfg config.PaperConfig, inst config.InstrumentConfig, cal *calendar.Calendar, clk clock.Clock) *PaperGateway {
	if clk == nil {
		clk = clock.Real{}
	}
	seed := uint64(cfg.Seed)
	return &PaperGateway{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		clock:     clk,
		cal:       cal,
		step:      inst.StrikeStep,
		spot:      cfg.StartSpot,
		vix:       cfg.StartVIX,
		lastMove:  clk.Now(),
		overrides: make(map[models.LegKey]float64),
	}
}

// SetMarket pins spot and VIX. A frozen market stops the random walk.
func (p *PaperGateway) SetMarket(spot, vix float64, frozen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spot, p.vix, p.frozen = spot, vix, frozen
	p.lastMove = p.clock.Now()
}

// SetQuote pins the price of one contract; a non-positive price makes it unavailable.
func (p *PaperGateway) SetQuote(key models.LegKey, price float64) {
	p.mu.Lock()
	p.overrides[key] = price
	p.mu.Unlock()
}

// ClearQuotes removes pinned prices.
func (p *PaperGateway) ClearQuotes() {
	p.mu.Lock()
	p.overrides = make(map[models.LegKey]float64)
	p.mu.Unlock()
}

// FailNext queues errors returned by the next calls, one per call.
func (p *PaperGateway) FailNext(errs ...error) {
	p.mu.Lock()
	p.failures = append(p.failures, errs...)
	p.mu.Unlock()
}

// ExpireSession makes every call fail with AuthExpired until UpdateSession.
func (p *PaperGateway) ExpireSession() {
	p.mu.Lock()
	p.expired = true
	p.mu.Unlock()
}

// UpdateSession installs a new session token.
func (p *PaperGateway) UpdateSession(_ context.Context, token string) error {
	if token == "" {
		return broker.Fatal("UpdateSession", errors.New("empty session token"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.expired = false
	return nil
}

// Orders returns a copy of the filled orders.
func (p *PaperGateway) Orders() []OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRecord, len(p.orders))
	copy(out, p.orders)
	return out
}

// begin checks the session and injected failures, then moves the market. Caller holds p.mu.
func (p *PaperGateway) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return broker.Transient(op, err)
	}
	if p.expired {
		return broker.AuthExpired(op, errors.New("paper session expired"))
	}
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		if err != nil {
			return err
		}
	}
	p.move()
	return nil
}

func (p *PaperGateway) move() {
	now := p.clock.Now()
	elapsed := now.Sub(p.lastMove).Minutes()
	p.lastMove = now
	if p.frozen || elapsed <= 0 || p.spot <= 0 {
		return
	}
	sigma := pricing.IV(p.vix) * math.Sqrt(elapsed/tradingMinutesPerYear)
	p.spot *= math.Exp(p.rng.NormFloat64() * sigma)
	p.vix = math.Min(40, math.Max(9, p.vix+p.rng.NormFloat64()*0.02*math.Sqrt(elapsed)))
}

func (p *PaperGateway) premium(key models.LegKey, expiry time.Time) (float64, bool) {
	if v, ok := p.overrides[key]; ok {
		return v, v > 0
	}
	years := p.cal.YearsToExpiry(p.clock.Now(), expiry, pricing.MinDaysToExpiry)
	return pricing.Premium(p.spot, key.Strike, key.Type, pricing.IV(p.vix), years), true
}

func (p *PaperGateway) GetSpot(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "GetSpot"); err != nil {
		return 0, err
	}
	return math.Round(p.spot*100) / 100, nil
}

func (p *PaperGateway) GetVIX(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "GetVIX"); err != nil {
		return 0, err
	}
	return math.Round(p.vix*100) / 100, nil
}

func (p *PaperGateway) GetOptionQuote(ctx context.Context, strike int, typ models.OptionType, expiry time.Time) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "GetOptionQuote"); err != nil {
		return 0, err
	}
	key := models.LegKey{Strike: strike, Type: typ}
	price, ok := p.premium(key, expiry)
	if !ok {
		return 0, broker.QuoteUnavailable("GetOptionQuote", errors.New("no price for "+key.String()))
	}
	return price, nil
}

func (p *PaperGateway) GetOptionChain(ctx context.Context, expiry time.Time) ([]broker.ChainEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "GetOptionChain"); err != nil {
		return nil, err
	}
	atm := util.ATMStrike(p.spot, p.step)
	chain := make([]broker.ChainEntry, 0, 2*(2*chainWidth+1))
	for i := -chainWidth; i <= chainWidth; i++ {
		strike := atm + i*p.step
		for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
			ltp, ok := p.premium(models.LegKey{Strike: strike, Type: typ}, expiry)
			if !ok {
				continue
			}
			chain = append(chain, broker.ChainEntry{
				Strike: strike,
				Type:   typ,
				LTP:    ltp,
				OI:     pricing.OpenInterest(p.spot, strike, typ),
			})
		}
	}
	return chain, nil
}

func (p *PaperGateway) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.Fill, error) {
	return p.fill(ctx, "PlaceOrder", req, false)
}

func (p *PaperGateway) CloseOrder(ctx context.Context, req broker.OrderRequest) (*broker.Fill, error) {
	return p.fill(ctx, "CloseOrder", req, true)
}

func (p *PaperGateway) fill(ctx context.Context, op string, req broker.OrderRequest, closing bool) (*broker.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, op); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, broker.Fatal(op, errors.New("quantity must be positive"))
	}
	price, ok := p.premium(req.Key(), req.Expiry)
	if !ok {
		return nil, broker.QuoteUnavailable(op, errors.New("no price for "+req.Key().String()))
	}
	f := broker.Fill{
		OrderID:  uuid.NewString(),
		Price:    price,
		Quantity: req.Quantity,
		Time:     p.clock.Now(),
	}
	p.orders = append(p.orders, OrderRecord{Request: req, Fill: f, Close: closing})
	return &f, nil
}
