package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// ThrottledGateway spaces gateway calls, bounds each with a timeout, and caches market data
// for a few seconds so the dashboard and the monitor do not multiply upstream calls.
// Concurrent misses for the same key share one upstream call. Orders are never cached.
type ThrottledGateway struct {
	gw         Gateway
	limiter    *rate.Limiter
	ttl        time.Duration
	timeout    time.Duration
	instrument string
	clock      clock.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

var _ Gateway = (*ThrottledGateway)(nil)

// NewThrottledGateway wraps gw. A zero spacing disables rate limiting and a zero TTL disables caching.
func NewThrottledGateway(gw Gateway, cfg config.GatewayConfig, instrument string, clk clock.Clock) *ThrottledGateway {
	limit := rate.Inf
	if cfg.MinCallSpacing > 0 {
		limit = rate.Every(cfg.MinCallSpacing)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ThrottledGateway{
		gw:         gw,
		limiter:    rate.NewLimiter(limit, 1),
		ttl:        cfg.QuoteCacheTTL,
		timeout:    cfg.CallTimeout,
		instrument: instrument,
		clock:      clk,
		cache:      make(map[string]cacheEntry),
	}
}

// Invalidate drops every cached value.
func (t *ThrottledGateway) Invalidate() {
	t.mu.Lock()
	t.cache = make(map[string]cacheEntry)
	t.mu.Unlock()
}

// UpdateSession forwards to the wrapped gateway and drops cached data fetched under the old session.
func (t *ThrottledGateway) UpdateSession(ctx context.Context, token string) error {
	t.Invalidate()
	if r, ok := t.gw.(SessionRefresher); ok {
		return r.UpdateSession(ctx, token)
	}
	return nil
}

func (t *ThrottledGateway) lookup(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.cache[key]
	if !ok || !t.clock.Now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (t *ThrottledGateway) store(key string, v interface{}) {
	if t.ttl <= 0 {
		return
	}
	t.mu.Lock()
	t.cache[key] = cacheEntry{value: v, expires: t.clock.Now().Add(t.ttl)}
	t.mu.Unlock()
}

// call waits for the limiter and runs fn under the per-call timeout.
func call[T any](ctx context.Context, t *ThrottledGateway, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := t.limiter.Wait(ctx); err != nil {
		metrics.GatewayCalls.WithLabelValues(op, OutcomeTransient.String()).Inc()
		return zero, Transient(op, fmt.Errorf("rate limiter: %w", err))
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	metrics.GatewayCalls.WithLabelValues(op, Classify(err).String()).Inc()
	return v, err
}

// cached serves key from the cache or fetches it once for all concurrent callers.
func cached[T any](ctx context.Context, t *ThrottledGateway, op, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := t.lookup(key); ok {
		metrics.QuoteCache.WithLabelValues("hit").Inc()
		return v.(T), nil
	}
	metrics.QuoteCache.WithLabelValues("miss").Inc()

	res, err, _ := t.group.Do(key, func() (interface{}, error) {
		if v, ok := t.lookup(key); ok {
			return v, nil
		}
		v, err := call(ctx, t, op, fn)
		if err != nil {
			return nil, err
		}
		t.store(key, v)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

func (t *ThrottledGateway) GetSpot(ctx context.Context) (float64, error) {
	return cached(ctx, t, "spot", t.instrument+":spot", t.gw.GetSpot)
}

func (t *ThrottledGateway) GetVIX(ctx context.Context) (float64, error) {
	return cached(ctx, t, "vix", "INDIAVIX", t.gw.GetVIX)
}

func (t *ThrottledGateway) GetOptionQuote(ctx context.Context, strike int, typ models.OptionType, expiry time.Time) (float64, error) {
	key := fmt.Sprintf("%s:%s:%d%s", t.instrument, expiry.Format("20060102"), strike, typ.Suffix())
	return cached(ctx, t, "quote", key, func(ctx context.Context) (float64, error) {
		return t.gw.GetOptionQuote(ctx, strike, typ, expiry)
	})
}

func (t *ThrottledGateway) GetOptionChain(ctx context.Context, expiry time.Time) ([]ChainEntry, error) {
	key := fmt.Sprintf("%s:%s:chain", t.instrument, expiry.Format("20060102"))
	return cached(ctx, t, "chain", key, func(ctx context.Context) ([]ChainEntry, error) {
		return t.gw.GetOptionChain(ctx, expiry)
	})
}

func (t *ThrottledGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	return call(ctx, t, "place_order", func(ctx context.Context) (*Fill, error) { return t.gw.PlaceOrder(ctx, req) })
}

func (t *ThrottledGateway) CloseOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	return call(ctx, t, "close_order", func(ctx context.Context) (*Fill, error) { return t.gw.CloseOrder(ctx, req) })
}
