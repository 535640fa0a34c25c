package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// fakeGateway counts calls and fails with err after failAfter successful calls.
type fakeGateway struct {
	calls     atomic.Int32
	failAfter int32
	err       error
	spot      float64
	release   chan struct{}
	sessions  []string
}

var _ Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) next() error {
	n := f.calls.Add(1)
	if f.err != nil && n > f.failAfter {
		return f.err
	}
	return nil
}

func (f *fakeGateway) GetSpot(ctx context.Context) (float64, error) {
	if f.release != nil {
		<-f.release
	}
	if err := f.next(); err != nil {
		return 0, err
	}
	return f.spot, nil
}

func (f *fakeGateway) GetVIX(ctx context.Context) (float64, error) {
	return 14, f.next()
}

func (f *fakeGateway) GetOptionQuote(ctx context.Context, strike int, typ models.OptionType, expiry time.Time) (float64, error) {
	if err := f.next(); err != nil {
		return 0, err
	}
	return float64(strike) / 1000, nil
}

func (f *fakeGateway) GetOptionChain(ctx context.Context, expiry time.Time) ([]ChainEntry, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []ChainEntry{{Strike: 22000, Type: models.OptionCall, LTP: 90, OI: 1000}}, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return &Fill{OrderID: fmt.Sprintf("o-%d", f.calls.Load()), Price: 10, Quantity: req.Quantity}, nil
}

func (f *fakeGateway) CloseOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	return f.PlaceOrder(ctx, req)
}

func (f *fakeGateway) UpdateSession(ctx context.Context, token string) error {
	f.sessions = append(f.sessions, token)
	return nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"transient", Transient("spot", errors.New("503")), OutcomeTransient},
		{"wrapped transient", fmt.Errorf("cycle: %w", Transient("spot", nil)), OutcomeTransient},
		{"quote", QuoteUnavailable("quote", nil), OutcomeQuoteUnavailable},
		{"auth", AuthExpired("order", nil), OutcomeAuthExpired},
		{"fatal", Fatal("order", errors.New("rejected")), OutcomeFatal},
		{"sentinel auth", fmt.Errorf("login: %w", ErrAuthExpired), OutcomeAuthExpired},
		{"deadline", context.DeadlineExceeded, OutcomeTransient},
		{"breaker open", gobreaker.ErrOpenState, OutcomeTransient},
		{"breaker half open", gobreaker.ErrTooManyRequests, OutcomeTransient},
		{"unknown", errors.New("boom"), OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
	assert.True(t, OutcomeTransient.Retryable())
	assert.False(t, OutcomeAuthExpired.Retryable())
}

func TestError_IsSentinel(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := Transient("GetSpot", cause)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrFatal)
	assert.Equal(t, "GetSpot: transient: 429 too many requests", err.Error())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindTransient, gwErr.Kind)
}

func TestCloseRequest_FlipsSide(t *testing.T) {
	expiry := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	short := models.Leg{Side: models.SideSell, OptionType: models.OptionCall, Strike: 22200, Quantity: 65}
	long := models.Leg{Side: models.SideBuy, OptionType: models.OptionPut, Strike: 21600, Quantity: 65}

	assert.Equal(t, models.SideBuy, CloseRequest("p", expiry, short).Side)
	assert.Equal(t, models.SideSell, CloseRequest("p", expiry, long).Side)
	assert.Equal(t, models.SideSell, OpenRequest("p", expiry, short).Side)
	assert.Equal(t, "SELL 22200CE x65 exp 2026-03-05", OpenRequest("p", expiry, short).String())
}

func testBreakerSettings() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	}
}

func TestCircuitBreakerGateway_TripsOnTransient(t *testing.T) {
	fake := &fakeGateway{err: Transient("spot", errors.New("timeout")), failAfter: 1, spot: 22000}
	cb := NewCircuitBreakerGateway(fake, testBreakerSettings(), nil)

	spot, err := cb.GetSpot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22000.0, spot)

	for i := 0; i < 3; i++ {
		_, _ = cb.GetSpot(context.Background())
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("Circuit breaker should be open, but state is %s", cb.State())
	}

	_, err = cb.GetSpot(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected gobreaker.ErrOpenState but got: %v", err)
	}
	assert.Equal(t, OutcomeTransient, Classify(err))
	assert.Equal(t, int32(3), fake.calls.Load(), "open breaker must not reach the gateway")
}

func TestCircuitBreakerGateway_IgnoresQuoteAndAuthFailures(t *testing.T) {
	for _, failure := range []error{QuoteUnavailable("quote", nil), AuthExpired("quote", nil)} {
		fake := &fakeGateway{err: failure}
		cb := NewCircuitBreakerGateway(fake, testBreakerSettings(), nil)

		for i := 0; i < 10; i++ {
			_, err := cb.GetOptionQuote(context.Background(), 22000, models.OptionCall, time.Now())
			require.Error(t, err)
		}
		assert.Equal(t, gobreaker.StateClosed, cb.State(), "failure %v must not trip", failure)
	}
}

func TestCircuitBreakerGateway_ForwardsSession(t *testing.T) {
	fake := &fakeGateway{}
	cb := NewCircuitBreakerGateway(fake, testBreakerSettings(), nil)
	require.NoError(t, cb.UpdateSession(context.Background(), "tok"))
	assert.Equal(t, []string{"tok"}, fake.sessions)
}

func throttleConfig() config.GatewayConfig {
	return config.GatewayConfig{QuoteCacheTTL: 3 * time.Second, CallTimeout: time.Second}
}

func TestThrottledGateway_CachesWithinTTL(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	fake := &fakeGateway{spot: 22000}
	tg := NewThrottledGateway(fake, throttleConfig(), "NIFTY", clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		spot, err := tg.GetSpot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 22000.0, spot)
	}
	assert.Equal(t, int32(1), fake.calls.Load())

	clk.Advance(3 * time.Second)
	_, err := tg.GetSpot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.calls.Load())

	expiry := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	_, _ = tg.GetOptionQuote(ctx, 22000, models.OptionCall, expiry)
	_, _ = tg.GetOptionQuote(ctx, 22000, models.OptionPut, expiry)
	_, _ = tg.GetOptionQuote(ctx, 22000, models.OptionCall, expiry)
	assert.Equal(t, int32(4), fake.calls.Load(), "distinct strikes are cached separately")
}

func TestThrottledGateway_DoesNotCacheErrorsOrOrders(t *testing.T) {
	clk := clock.NewManual(time.Now())
	fake := &fakeGateway{err: Transient("spot", nil)}
	tg := NewThrottledGateway(fake, throttleConfig(), "NIFTY", clk)
	ctx := context.Background()

	_, err := tg.GetSpot(ctx)
	require.Error(t, err)
	_, err = tg.GetSpot(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(2), fake.calls.Load())

	ok := &fakeGateway{}
	tg = NewThrottledGateway(ok, throttleConfig(), "NIFTY", clk)
	req := OrderRequest{Strike: 22000, Type: models.OptionCall, Side: models.SideSell, Quantity: 65}
	f1, err := tg.PlaceOrder(ctx, req)
	require.NoError(t, err)
	f2, err := tg.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, f1.OrderID, f2.OrderID)
}

func TestThrottledGateway_SharesConcurrentFetch(t *testing.T) {
	fake := &fakeGateway{spot: 22000, release: make(chan struct{})}
	tg := NewThrottledGateway(fake, throttleConfig(), "NIFTY", clock.NewManual(time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spot, err := tg.GetSpot(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 22000.0, spot)
		}()
	}
	close(fake.release)
	wg.Wait()
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestThrottledGateway_LimiterHonoursContext(t *testing.T) {
	cfg := throttleConfig()
	cfg.MinCallSpacing = time.Hour
	fake := &fakeGateway{}
	tg := NewThrottledGateway(fake, cfg, "NIFTY", clock.NewManual(time.Now()))

	req := OrderRequest{Strike: 22000, Type: models.OptionCall, Side: models.SideSell, Quantity: 65}
	_, err := tg.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tg.PlaceOrder(ctx, req)
	require.Error(t, err)
	assert.Equal(t, OutcomeTransient, Classify(err))
	assert.Equal(t, int32(1), fake.calls.Load())
}

// deadlineGateway records the deadline each order call receives.
type deadlineGateway struct {
	*fakeGateway
	deadline time.Time
	hasDL    bool
}

func (d *deadlineGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	d.deadline, d.hasDL = ctx.Deadline()
	return d.fakeGateway.PlaceOrder(ctx, req)
}

func TestThrottledGateway_AppliesCallTimeout(t *testing.T) {
	gw := &deadlineGateway{fakeGateway: &fakeGateway{}}
	tg := NewThrottledGateway(gw, throttleConfig(), "NIFTY", clock.NewManual(time.Now()))

	start := time.Now()
	_, err := tg.PlaceOrder(context.Background(), OrderRequest{Strike: 22000, Type: models.OptionPut, Side: models.SideSell, Quantity: 65})
	require.NoError(t, err)

	require.True(t, gw.hasDL, "gateway call must carry the configured timeout")
	assert.False(t, gw.deadline.Before(start.Add(time.Second)))
	assert.True(t, gw.deadline.Before(time.Now().Add(time.Second+time.Millisecond)))
}

func TestThrottledGateway_UpdateSessionInvalidates(t *testing.T) {
	fake := &fakeGateway{spot: 22000}
	tg := NewThrottledGateway(fake, throttleConfig(), "NIFTY", clock.NewManual(time.Now()))

	_, _ = tg.GetSpot(context.Background())
	require.NoError(t, tg.UpdateSession(context.Background(), "fresh"))
	_, _ = tg.GetSpot(context.Background())

	assert.Equal(t, int32(2), fake.calls.Load())
	assert.Equal(t, []string{"fresh"}, fake.sessions)
}
