package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

func TestNewSupervisor_RejectsDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	_, err := NewSupervisor(nil, f.runner, f.runner)
	assert.Error(t, err)
}

func TestSupervisor_LookupAndViews(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, func(sc *config.StrategyConfig) { sc.Kind = config.KindIronCondor })
	s, err := NewSupervisor(nil, a.runner, b.runner)
	require.NoError(t, err)

	assert.Equal(t, []string{"iron_condor", "straddle"}, s.IDs())
	views := s.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "iron_condor", views[0].Strategy)

	_, err = s.View("strangle")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.ErrorIs(t, s.Start("strangle"), ErrUnknownStrategy)
	assert.ErrorIs(t, s.Stop(context.Background(), "strangle", false), ErrUnknownStrategy)
}

func TestSupervisor_UpdateSessionClearsEveryRunner(t *testing.T) {
	f := newFixture(t, nil)
	s, err := NewSupervisor(nil, f.runner)
	require.NoError(t, err)

	f.paper.ExpireSession()
	f.runner.RunCycle(context.Background())
	require.True(t, f.runner.View().AuthExpired)

	assert.Error(t, s.UpdateSession(context.Background(), ""))
	require.NoError(t, s.UpdateSession(context.Background(), "token"))
	assert.False(t, f.runner.View().AuthExpired)
}

func TestSupervisor_StopAndStart(t *testing.T) {
	f := newFixture(t, nil)
	s, err := NewSupervisor(nil, f.runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return f.runner.View().Running })
	require.NoError(t, s.Stop(context.Background(), "straddle", false))
	waitFor(t, func() bool { return !f.runner.View().Running })

	require.NoError(t, s.Start("straddle"))
	waitFor(t, func() bool { return f.runner.View().Running })

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
