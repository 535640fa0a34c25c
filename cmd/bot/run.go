package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/nifty_condor/internal/backtest"
	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/dashboard"
	"github.com/eddiefleurent/nifty_condor/internal/mock"
	"github.com/eddiefleurent/nifty_condor/internal/monitor"
	"github.com/eddiefleurent/nifty_condor/internal/notify"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		closeOnExit bool
		noDashboard bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured strategies until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(opts.configPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()
			if noDashboard {
				a.cfg.Dashboard.Enabled = false
			}
			return a.run(ctx, clock.Real{}, closeOnExit)
		},
	}
	cmd.Flags().BoolVar(&closeOnExit, "close-on-exit", false, "square off open positions on shutdown instead of persisting them")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not start the HTTP dashboard")
	return cmd
}

// newGateway builds the gateway chain: provider, circuit breaker, then throttle and cache.
func (a *app) newGateway(clk clock.Clock) (broker.Gateway, error) {
	var base broker.Gateway
	switch a.cfg.Gateway.Provider {
	case "", "paper":
		base = mock.NewPaperGateway(a.cfg.Gateway.Paper, a.cfg.Instrument, a.calendar, clk)
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", a.cfg.Gateway.Provider)
	}
	breaker := broker.NewCircuitBreakerGateway(base, a.cfg.Gateway.CircuitBreaker, a.logger)
	return broker.NewThrottledGateway(breaker, a.cfg.Gateway, a.cfg.Instrument.Name, clk), nil
}

// newSupervisor creates one runner per selected strategy, all sharing the gateway chain.
func (a *app) newSupervisor(gw broker.Gateway, clk clock.Clock) (*monitor.Supervisor, error) {
	entry := logrus.NewEntry(a.logger)
	retrier := retry.New(retry.FromConfig(a.cfg.Gateway.Retry), clk, entry)
	notifier := notify.New(a.cfg.Notify, entry)

	var runners []*monitor.Runner
	for _, sc := range a.cfg.Selected() {
		runners = append(runners, monitor.NewRunner(monitor.Deps{
			Strategy:     sc,
			Instrument:   a.cfg.Instrument,
			PollInterval: a.cfg.Schedule.PollInterval,
			Calendar:     a.calendar,
			Gateway:      gw,
			Retrier:      retrier,
			Storage:      a.store,
			Notifier:     notifier,
			Clock:        clk,
			Logger:       entry,
		}))
	}
	return monitor.NewSupervisor(entry, runners...)
}

func (a *app) run(ctx context.Context, clk clock.Clock, closeOnExit bool) error {
	a.logger.WithFields(logrus.Fields{
		"mode":     a.cfg.Environment.Mode,
		"provider": a.cfg.Gateway.Provider,
		"strategy": a.cfg.Strategy,
	}).Info("Starting NIFTY options bot")

	gw, err := a.newGateway(clk)
	if err != nil {
		return err
	}
	if a.cfg.Gateway.SessionToken != "" {
		if err := monitor.RefreshSession(ctx, gw, a.cfg.Gateway.SessionToken); err != nil {
			return fmt.Errorf("opening gateway session: %w", err)
		}
	}

	sup, err := a.newSupervisor(gw, clk)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})

	if a.cfg.Dashboard.Enabled {
		sim := backtest.NewSimulator(a.cfg.Backtest, a.cfg.Instrument, a.calendar, logrus.NewEntry(a.logger))
		server := dashboard.NewServer(dashboard.Config{
			Port:      a.cfg.Dashboard.Port,
			AuthToken: a.cfg.Dashboard.AuthToken,
		}, sup, a.store, sim, a.cfg, a.logger)

		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	if closeOnExit {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := sup.StopAll(shutdownCtx, true); stopErr != nil {
			a.logger.WithError(stopErr).Error("Failed to square off positions on shutdown")
			err = errors.Join(err, stopErr)
		}
	}

	a.logger.Info("Bot stopped")
	return err
}
