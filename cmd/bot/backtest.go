package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/backtest"
	"github.com/eddiefleurent/nifty_condor/internal/dashboard"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
)

type backtestOptions struct {
	strategy string
	from     string
	to       string
	days     int
	capital  float64
	seed     int64
	out      string
	asJSON   bool
	noRecord bool
}

func newBacktestCmd(opts *rootOptions) *cobra.Command {
	bo := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay strategies over simulated NIFTY price paths",
		Example: `  bot backtest --strategy both --from 2026-01-01 --to 2026-03-31
  bot backtest --strategy straddle --days 60 --seed 7 --out reports/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.backtest(cmd.Context(), bo, time.Now(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&bo.strategy, "strategy", "s", "", "iron_condor, straddle, daily_scalp or both (default: config selector)")
	cmd.Flags().StringVar(&bo.from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&bo.to, "to", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&bo.days, "days", 30, "calendar days to replay when --from is empty")
	cmd.Flags().Float64Var(&bo.capital, "capital", 0, "starting capital in rupees (default: config capital)")
	cmd.Flags().Int64Var(&bo.seed, "seed", 0, "random seed (default: config seed)")
	cmd.Flags().StringVarP(&bo.out, "out", "o", "", "directory for CSV and JSON exports")
	cmd.Flags().BoolVar(&bo.asJSON, "json", false, "print reports as JSON")
	cmd.Flags().BoolVar(&bo.noRecord, "no-record", false, "do not append run summaries to storage")
	return cmd
}

// request resolves the date flags against now in the exchange timezone.
func (bo *backtestOptions) request(now time.Time, loc *time.Location) (dashboard.BacktestRequest, error) {
	to := bo.to
	if to == "" {
		to = now.In(loc).Format("2006-01-02")
	}
	from := bo.from
	if from == "" {
		if bo.days <= 0 {
			return dashboard.BacktestRequest{}, fmt.Errorf("--days must be positive, got %d", bo.days)
		}
		end, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return dashboard.BacktestRequest{}, fmt.Errorf("to: %w", err)
		}
		from = end.AddDate(0, 0, -bo.days).Format("2006-01-02")
	}
	return dashboard.BacktestRequest{
		Strategy: bo.strategy,
		From:     from,
		To:       to,
		Capital:  bo.capital,
		Seed:     bo.seed,
	}, nil
}

func (a *app) backtest(ctx context.Context, bo *backtestOptions, now time.Time, out io.Writer) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	body, err := bo.request(now, loc)
	if err != nil {
		return err
	}
	reqs, err := body.Requests(a.cfg)
	if err != nil {
		return err
	}

	sim := backtest.NewSimulator(a.cfg.Backtest, a.cfg.Instrument, a.calendar, logrus.NewEntry(a.logger))
	reports, err := sim.RunAll(ctx, reqs)
	if err != nil {
		return err
	}

	for _, rep := range reports {
		if !bo.noRecord {
			if err := a.store.AppendBacktestRun(ctx, rep.Summary()); err != nil {
				a.logger.WithError(err).WithField("run", rep.RunID).Warn("Failed to record backtest run")
			}
		}
		if bo.out != "" {
			files, err := backtest.Export(bo.out, rep)
			if err != nil {
				return fmt.Errorf("exporting %s: %w", rep.Strategy, err)
			}
			a.logger.WithFields(logrus.Fields{"strategy": rep.Strategy, "files": files}).Info("Backtest exported")
		}
	}

	if bo.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, rep := range reports {
		printReport(out, rep)
	}
	return nil
}

func printReport(w io.Writer, rep *backtest.Report) {
	fmt.Fprintf(w, "=== %s  %s .. %s  (seed %d) ===\n", rep.Strategy, rep.From, rep.To, rep.Seed)
	fmt.Fprintf(w, "Capital:        %.2f -> %.2f (%+.2f%%)\n", rep.InitialCapital, rep.FinalCapital, rep.ReturnPct)
	fmt.Fprintf(w, "Trades:         %d (%d wins, %d losses, win rate %.1f%%)\n", rep.TotalTrades, rep.Wins, rep.Losses, rep.WinRate)
	fmt.Fprintf(w, "Total P&L:      %.2f\n", rep.TotalPnL)
	fmt.Fprintf(w, "Avg win/loss:   %.2f / %.2f\n", rep.AvgProfit, rep.AvgLoss)
	fmt.Fprintf(w, "Best/worst:     %.2f / %.2f\n", rep.BestTrade, rep.WorstTrade)
	fmt.Fprintf(w, "Max drawdown:   %.2f (%.2f%%)\n", rep.MaxDrawdown, rep.MaxDrawdownPct)
	fmt.Fprintf(w, "Profit factor:  %.2f\n", rep.ProfitFactor)
	fmt.Fprintf(w, "Sharpe:         %.2f\n", rep.Sharpe)
	if rep.AvgExitTime != "" {
		fmt.Fprintf(w, "Avg exit time:  %s\n", rep.AvgExitTime)
	}

	if len(rep.ExitReasons) > 0 {
		fmt.Fprintln(w, "Exit reasons:")
		reasons := make([]string, 0, len(rep.ExitReasons))
		for r := range rep.ExitReasons {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-12s %d\n", r, rep.ExitReasons[models.ExitReason(r)])
		}
	}
	if len(rep.SkippedDays) > 0 {
		fmt.Fprintln(w, "Skipped days:")
		reasons := make([]string, 0, len(rep.SkippedDays))
		for r := range rep.SkippedDays {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-20s %d\n", r, rep.SkippedDays[strategy.Rejection(r)])
		}
	}
	fmt.Fprintln(w)
}
