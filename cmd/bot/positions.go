package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

// positionsAudit is what the ledger holds right now.
type positionsAudit struct {
	Open       map[string]*models.Position `json:"open"`
	Recent     []storage.TradeRecord       `json:"recent"`
	Statistics *storage.Statistics         `json:"statistics"`
	Issues     []string                    `json:"issues,omitempty"`
}

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Audit persisted open positions and the trade ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			audit, err := a.auditPositions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(audit)
			}
			printAudit(cmd.OutOrStdout(), audit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "recent trades to show")
	cmd.AddCommand(newResetCmd(opts))
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var (
		strategyID string
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget a persisted open position (after squaring it off by hand)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes; square off the legs at the broker first")
			}
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.resetPosition(cmd.Context(), strategyID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&strategyID, "strategy", "s", "", "strategy id whose open position is cleared")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func (a *app) auditPositions(ctx context.Context, limit int) (*positionsAudit, error) {
	audit := &positionsAudit{Open: make(map[string]*models.Position)}
	for _, sc := range a.cfg.Selected() {
		pos, err := a.store.LoadOpenPosition(ctx, sc.ID())
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", sc.ID(), err)
		}
		if pos == nil {
			continue
		}
		audit.Open[sc.ID()] = pos
		audit.Issues = append(audit.Issues, positionIssues(sc.ID(), pos)...)
	}

	var err error
	if audit.Recent, err = a.store.History(ctx, limit); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if audit.Statistics, err = a.store.Statistics(ctx, ""); err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	return audit, nil
}

func positionIssues(id string, pos *models.Position) []string {
	var issues []string
	switch pos.State {
	case models.StateClosing:
		issues = append(issues, fmt.Sprintf("%s: position %s was interrupted while closing; the runner retries the remaining legs", id, pos.ID))
	case models.StatePendingEntry:
		issues = append(issues, fmt.Sprintf("%s: position %s never finished entering; check the broker and reset once flat", id, pos.ID))
	}
	if len(pos.OpenLegs()) == 0 {
		issues = append(issues, fmt.Sprintf("%s: position %s has no open legs", id, pos.ID))
	}
	return issues
}

func (a *app) resetPosition(ctx context.Context, id string, out io.Writer) error {
	if _, err := a.cfg.StrategyFor(config.StrategyKind(id)); err != nil {
		return err
	}
	pos, err := a.store.LoadOpenPosition(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && pos == nil) {
		fmt.Fprintf(out, "%s: no open position\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.store.ClearOpenPosition(ctx, id); err != nil {
		return err
	}
	a.logger.WithField("strategy", id).WithField("position", pos.ID).Warn("Open position cleared by operator")
	fmt.Fprintf(out, "%s: cleared position %s (%s)\n", id, pos.ID, pos.Describe())
	return nil
}

func printAudit(w io.Writer, audit *positionsAudit) {
	fmt.Fprintln(w, "=== OPEN POSITIONS ===")
	if len(audit.Open) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for id, pos := range audit.Open {
		fmt.Fprintf(w, "  %-12s %s %s entered %s: %s\n", id, pos.ID, pos.State, pos.EntryTime.Format("2006-01-02 15:04"), pos.Describe())
	}

	fmt.Fprintln(w, "=== RECENT TRADES ===")
	for _, t := range audit.Recent {
		fmt.Fprintf(w, "  %s %-12s %-10s %10.2f\n", t.Day, t.Strategy, t.ExitReason, t.PnL)
	}

	s := audit.Statistics
	fmt.Fprintf(w, "=== LEDGER ===\n  trades=%d win rate=%.1f%% total P&L=%.2f\n", s.TotalTrades, s.WinRate, s.TotalPnL)

	if len(audit.Issues) > 0 {
		fmt.Fprintln(w, "POTENTIAL ISSUES FOUND:")
		for i, issue := range audit.Issues {
			fmt.Fprintf(w, "  %d. %s\n", i+1, issue)
		}
	}
}
