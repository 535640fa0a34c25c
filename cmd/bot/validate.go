package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/config"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and show the resolved strategies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			cal, err := calendar.New(cfg)
			if err != nil {
				return err
			}
			return describeConfig(cmd.OutOrStdout(), cfg, cal, time.Now())
		},
	}
}

func describeConfig(w io.Writer, cfg *config.Config, cal *calendar.Calendar, now time.Time) error {
	fmt.Fprintf(w, "config OK: mode=%s provider=%s storage=%s(%s)\n",
		cfg.Environment.Mode, cfg.Gateway.Provider, cfg.Storage.Driver, cfg.Storage.Path)
	for _, sc := range cfg.Selected() {
		expiry, err := cal.ResolveExpiry(now, sc)
		if err != nil {
			return fmt.Errorf("%s: %w", sc.ID(), err)
		}
		fmt.Fprintf(w, "  %-12s lots=%d entry=%s-%s exit=%s target=%.0f%% stop=%.0f%% expiry=%s\n",
			sc.ID(), sc.NumLots, sc.EntryStart, sc.EntryEnd, sc.ExitTime,
			sc.TargetPct, sc.StopLossPct, expiry.Format("2006-01-02"))
	}
	return nil
}
