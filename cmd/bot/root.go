package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/logging"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

// Version information
const Version = "0.3.0"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "bot",
		Short:         "NIFTY weekly options automation",
		Long:          "Runs iron condor and straddle strategies on NIFTY index options and backtests them on simulated price paths.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newBacktestCmd(opts),
		newValidateCmd(opts),
		newPositionsCmd(opts),
	)
	return rootCmd
}

// app holds what every command needs once the config is loaded.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	calendar *calendar.Calendar
	store    storage.Interface
	closers  []io.Closer
}

func newApp(configPath string, console io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, console)
}

func newAppFromConfig(cfg *config.Config, console io.Writer) (*app, error) {
	logger, logCloser, err := logging.New(cfg.Environment, console)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.calendar, err = calendar.New(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building trading calendar: %w", err)
	}

	a.store, err = storage.NewStorage(cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store)
	return a, nil
}

// Close releases storage and the log file, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}
