// Package storage is the append-only trade ledger plus the open-position snapshots the
// monitor restores on start.
package storage

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// Interface defines the contract for trade and position persistence.
//
// Implementations must be safe for concurrent use: each strategy runner, the backtest
// command and the query surface call into the same store from their own goroutines.
type Interface interface {
	// Ledger
	AppendTrade(ctx context.Context, rec TradeRecord) error
	TradesForDay(ctx context.Context, strategy, day string) ([]TradeRecord, error)
	History(ctx context.Context, limit int) ([]TradeRecord, error)
	Statistics(ctx context.Context, strategy string) (*Statistics, error)

	// Backtest runs
	AppendBacktestRun(ctx context.Context, run BacktestRun) error
	BacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error)

	// Open-position snapshots, one per strategy
	SaveOpenPosition(ctx context.Context, pos *models.Position) error
	LoadOpenPosition(ctx context.Context, strategy string) (*models.Position, error)
	ClearOpenPosition(ctx context.Context, strategy string) error

	Close() error
}

// NewStorage opens the backend selected by cfg.Driver.
func NewStorage(cfg config.StorageConfig) (Interface, error) {
	switch cfg.Driver {
	case "", "json":
		return NewJSONStorage(cfg.Path)
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
