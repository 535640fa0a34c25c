package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// SQLiteStorage keeps the ledger in a SQLite database in WAL mode.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		strategy TEXT NOT NULL,
		position_id TEXT NOT NULL,
		day TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_time TEXT NOT NULL,
		expiry TEXT NOT NULL,
		entry_spot REAL NOT NULL,
		legs TEXT NOT NULL,
		entry_premium REAL NOT NULL,
		exit_premium REAL NOT NULL,
		pnl REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		adjusted INTEGER NOT NULL DEFAULT 0,
		ambiguous INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy_day ON trades(strategy, day);

	CREATE TABLE IF NOT EXISTS backtest_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		strategy TEXT NOT NULL,
		ran_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		from_day TEXT NOT NULL,
		to_day TEXT NOT NULL,
		trades INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		total_pnl REAL NOT NULL,
		return_pct REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		sharpe REAL NOT NULL,
		final_capital REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS open_positions (
		strategy TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AppendTrade inserts a closed trade.
func (s *SQLiteStorage) AppendTrade(ctx context.Context, rec TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	legs, err := json.Marshal(rec.Legs)
	if err != nil {
		return fmt.Errorf("encoding legs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (id, strategy, position_id, day, entry_time, exit_time, expiry, entry_spot,
			legs, entry_premium, exit_premium, pnl, exit_reason, adjusted, ambiguous)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Strategy, rec.PositionID, rec.Day, formatTime(rec.EntryTime), formatTime(rec.ExitTime),
		rec.Expiry, rec.EntrySpot, string(legs), rec.EntryPremium, rec.ExitPremium, rec.PnL,
		string(rec.ExitReason), boolInt(rec.Adjusted), boolInt(rec.Ambiguous))
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

const tradeColumns = `id, strategy, position_id, day, entry_time, exit_time, expiry, entry_spot,
	legs, entry_premium, exit_premium, pnl, exit_reason, adjusted, ambiguous`

func (s *SQLiteStorage) queryTrades(ctx context.Context, query string, args ...interface{}) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			rec                 TradeRecord
			entryTime, exitTime string
			legs, reason        string
			adjusted, ambiguous int
		)
		if err := rows.Scan(&rec.ID, &rec.Strategy, &rec.PositionID, &rec.Day, &entryTime, &exitTime,
			&rec.Expiry, &rec.EntrySpot, &legs, &rec.EntryPremium, &rec.ExitPremium, &rec.PnL,
			&reason, &adjusted, &ambiguous); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if rec.EntryTime, err = parseTime(entryTime); err != nil {
			return nil, fmt.Errorf("trade %s entry_time: %w", rec.ID, err)
		}
		if rec.ExitTime, err = parseTime(exitTime); err != nil {
			return nil, fmt.Errorf("trade %s exit_time: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(legs), &rec.Legs); err != nil {
			return nil, fmt.Errorf("trade %s legs: %w", rec.ID, err)
		}
		rec.ExitReason = models.ExitReason(reason)
		rec.Adjusted = adjusted != 0
		rec.Ambiguous = ambiguous != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TradesForDay returns a strategy's trades for one exchange date in ledger order.
func (s *SQLiteStorage) TradesForDay(ctx context.Context, strategy, day string) ([]TradeRecord, error) {
	return s.queryTrades(ctx, "SELECT "+tradeColumns+" FROM trades WHERE strategy = ? AND day = ? ORDER BY seq",
		strategy, day)
}

// History returns the most recent trades first.
func (s *SQLiteStorage) History(ctx context.Context, limit int) ([]TradeRecord, error) {
	query := "SELECT " + tradeColumns + " FROM trades ORDER BY seq DESC"
	if limit > 0 {
		return s.queryTrades(ctx, query+" LIMIT ?", limit)
	}
	return s.queryTrades(ctx, query)
}

// Statistics aggregates all trades, or one strategy's when strategy is non-empty.
func (s *SQLiteStorage) Statistics(ctx context.Context, strategy string) (*Statistics, error) {
	query := "SELECT " + tradeColumns + " FROM trades"
	var args []interface{}
	if strategy != "" {
		query += " WHERE strategy = ?"
		args = append(args, strategy)
	}
	trades, err := s.queryTrades(ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(trades), nil
}

// AppendBacktestRun records a simulator run summary.
func (s *SQLiteStorage) AppendBacktestRun(ctx context.Context, run BacktestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy, ran_at, seed, from_day, to_day, trades, win_rate,
			total_pnl, return_pct, max_drawdown, sharpe, final_capital)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Strategy, formatTime(run.RanAt), run.Seed, run.From, run.To, run.Trades, run.WinRate,
		run.TotalPnL, run.ReturnPct, run.MaxDrawdown, run.Sharpe, run.FinalCapital)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}
	return nil
}

// BacktestRuns returns the most recent runs first.
func (s *SQLiteStorage) BacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	query := `SELECT id, strategy, ran_at, seed, from_day, to_day, trades, win_rate, total_pnl,
		return_pct, max_drawdown, sharpe, final_capital FROM backtest_runs ORDER BY seq DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		var run BacktestRun
		var ranAt string
		if err := rows.Scan(&run.ID, &run.Strategy, &ranAt, &run.Seed, &run.From, &run.To, &run.Trades,
			&run.WinRate, &run.TotalPnL, &run.ReturnPct, &run.MaxDrawdown, &run.Sharpe, &run.FinalCapital); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		if run.RanAt, err = parseTime(ranAt); err != nil {
			return nil, fmt.Errorf("backtest run %s ran_at: %w", run.ID, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveOpenPosition upserts the snapshot for the position's strategy.
func (s *SQLiteStorage) SaveOpenPosition(ctx context.Context, pos *models.Position) error {
	if pos == nil {
		return fmt.Errorf("position cannot be nil")
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encoding position: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO open_positions (strategy, data, updated_at) VALUES (?, ?, ?)
	`, pos.StrategyID, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save open position: %w", err)
	}
	return nil
}

// LoadOpenPosition returns the snapshot, or ErrNotFound.
func (s *SQLiteStorage) LoadOpenPosition(ctx context.Context, strategy string) (*models.Position, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM open_positions WHERE strategy = ?", strategy).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open position: %w", err)
	}

	pos := &models.Position{}
	if err := json.Unmarshal([]byte(data), pos); err != nil {
		return nil, fmt.Errorf("decoding open position: %w", err)
	}
	return pos, nil
}

// ClearOpenPosition removes the snapshot; clearing a missing one is not an error.
func (s *SQLiteStorage) ClearOpenPosition(ctx context.Context, strategy string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM open_positions WHERE strategy = ?", strategy); err != nil {
		return fmt.Errorf("failed to clear open position: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
