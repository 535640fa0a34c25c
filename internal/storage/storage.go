package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// JSONStorage keeps the whole ledger in one JSON document, rewritten atomically on every change.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	Trades        []TradeRecord               `json:"trades"`
	BacktestRuns  []BacktestRun               `json:"backtest_runs"`
	OpenPositions map[string]*models.Position `json:"open_positions"`
	LastUpdated   time.Time                   `json:"last_updated"`
}

// NewJSONStorage opens (or prepares to create) the ledger file at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	s := &JSONStorage{
		filepath: path,
		data:     &storageData{OpenPositions: make(map[string]*models.Position)},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	raw, err := os.ReadFile(s.filepath) // #nosec G304 -- ledger path comes from config
	if err != nil {
		return err
	}
	data := &storageData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.OpenPositions == nil {
		data.OpenPositions = make(map[string]*models.Position)
	}
	for _, pos := range data.OpenPositions {
		if pos != nil {
			pos.StateMachine = models.NewStateMachineFromState(pos.State)
		}
	}
	s.data = data
	return nil
}

// save writes to a temp file and renames it over the ledger. Callers hold s.mu.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating storage dir: %w", err)
		}
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// AppendTrade adds a closed trade and persists.
func (s *JSONStorage) AppendTrade(_ context.Context, rec TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.data.Trades = append(s.data.Trades, rec)
	if err := s.save(); err != nil {
		s.data.Trades = s.data.Trades[:len(s.data.Trades)-1]
		return fmt.Errorf("saving trade: %w", err)
	}
	return nil
}

// TradesForDay returns a strategy's trades for one exchange date in ledger order.
func (s *JSONStorage) TradesForDay(_ context.Context, strategy, day string) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TradeRecord
	for _, t := range s.data.Trades {
		if t.Strategy == strategy && t.Day == day {
			out = append(out, t)
		}
	}
	return out, nil
}

// History returns the most recent trades first.
func (s *JSONStorage) History(_ context.Context, limit int) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.data.Trades, limit), nil
}

// Statistics aggregates all trades, or one strategy's when strategy is non-empty.
func (s *JSONStorage) Statistics(_ context.Context, strategy string) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strategy == "" {
		return ComputeStatistics(s.data.Trades), nil
	}
	var trades []TradeRecord
	for _, t := range s.data.Trades {
		if t.Strategy == strategy {
			trades = append(trades, t)
		}
	}
	return ComputeStatistics(trades), nil
}

// AppendBacktestRun records a simulator run summary.
func (s *JSONStorage) AppendBacktestRun(_ context.Context, run BacktestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.data.BacktestRuns = append(s.data.BacktestRuns, run)
	if err := s.save(); err != nil {
		s.data.BacktestRuns = s.data.BacktestRuns[:len(s.data.BacktestRuns)-1]
		return fmt.Errorf("saving backtest run: %w", err)
	}
	return nil
}

// BacktestRuns returns the most recent runs first.
func (s *JSONStorage) BacktestRuns(_ context.Context, limit int) ([]BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.data.BacktestRuns, limit), nil
}

// SaveOpenPosition stores a copy of pos under its strategy id.
func (s *JSONStorage) SaveOpenPosition(_ context.Context, pos *models.Position) error {
	if pos == nil {
		return fmt.Errorf("position cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data.OpenPositions[pos.StrategyID]
	s.data.OpenPositions[pos.StrategyID] = pos.Snapshot()
	if err := s.save(); err != nil {
		if had {
			s.data.OpenPositions[pos.StrategyID] = prev
		} else {
			delete(s.data.OpenPositions, pos.StrategyID)
		}
		return fmt.Errorf("saving open position: %w", err)
	}
	return nil
}

// LoadOpenPosition returns a copy of the snapshot, or ErrNotFound.
func (s *JSONStorage) LoadOpenPosition(_ context.Context, strategy string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data.OpenPositions[strategy]
	if !ok || pos == nil {
		return nil, ErrNotFound
	}
	return pos.Snapshot(), nil
}

// ClearOpenPosition removes the snapshot; clearing a missing one is not an error.
func (s *JSONStorage) ClearOpenPosition(_ context.Context, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.OpenPositions[strategy]
	if !ok {
		return nil
	}
	delete(s.data.OpenPositions, strategy)
	if err := s.save(); err != nil {
		s.data.OpenPositions[strategy] = prev
		return fmt.Errorf("clearing open position: %w", err)
	}
	return nil
}

// Close is a no-op; every change is already on disk.
func (s *JSONStorage) Close() error {
	return nil
}
