package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// MockStorage is an in-memory Interface for tests, with injectable errors.
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	loadError     error
	trades        []TradeRecord
	runs          []BacktestRun
	openPositions map[string]*models.Position
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{openPositions: make(map[string]*models.Position)}
}

func (m *MockStorage) write() error {
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) read() error {
	m.loadCallCount++
	return m.loadError
}

func (m *MockStorage) AppendTrade(_ context.Context, rec TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.trades = append(m.trades, rec)
	return nil
}

func (m *MockStorage) TradesForDay(_ context.Context, strategy, day string) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(); err != nil {
		return nil, err
	}
	var out []TradeRecord
	for _, t := range m.trades {
		if t.Strategy == strategy && t.Day == day {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStorage) History(_ context.Context, limit int) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(); err != nil {
		return nil, err
	}
	return lastN(m.trades, limit), nil
}

func (m *MockStorage) Statistics(_ context.Context, strategy string) (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(); err != nil {
		return nil, err
	}
	var trades []TradeRecord
	for _, t := range m.trades {
		if strategy == "" || t.Strategy == strategy {
			trades = append(trades, t)
		}
	}
	return ComputeStatistics(trades), nil
}

func (m *MockStorage) AppendBacktestRun(_ context.Context, run BacktestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *MockStorage) BacktestRuns(_ context.Context, limit int) ([]BacktestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(); err != nil {
		return nil, err
	}
	return lastN(m.runs, limit), nil
}

func (m *MockStorage) SaveOpenPosition(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.openPositions[pos.StrategyID] = pos.Snapshot()
	return nil
}

func (m *MockStorage) LoadOpenPosition(_ context.Context, strategy string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(); err != nil {
		return nil, err
	}
	pos, ok := m.openPositions[strategy]
	if !ok {
		return nil, ErrNotFound
	}
	return pos.Snapshot(), nil
}

func (m *MockStorage) ClearOpenPosition(_ context.Context, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	delete(m.openPositions, strategy)
	return nil
}

func (m *MockStorage) Close() error {
	return nil
}

// Mock control methods for testing

// SetSaveError makes every write fail with err until reset with nil.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError makes every read fail with err until reset with nil.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}

// Trades returns every recorded trade in ledger order.
func (m *MockStorage) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// HasOpenPosition reports whether a snapshot is stored for strategy.
func (m *MockStorage) HasOpenPosition(strategy string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.openPositions[strategy]
	return ok
}
