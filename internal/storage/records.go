package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// TradeRecord is one closed live or paper position in the ledger.
type TradeRecord struct {
	ID           string            `json:"id"`
	Strategy     string            `json:"strategy"`
	PositionID   string            `json:"position_id"`
	Day          string            `json:"day"`
	EntryTime    time.Time         `json:"entry_time"`
	ExitTime     time.Time         `json:"exit_time"`
	Expiry       string            `json:"expiry"`
	EntrySpot    float64           `json:"entry_spot"`
	Legs         []models.Leg      `json:"legs"`
	EntryPremium float64           `json:"entry_premium"`
	ExitPremium  float64           `json:"exit_premium"`
	PnL          float64           `json:"pnl"`
	ExitReason   models.ExitReason `json:"exit_reason"`
	Adjusted     bool              `json:"adjusted"`
	Ambiguous    bool              `json:"ambiguous,omitempty"`
}

// NewTradeRecord builds the ledger entry for a closed position. Premiums are net per unit
// over all legs, including any closed by an adjustment.
func NewTradeRecord(pos *models.Position) TradeRecord {
	legs := make([]models.Leg, len(pos.Legs))
	copy(legs, pos.Legs)

	var entry, exit float64
	for _, l := range legs {
		entry += l.Sign() * l.EntryPrice
		exit += l.Sign() * l.ExitPrice
	}

	return TradeRecord{
		ID:           uuid.NewString(),
		Strategy:     pos.StrategyID,
		PositionID:   pos.ID,
		Day:          pos.DayKey,
		EntryTime:    pos.EntryTime,
		ExitTime:     pos.ExitTime,
		Expiry:       pos.Expiry.Format("2006-01-02"),
		EntrySpot:    pos.EntrySpot,
		Legs:         legs,
		EntryPremium: entry,
		ExitPremium:  exit,
		PnL:          pos.RealizedPnL,
		ExitReason:   pos.ExitReason,
		Adjusted:     pos.Adjusted,
		Ambiguous:    pos.Ambiguous,
	}
}

// BacktestRun summarises one simulator run.
type BacktestRun struct {
	ID           string    `json:"id"`
	Strategy     string    `json:"strategy"`
	RanAt        time.Time `json:"ran_at"`
	Seed         int64     `json:"seed"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Trades       int       `json:"trades"`
	WinRate      float64   `json:"win_rate"`
	TotalPnL     float64   `json:"total_pnl"`
	ReturnPct    float64   `json:"return_pct"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	Sharpe       float64   `json:"sharpe"`
	FinalCapital float64   `json:"final_capital"`
}

// Statistics aggregates closed trades.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`

	equity float64
	peak   float64
}

// ComputeStatistics folds trades in ledger (chronological) order.
func ComputeStatistics(trades []TradeRecord) *Statistics {
	stats := &Statistics{}
	for _, t := range trades {
		stats.record(t.PnL)
	}
	return stats
}

func (s *Statistics) record(pnl float64) {
	s.TotalTrades++
	s.TotalPnL += pnl
	if s.TotalTrades == 1 || pnl > s.BestTrade {
		s.BestTrade = pnl
	}
	if s.TotalTrades == 1 || pnl < s.WorstTrade {
		s.WorstTrade = pnl
	}

	if pnl > 0 {
		s.WinningTrades++
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
		s.AverageWin += (pnl - s.AverageWin) / float64(s.WinningTrades)
	} else if pnl < 0 {
		s.LosingTrades++
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
		s.AverageLoss += (pnl - s.AverageLoss) / float64(s.LosingTrades)
	}
	// pnl == 0 is breakeven: counted as a trade, not as a win or a loss

	if decided := s.WinningTrades + s.LosingTrades; decided > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(decided) * 100
	}

	s.equity += pnl
	if s.equity > s.peak {
		s.peak = s.equity
	}
	if dd := s.peak - s.equity; dd > s.MaxDrawdown {
		s.MaxDrawdown = dd
	}
}

// lastN returns up to limit items from the end of s, newest first. limit <= 0 means all.
func lastN[T any](s []T, limit int) []T {
	n := len(s)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(s) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s[i])
	}
	return out
}
