package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
)

// Report aggregates one run. Money figures are in rupees after charges.
type Report struct {
	RunID          string                     `json:"run_id"`
	Strategy       string                     `json:"strategy"`
	Seed           int64                      `json:"seed"`
	From           string                     `json:"from"`
	To             string                     `json:"to"`
	RanAt          time.Time                  `json:"ran_at"`
	InitialCapital float64                    `json:"initial_capital"`
	FinalCapital   float64                    `json:"final_capital"`
	Trades         []models.BacktestTrade     `json:"trades"`
	SkippedDays    map[strategy.Rejection]int `json:"skipped_days"`
	TotalTrades    int                        `json:"total_trades"`
	Wins           int                        `json:"wins"`
	Losses         int                        `json:"losses"`
	WinRate        float64                    `json:"win_rate"`
	TotalPnL       float64                    `json:"total_pnl"`
	ReturnPct      float64                    `json:"return_pct"`
	MaxDrawdown    float64                    `json:"max_drawdown"`
	MaxDrawdownPct float64                    `json:"max_drawdown_pct"`
	ProfitFactor   float64                    `json:"profit_factor"`
	Sharpe         float64                    `json:"sharpe"`
	AvgProfit      float64                    `json:"avg_profit"`
	AvgLoss        float64                    `json:"avg_loss"`
	BestTrade      float64                    `json:"best_trade"`
	WorstTrade     float64                    `json:"worst_trade"`
	ExitReasons    map[models.ExitReason]int  `json:"exit_reasons"`
	AvgExitTime    string                     `json:"avg_exit_time"`
	EquityCurve    []float64                  `json:"equity_curve"`
}

func newReport(req Request, seed int64) *Report {
	return &Report{
		RunID:          newRunID(),
		Strategy:       req.Strategy.ID(),
		Seed:           seed,
		From:           models.DayKey(req.From),
		To:             models.DayKey(req.To),
		RanAt:          time.Now(),
		InitialCapital: req.Capital,
		FinalCapital:   req.Capital,
		Trades:         []models.BacktestTrade{},
		SkippedDays:    make(map[strategy.Rejection]int),
		ExitReasons:    make(map[models.ExitReason]int),
		EquityCurve:    []float64{req.Capital},
	}
}

func (r *Report) skip(reason strategy.Rejection) {
	r.SkippedDays[reason]++
}

func (r *Report) add(t models.BacktestTrade) {
	r.Trades = append(r.Trades, t)
	r.FinalCapital += t.PnL
	r.EquityCurve = append(r.EquityCurve, r.FinalCapital)
	r.ExitReasons[t.ExitReason]++
}

// finish computes the summary figures from Trades and EquityCurve.
func (r *Report) finish() {
	r.TotalTrades = len(r.Trades)
	if r.TotalTrades == 0 {
		return
	}

	var grossWin, grossLoss, sum, sumSq float64
	var exitMinutes int
	r.BestTrade, r.WorstTrade = math.Inf(-1), math.Inf(1)
	for _, t := range r.Trades {
		if t.Win() {
			r.Wins++
			grossWin += t.PnL
		} else {
			r.Losses++
			grossLoss -= t.PnL
		}
		sum += t.PnL
		sumSq += t.PnL * t.PnL
		r.BestTrade = math.Max(r.BestTrade, t.PnL)
		r.WorstTrade = math.Min(r.WorstTrade, t.PnL)
		exitMinutes += t.ExitTime.Hour()*60 + t.ExitTime.Minute()
	}

	n := float64(r.TotalTrades)
	r.TotalPnL = sum
	r.WinRate = float64(r.Wins) / n * 100
	r.ReturnPct = (r.FinalCapital - r.InitialCapital) / r.InitialCapital * 100
	if r.Wins > 0 {
		r.AvgProfit = grossWin / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = -grossLoss / float64(r.Losses)
	}
	// no losing trade leaves the factor undefined; it is reported as zero
	if grossLoss > 0 {
		r.ProfitFactor = grossWin / grossLoss
	}

	mean := sum / n
	if r.TotalTrades > 1 {
		variance := (sumSq - n*mean*mean) / (n - 1)
		if variance > 0 {
			r.Sharpe = mean / math.Sqrt(variance) * math.Sqrt(252)
		}
	}

	peak := r.EquityCurve[0]
	for _, equity := range r.EquityCurve {
		peak = math.Max(peak, equity)
		if dd := peak - equity; dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
			r.MaxDrawdownPct = dd / peak * 100
		}
	}

	avg := exitMinutes / r.TotalTrades
	r.AvgExitTime = fmt.Sprintf("%02d:%02d", avg/60, avg%60)
}

// Summary is the ledger entry for this run.
func (r *Report) Summary() storage.BacktestRun {
	return storage.BacktestRun{
		ID:           r.RunID,
		Strategy:     r.Strategy,
		RanAt:        r.RanAt,
		Seed:         r.Seed,
		From:         r.From,
		To:           r.To,
		Trades:       r.TotalTrades,
		WinRate:      r.WinRate,
		TotalPnL:     r.TotalPnL,
		ReturnPct:    r.ReturnPct,
		MaxDrawdown:  r.MaxDrawdown,
		Sharpe:       r.Sharpe,
		FinalCapital: r.FinalCapital,
	}
}
