package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/backtest"
	"github.com/eddiefleurent/nifty_condor/internal/config"
)

// BacktestRequest is the POST /api/backtest body. Strategy accepts the same selectors as the
// config file, including "both".
type BacktestRequest struct {
	Strategy string  `json:"strategy"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Capital  float64 `json:"capital"`
	Seed     int64   `json:"seed"`
}

// Requests expands the body into one simulator request per strategy.
func (b BacktestRequest) Requests(cfg *config.Config) ([]backtest.Request, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	from, err := time.ParseInLocation("2006-01-02", b.From, loc)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := time.ParseInLocation("2006-01-02", b.To, loc)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	capital := b.Capital
	if capital == 0 {
		capital = cfg.Capital
	}

	selected := *cfg
	switch b.Strategy {
	case "":
	case config.SelectIronCondor, config.SelectStraddle, config.SelectDailyScalp, config.SelectBoth:
		selected.Strategy = b.Strategy
	default:
		return nil, fmt.Errorf("unknown strategy %q", b.Strategy)
	}
	strategies := selected.Selected()

	reqs := make([]backtest.Request, 0, len(strategies))
	for _, sc := range strategies {
		req := backtest.Request{Strategy: sc, From: from, To: to, Capital: capital, Seed: b.Seed}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil || s.appConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "backtests are not enabled")
		return
	}
	var body BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reqs, err := body.Requests(s.appConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := s.sim.RunAll(r.Context(), reqs)
	if err != nil {
		s.logger.WithError(err).Error("Backtest failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rep := range reports {
		if err := s.storage.AppendBacktestRun(r.Context(), rep.Summary()); err != nil {
			s.logger.WithError(err).WithField("run", rep.RunID).Warn("Failed to record backtest run")
		}
	}
	s.logger.WithFields(logrus.Fields{"strategy": body.Strategy, "from": body.From, "to": body.To}).Info("Backtest completed")
	s.writeJSON(w, http.StatusOK, reports)
}
