// Package dashboard serves the read-mostly query surface: strategy snapshots, the trade ledger,
// backtests, remote start/stop and session updates, and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/backtest"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/monitor"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

// Control is the runner surface the server drives. *monitor.Supervisor implements it.
type Control interface {
	Views() []monitor.View
	View(id string) (monitor.View, error)
	Start(id string) error
	Stop(ctx context.Context, id string, force bool) error
	UpdateSession(ctx context.Context, token string) error
}

type Config struct {
	Port      int
	AuthToken string
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	control   Control
	storage   storage.Interface
	sim       *backtest.Simulator
	appConfig *config.Config
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer wires the routes. sim and appConfig may be nil, which disables POST /api/backtest.
func NewServer(cfg Config, control Control, store storage.Interface, sim *backtest.Simulator, appConfig *config.Config, logger *logrus.Logger) *Server {
	if control == nil || store == nil {
		panic("dashboard.NewServer: control and storage must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		control:   control,
		storage:   store,
		sim:       sim,
		appConfig: appConfig,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/strategies", s.handleGetStrategies)
		r.Get("/strategies/{id}", s.handleGetStrategy)
		r.Post("/strategies/{id}/start", s.handleStart)
		r.Post("/strategies/{id}/stop", s.handleStop)
		r.Post("/session", s.handleSession)
		r.Get("/trades", s.handleGetTrades)
		r.Get("/stats", s.handleGetStats)
		r.Post("/backtest", s.handleBacktest)
		r.Get("/backtests", s.handleGetBacktests)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Statistics(r.Context(), "")
	if err != nil {
		s.logger.WithError(err).Error("Failed to calculate statistics")
		writeError(w, http.StatusInternalServerError, "failed to calculate statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies":  s.control.Views(),
		"statistics":  stats,
		"last_update": time.Now(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.control.Views())
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	view, err := s.control.View(chi.URLParam(r, "id"))
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.control.Start(id); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.logger.WithField("strategy", id).Info("strategy start requested")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting", "strategy": id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
	}
	if err := s.control.Stop(r.Context(), id, force); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.logger.WithFields(logrus.Fields{"strategy": id, "force": force}).Info("strategy stop requested")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "stopped", "strategy": id, "force": force})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"token\": \"...\"}")
		return
	}
	if err := s.control.UpdateSession(r.Context(), body.Token); err != nil {
		s.logger.WithError(err).Warn("Session update rejected")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "session updated"})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := s.storage.History(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load trade history")
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Statistics(r.Context(), r.URL.Query().Get("strategy"))
	if err != nil {
		s.logger.WithError(err).Error("Failed to calculate statistics")
		writeError(w, http.StatusInternalServerError, "failed to calculate statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.storage.BacktestRuns(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load backtest runs")
		writeError(w, http.StatusInternalServerError, "failed to load backtest runs")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrUnknownStrategy):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("Strategy command failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}
