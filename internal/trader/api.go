package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dex-trade-bot-go/internal/metrics"
	"dex-trade-bot-go/internal/models"
	"dex-trade-bot-go/internal/oracle"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reader is the read side of the ledger. *ledger.Ledger satisfies it.
type Reader interface {
	Trades() ([]models.TradeRecord, error)
	Signals() ([]models.SignalRecord, error)
	Profits() ([]models.ProfitRecord, error)
}

// FeedReporter describes the price feeds in use. *oracle.Oracle and
// *oracle.BreakerFeed satisfy it.
type FeedReporter interface {
	FeedStatuses() []oracle.FeedStatus
}

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	store  Reader
	feeds  FeedReporter
	logger *zap.Logger
	now    func() time.Time
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, store Reader, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		store:  store,
		logger: logger.Named("api-server"),
		now:    time.Now,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// WithFeeds adds feed states to /status.
func (s *APIServer) WithFeeds(r FeedReporter) *APIServer {
	s.feeds = r
	return s
}

// Handler returns the routed mux.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("POST /stop", s.stopHandler)
	mux.HandleFunc("POST /export", s.exportHandler)
	mux.HandleFunc("POST /export/cadence", s.cadenceHandler)
	mux.HandleFunc("GET /api/trades", s.tradesHandler)
	mux.HandleFunc("GET /api/signals", s.signalsHandler)
	mux.HandleFunc("GET /api/profits", s.profitsHandler)
	mux.HandleFunc("GET /api/statistics", s.statisticsHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	UUID        string              `json:"uuid"`
	Name        string              `json:"name"`
	Strategy    string              `json:"strategy"`
	Mode        string              `json:"mode"`
	State       string              `json:"state"`
	Cycles      uint64              `json:"cycles"`
	ExportEvery int                 `json:"export_every"`
	StartTime   string              `json:"start_time,omitempty"`
	Uptime      string              `json:"uptime,omitempty"`
	Feeds       []oracle.FeedStatus `json:"feeds,omitempty"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		UUID:        s.engine.UUID,
		Name:        s.engine.Name,
		Strategy:    s.engine.StrategyName(),
		Mode:        string(s.engine.Mode()),
		State:       s.engine.State().String(),
		Cycles:      s.engine.Cycles(),
		ExportEvery: s.engine.ExportEvery(),
	}
	if started := s.engine.StartTime(); !started.IsZero() {
		status.StartTime = started.Format(time.RFC3339)
		status.Uptime = s.now().Sub(started).Round(time.Second).String()
	}
	if s.feeds != nil {
		status.Feeds = s.feeds.FeedStatuses()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Stop requested via API")
	s.engine.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"state": s.engine.State().String()})
}

func (s *APIServer) exportHandler(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.ExportNow()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"suffix": exp.Suffix, "files": exp.Files})
}

func (s *APIServer) cadenceHandler(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("every"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("every must be an integer: %w", err))
		return
	}
	if err := s.engine.SetExportEvery(n); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"export_every": s.engine.ExportEvery()})
}

func (s *APIServer) tradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades()
	if err != nil {
		s.logger.Error("Failed to get trades from ledger", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *APIServer) signalsHandler(w http.ResponseWriter, r *http.Request) {
	signals, err := s.store.Signals()
	if err != nil {
		s.logger.Error("Failed to get signals from ledger", zap.Error(err))
		http.Error(w, "Failed to get signals", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, signals)
}

func (s *APIServer) profitsHandler(w http.ResponseWriter, r *http.Request) {
	profits, err := s.store.Profits()
	if err != nil {
		s.logger.Error("Failed to get profits from ledger", zap.Error(err))
		http.Error(w, "Failed to get profits", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, profits)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades          int64           `json:"total_trades"`
	SuccessfulTrades     int64           `json:"successful_trades"`
	SuccessRate          float64         `json:"success_rate"`
	TotalEstimatedProfit decimal.Decimal `json:"total_estimated_profit"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

func (s *APIServer) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades()
	if err != nil {
		s.logger.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	profits, err := s.store.Profits()
	if err != nil {
		s.logger.Error("Failed to get profits for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := s.now().Add(-24 * time.Hour)
	var stats24h, statsAllTime StatsDetail

	for _, trade := range trades {
		statsAllTime.TotalTrades++
		if trade.Success {
			statsAllTime.SuccessfulTrades++
		}
		if trade.CreatedAt.After(since24h) {
			stats24h.TotalTrades++
			if trade.Success {
				stats24h.SuccessfulTrades++
			}
		}
	}
	for _, p := range profits {
		statsAllTime.TotalEstimatedProfit = statsAllTime.TotalEstimatedProfit.Add(p.EstimatedProfit)
		if p.CreatedAt.After(since24h) {
			stats24h.TotalEstimatedProfit = stats24h.TotalEstimatedProfit.Add(p.EstimatedProfit)
		}
	}

	if statsAllTime.TotalTrades > 0 {
		statsAllTime.SuccessRate = float64(statsAllTime.SuccessfulTrades) / float64(statsAllTime.TotalTrades)
	}
	if stats24h.TotalTrades > 0 {
		stats24h.SuccessRate = float64(stats24h.SuccessfulTrades) / float64(stats24h.TotalTrades)
	}

	s.writeJSON(w, http.StatusOK, StatisticsResponse{Since24h: stats24h, AllTime: statsAllTime})
}
