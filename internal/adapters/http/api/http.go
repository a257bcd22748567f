// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/internal/domain/types"
	"github.com/okian/lootbox/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SpinBox(ctx context.Context, req service.SpinRequest) (model.SpinOutcome, error)
	Boxes() []model.LootBox
	Balance(ctx context.Context, customerID string) (int64, error)
	LedgerEntry(ctx context.Context, spinID string) (model.LedgerEntry, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	spinHandler    *SpinHandler
	boxesHandler   *BoxesHandler
	balanceHandler *BalanceHandler
	ledgerHandler  *LedgerHandler
	cors           CORSConfig
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCORS sets the cross-origin policy applied to every route.
func WithCORS(cfg CORSConfig) ServerOption {
	return func(s *Server) {
		s.cors = cfg
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	log := logger.Get().Named("http")
	s := &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		spinHandler:    NewSpinHandler(deps, log),
		boxesHandler:   NewBoxesHandler(deps),
		balanceHandler: NewBalanceHandler(deps, log),
		ledgerHandler:  NewLedgerHandler(deps, log),
		cors:           DefaultCORSConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", MetricsMiddleware(handlePing, "ping"))
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /spin", MetricsMiddleware(s.spinHandler.HandleSpin, "spin"))
	mux.HandleFunc("GET /boxes", MetricsMiddleware(s.boxesHandler.HandleBoxes, "boxes"))
	mux.HandleFunc("GET /balance/{customerId}", MetricsMiddleware(s.balanceHandler.HandleBalance, "balance"))
	mux.HandleFunc("GET /ledger/{spinId}", MetricsMiddleware(s.ledgerHandler.HandleLedger, "ledger"))
}

// Handler wraps mux with the server's CORS policy.
func (s *Server) Handler(mux http.Handler) http.Handler {
	return CORSMiddleware(s.cors, mux)
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// writeInternal answers 500 without echoing err and logs it instead.
func writeInternal(ctx context.Context, w http.ResponseWriter, log logger.Logger, err error) {
	log.Error(ctx, "request failed", logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
