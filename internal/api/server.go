// Package api exposes the aggregator over a read-only HTTP surface plus a
// WebSocket live stream. All endpoints are GET; CORS is wide open since
// the API serves public market data.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"marketfuse/internal/poller"
	"marketfuse/pkg/types"
)

// MarketProvider is the server's view of the aggregator.
type MarketProvider interface {
	GetUnifiedMarkets(ctx context.Context, category string) ([]types.UnifiedMarket, error)
	GetUnifiedMarket(ctx context.Context, unifiedID string) (types.UnifiedMarket, error)
	GetMarketsByCategory(ctx context.Context, category string) ([]types.NormalizedMarket, error)
	GetMarketByID(ctx context.Context, id string) (types.NormalizedMarket, error)
	FindArbitrageOpportunities() []types.UnifiedMarket
}

// HealthProvider reports per-venue adapter health. Satisfied by the cache.
type HealthProvider interface {
	AllHealth() map[types.Venue]types.VenueHealth
}

// PollProvider reports polling counters and staleness. Satisfied by the
// poller.
type PollProvider interface {
	Stats() map[types.Venue]types.PollStats
	Staleness() map[types.Venue]poller.StalenessInfo
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	markets    MarketProvider
	health     HealthProvider
	polls      PollProvider
	hub        *Hub
	logger     *slog.Logger
}

// NewServer wires the API server. hub may be nil to disable the stream.
func NewServer(port int, markets MarketProvider, health HealthProvider, polls PollProvider, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		markets: markets,
		health:  health,
		polls:   polls,
		hub:     hub,
		logger:  logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/unified-markets/{category}", s.handleUnifiedMarkets)
	mux.HandleFunc("GET /api/unified-market/{unified_id}", s.handleUnifiedMarket)
	mux.HandleFunc("GET /api/markets/{category}", s.handleMarkets)
	mux.HandleFunc("GET /api/market/{market_id}", s.handleMarket)
	mux.HandleFunc("GET /api/arbitrage-opportunities", s.handleArbitrage)
	mux.HandleFunc("GET /api/platform-health", s.handlePlatformHealth)
	mux.HandleFunc("GET /api/polling-stats", s.handlePollingStats)
	mux.HandleFunc("GET /api/staleness-status", s.handleStaleness)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleStream)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server until it errors or is stopped. Blocks.
func (s *Server) Start() error {
	if s.hub != nil {
		go s.hub.Run()
	}
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("api server stopping")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware opens the API to any origin. Read-only data, no
// credentials, so a wildcard is fine.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
