// handlers.go implements the read-only HTTP endpoints. A venue failing
// mid-aggregation is not an error here: responses carry whatever the
// healthy venues produced, and only every venue failing maps to a 500.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketfuse/internal/agg"
	"marketfuse/internal/arb"
	"marketfuse/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// validCategorySlug accepts "all" plus any purely alphabetic slug. Unknown
// but well-formed categories are not an error; they just match nothing.
func validCategorySlug(slug string) bool {
	if slug == "" {
		return false
	}
	for _, r := range slug {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// handleUnifiedMarkets serves GET /api/unified-markets/{category}.
func (s *Server) handleUnifiedMarkets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	category := r.PathValue("category")
	if !validCategorySlug(category) {
		s.writeError(w, http.StatusBadRequest, "invalid_category",
			"category must be a single word, e.g. politics or all")
		return
	}

	markets, err := s.markets.GetUnifiedMarkets(r.Context(), category)
	if err != nil {
		s.writeAggError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UnifiedMarketsResponse{
		Category:     category,
		Count:        len(markets),
		Markets:      markets,
		Distribution: distribution(markets),
		Timestamp:    time.Now(),
		FetchTimeMS:  time.Since(start).Milliseconds(),
	})
}

// handleUnifiedMarket serves GET /api/unified-market/{unified_id}.
func (s *Server) handleUnifiedMarket(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("unified_id")

	market, err := s.markets.GetUnifiedMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, agg.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeAggError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UnifiedMarketResponse{
		Market:      market,
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handleMarkets serves GET /api/markets/{category}: the raw per-venue
// records for one category, before clustering.
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	category := r.PathValue("category")
	if !validCategorySlug(category) {
		s.writeError(w, http.StatusBadRequest, "invalid_category",
			"category must be a single word, e.g. politics")
		return
	}

	markets, err := s.markets.GetMarketsByCategory(r.Context(), category)
	if err != nil {
		s.writeAggError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, MarketsResponse{
		Category:    category,
		Count:       len(markets),
		Markets:     markets,
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handleMarket serves GET /api/market/{market_id}.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("market_id")

	market, err := s.markets.GetMarketByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, agg.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeAggError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, MarketResponse{
		Market:      market,
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handleArbitrage serves GET /api/arbitrage-opportunities.
func (s *Server) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	clusters := s.markets.FindArbitrageOpportunities()
	entries := make([]ArbitrageEntry, 0, len(clusters))
	for _, u := range clusters {
		entries = append(entries, ArbitrageEntry{
			UnifiedID:    u.UnifiedID,
			Question:     u.CanonicalQuestion,
			Category:     u.Category,
			Opportunity:  *u.Arbitrage,
			Instructions: arb.BuildInstructions(*u.Arbitrage),
		})
	}

	s.writeJSON(w, http.StatusOK, ArbitrageResponse{
		Count:         len(entries),
		Opportunities: entries,
		Timestamp:     time.Now(),
		FetchTimeMS:   time.Since(start).Milliseconds(),
	})
}

// handlePlatformHealth serves GET /api/platform-health.
func (s *Server) handlePlatformHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Platforms:   s.health.AllHealth(),
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handlePollingStats serves GET /api/polling-stats.
func (s *Server) handlePollingStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	stats := s.polls.Stats()
	staleness := s.polls.Staleness()
	out := make(map[types.Venue]PollingStatsEntry, len(stats))
	for v, st := range stats {
		out[v] = PollingStatsEntry{
			Total:       st.Total,
			Success:     st.Success,
			Fail:        st.Fail,
			SuccessRate: st.SuccessRate(),
			LastFetch:   st.LastFetch,
			LastError:   st.LastError,
			IsStale:     staleness[v].IsStale,
		}
	}

	s.writeJSON(w, http.StatusOK, PollingStatsResponse{
		Venues:      out,
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handleStaleness serves GET /api/staleness-status.
func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, StalenessResponse{
		Venues:      s.polls.Staleness(),
		Timestamp:   time.Now(),
		FetchTimeMS: time.Since(start).Milliseconds(),
	})
}

// handleHealth serves GET /health for liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStream serves GET /ws, upgrading to the WebSocket live stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusNotFound, "stream_disabled", "live stream is not enabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(s.hub, conn)

	// Greet the new client with the current arbitrage picture so it does
	// not have to wait for the next poll tick.
	snapshot := StreamEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Data:      s.markets.FindArbitrageOpportunities(),
	}
	if data, err := json.Marshal(snapshot); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}

// writeAggError maps aggregation failures to status codes: every venue
// down is a 500, anything else unexpected is a 500 with its own code.
func (s *Server) writeAggError(w http.ResponseWriter, err error) {
	if errors.Is(err, agg.ErrAllVenuesDown) {
		s.writeError(w, http.StatusInternalServerError, "all_venues_down", err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func distribution(markets []types.UnifiedMarket) PlatformDistribution {
	var d PlatformDistribution
	for _, u := range markets {
		_, hasA := u.Members[types.VenueA]
		_, hasB := u.Members[types.VenueB]
		switch {
		case hasA && hasB:
			d.Both++
		case hasA:
			d.VenueA++
		case hasB:
			d.VenueB++
		}
	}
	return d
}
