// types.go defines the JSON response payloads for the HTTP API. Every
// success payload carries a timestamp and the server-side handling time.
package api

import (
	"time"

	"marketfuse/internal/arb"
	"marketfuse/internal/poller"
	"marketfuse/pkg/types"
)

// PlatformDistribution counts clusters by venue membership.
type PlatformDistribution struct {
	VenueA int `json:"venue_a"`
	VenueB int `json:"venue_b"`
	Both   int `json:"both"`
}

// UnifiedMarketsResponse is the payload for GET /api/unified-markets/{category}.
type UnifiedMarketsResponse struct {
	Category     string               `json:"category"`
	Count        int                  `json:"count"`
	Markets      []types.UnifiedMarket `json:"markets"`
	Distribution PlatformDistribution `json:"platform_distribution"`
	Timestamp    time.Time            `json:"timestamp"`
	FetchTimeMS  int64                `json:"fetch_time_ms"`
}

// UnifiedMarketResponse is the payload for GET /api/unified-market/{unified_id}.
type UnifiedMarketResponse struct {
	Market      types.UnifiedMarket `json:"market"`
	Timestamp   time.Time           `json:"timestamp"`
	FetchTimeMS int64               `json:"fetch_time_ms"`
}

// MarketsResponse is the payload for GET /api/markets/{category}: the
// per-venue normalized records before clustering.
type MarketsResponse struct {
	Category    string                   `json:"category"`
	Count       int                      `json:"count"`
	Markets     []types.NormalizedMarket `json:"markets"`
	Timestamp   time.Time                `json:"timestamp"`
	FetchTimeMS int64                    `json:"fetch_time_ms"`
}

// MarketResponse is the payload for GET /api/market/{market_id}.
type MarketResponse struct {
	Market      types.NormalizedMarket `json:"market"`
	Timestamp   time.Time              `json:"timestamp"`
	FetchTimeMS int64                  `json:"fetch_time_ms"`
}

// ArbitrageEntry pairs one opportunity with its execution plan.
type ArbitrageEntry struct {
	UnifiedID    string                     `json:"unified_id"`
	Question     string                     `json:"question"`
	Category     types.Category             `json:"category"`
	Opportunity  types.ArbitrageOpportunity `json:"opportunity"`
	Instructions arb.Instructions           `json:"instructions"`
}

// ArbitrageResponse is the payload for GET /api/arbitrage-opportunities,
// sorted by profit descending.
type ArbitrageResponse struct {
	Count         int              `json:"count"`
	Opportunities []ArbitrageEntry `json:"opportunities"`
	Timestamp     time.Time        `json:"timestamp"`
	FetchTimeMS   int64            `json:"fetch_time_ms"`
}

// HealthResponse is the payload for GET /api/platform-health.
type HealthResponse struct {
	Platforms   map[types.Venue]types.VenueHealth `json:"platforms"`
	Timestamp   time.Time                         `json:"timestamp"`
	FetchTimeMS int64                             `json:"fetch_time_ms"`
}

// PollingStatsEntry is one venue's polling counters plus staleness.
type PollingStatsEntry struct {
	Total       int64     `json:"total"`
	Success     int64     `json:"success"`
	Fail        int64     `json:"fail"`
	SuccessRate float64   `json:"success_rate"`
	LastFetch   time.Time `json:"last_fetch"`
	LastError   string    `json:"last_error,omitempty"`
	IsStale     bool      `json:"is_stale"`
}

// PollingStatsResponse is the payload for GET /api/polling-stats.
type PollingStatsResponse struct {
	Venues      map[types.Venue]PollingStatsEntry `json:"venues"`
	Timestamp   time.Time                         `json:"timestamp"`
	FetchTimeMS int64                             `json:"fetch_time_ms"`
}

// StalenessResponse is the payload for GET /api/staleness-status.
type StalenessResponse struct {
	Venues      map[types.Venue]poller.StalenessInfo `json:"venues"`
	Timestamp   time.Time                            `json:"timestamp"`
	FetchTimeMS int64                                `json:"fetch_time_ms"`
}

// ErrorResponse is the payload for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
