// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the aggregator — venue tags,
// normalized market records, unified clusters, arbitrage opportunities, and
// routing recommendations. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the prediction-market providers we ingest from.
// The two current venues are the only valid tags; adapters are pluggable
// by adding variants.
type Venue string

const (
	VenueA Venue = "venue_a" // Gamma-shaped REST API, ~100 req/min
	VenueB Venue = "venue_b" // Kalshi-shaped REST API, ~50 req/min

	// VenueNone marks a routing recommendation that could not pick a venue.
	VenueNone Venue = "none"
)

// Venues lists the ingestion venues in stable order.
func Venues() []Venue { return []Venue{VenueA, VenueB} }

// Category is the coarse topic tag assigned at normalization, from a
// closed set. Venue metadata wins; keyword match on the question is the
// fallback; Other is the catch-all.
type Category string

const (
	CategoryPolitics    Category = "Politics"
	CategoryCrypto      Category = "Crypto"
	CategorySports      Category = "Sports"
	CategoryEconomics   Category = "Economics"
	CategoryWorld       Category = "World"
	CategoryCulture     Category = "Culture"
	CategoryGeopolitics Category = "Geopolitics"
	CategoryOther       Category = "Other"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategoryPolitics, CategoryCrypto, CategorySports, CategoryEconomics,
		CategoryWorld, CategoryCulture, CategoryGeopolitics, CategoryOther,
	}
}

// ValidCategory reports whether s names a known category, ignoring case.
func ValidCategory(s string) bool {
	for _, c := range Categories() {
		if strings.EqualFold(string(c), s) {
			return true
		}
	}
	return false
}

// MarketStatus filters fetches by market lifecycle state.
type MarketStatus string

const (
	StatusOpen   MarketStatus = "open"
	StatusClosed MarketStatus = "closed"
	StatusAny    MarketStatus = "any"
)

// HealthStatus is the adapter health state for one venue.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// RouteAction names one of the four per-cluster routing recommendations.
type RouteAction string

const (
	RouteBuyYes  RouteAction = "buy_yes"
	RouteSellYes RouteAction = "sell_yes"
	RouteBuyNo   RouteAction = "buy_no"
	RouteSellNo  RouteAction = "sell_no"
)

// RouteActions lists the four routed actions in stable order.
func RouteActions() []RouteAction {
	return []RouteAction{RouteBuyYes, RouteSellYes, RouteBuyNo, RouteSellNo}
}

// ————————————————————————————————————————————————————————————————————————
// Normalized markets
// ————————————————————————————————————————————————————————————————————————

// Outcome is one resolvable answer to a market's question, carrying a
// probability-like price in [0,1]. Binary markets have exactly two outcomes
// named Yes and No; categorical markets have three or more.
type Outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"` // always clamped to [0,1] at normalization
	Rank  int     `json:"rank"`
	Image string  `json:"image,omitempty"`
}

// NormalizedMarket is one venue's view of a market after normalization.
// IDs are prefixed by the owning venue tag and stable across polls.
type NormalizedMarket struct {
	ID         string     `json:"id"`
	Venue      Venue      `json:"venue"`
	Question   string     `json:"question"`
	Outcomes   []Outcome  `json:"outcomes"`
	Volume24h  float64    `json:"volume_24h"`
	Liquidity  float64    `json:"liquidity"`
	Spread     float64    `json:"spread"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Category   Category   `json:"category"`
	Closed     bool       `json:"closed"`
	Resolved   bool       `json:"resolved"`
	LastUpdate time.Time  `json:"last_update"`
}

// Outcome returns the outcome with the given name, matching
// case-insensitively (venues disagree on Yes/yes/YES).
func (m NormalizedMarket) Outcome(name string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return Outcome{}, false
}

// IsBinary reports whether the market has exactly a Yes and a No outcome.
func (m NormalizedMarket) IsBinary() bool {
	if len(m.Outcomes) != 2 {
		return false
	}
	_, yes := m.Outcome("Yes")
	_, no := m.Outcome("No")
	return yes && no
}

// ————————————————————————————————————————————————————————————————————————
// Unified markets
// ————————————————————————————————————————————————————————————————————————

// PricePoint is a price attributed to the venue offering it.
type PricePoint struct {
	Venue Venue   `json:"venue"`
	Price float64 `json:"price"`
}

// BestPrice reports, per side, the highest price any member venue shows.
// This is the best *selling* price on each side — distinct from the lowest
// buying price the arbitrage detector uses.
type BestPrice struct {
	Yes PricePoint `json:"yes"`
	No  PricePoint `json:"no"`
}

// ArbitrageOpportunity is a riskless cross-venue pair: buy Yes cheap on one
// venue, buy the opposite side on another, combined cost under the cap.
type ArbitrageOpportunity struct {
	Exists     bool       `json:"exists"`
	ProfitPct  float64    `json:"profit_pct"`
	TotalCost  float64    `json:"total_cost"`
	YesBuy     PricePoint `json:"yes_buy"`
	NoSell     PricePoint `json:"no_sell"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Recommendation tells a consumer which venue to use for one side/outcome.
// Venue is VenueNone when no member clears the liquidity floor, with
// Reason explaining why.
type Recommendation struct {
	Venue  Venue   `json:"platform"`
	Price  float64 `json:"price,omitempty"`
	Score  float64 `json:"score,omitempty"`
	Reason string  `json:"reason"`
}

// UnifiedMarket is a cluster of markets from distinct venues deemed to
// refer to the same real-world question, at most one member per venue.
// Created on first match, mutated in place by the poller, evicted by the
// cache. Derived fields are recomputed whenever a member is swapped.
type UnifiedMarket struct {
	UnifiedID         string                          `json:"unified_id"`
	CanonicalQuestion string                          `json:"canonical_question"`
	Category          Category                        `json:"category"`
	ResolutionDate    *time.Time                      `json:"resolution_date,omitempty"`
	Members           map[Venue]NormalizedMarket      `json:"members"`
	MatchConfidence   float64                         `json:"match_confidence"`
	CombinedVolume    float64                         `json:"combined_volume"`
	BestPrice         BestPrice                       `json:"best_price"`
	LiquidityScore    int                             `json:"liquidity_score"`
	Arbitrage         *ArbitrageOpportunity           `json:"arbitrage,omitempty"`
	Routing           map[RouteAction]*Recommendation `json:"routing_recommendations"`
	CriteriaMismatch  bool                            `json:"criteria_mismatch"`
}

// MemberList returns the members ordered by venue tag, for deterministic
// iteration.
func (u UnifiedMarket) MemberList() []NormalizedMarket {
	venues := make([]string, 0, len(u.Members))
	for v := range u.Members {
		venues = append(venues, string(v))
	}
	sort.Strings(venues)
	out := make([]NormalizedMarket, 0, len(venues))
	for _, v := range venues {
		out = append(out, u.Members[Venue(v)])
	}
	return out
}

// UnifiedID derives the deterministic cluster id from its member ids:
// first 16 hex chars of SHA-256 over the sorted ids joined with "|".
// Stable under member reorder; changes whenever membership changes.
func UnifiedID(memberIDs []string) string {
	ids := make([]string, len(memberIDs))
	copy(ids, memberIDs)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "|")))
	return "u_" + hex.EncodeToString(sum[:8])
}

// ————————————————————————————————————————————————————————————————————————
// Venue operations
// ————————————————————————————————————————————————————————————————————————

// FetchOptions tunes one adapter fetch.
type FetchOptions struct {
	Status   MarketStatus // open | closed | any (zero value treated as open)
	Limit    int          // page size, 0 = per-venue default
	MaxPages int          // paging cutoff, 0 = adapter default
}

// VenueHealth is the adapter health record for one venue. Degraded persists
// until a subsequent success.
type VenueHealth struct {
	Status      HealthStatus `json:"status"`
	LastAttempt time.Time    `json:"last_attempt"`
	LastSuccess time.Time    `json:"last_success"`
	LastError   string       `json:"last_error,omitempty"`
}

// PollStats accumulates per-venue polling counters.
type PollStats struct {
	Total     int64     `json:"total"`
	Success   int64     `json:"success"`
	Fail      int64     `json:"fail"`
	LastFetch time.Time `json:"last_fetch"`
	LastError string    `json:"last_error,omitempty"`
}

// SuccessRate returns the fraction of polls that succeeded, 0 if none ran.
func (p PollStats) SuccessRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Success) / float64(p.Total)
}
