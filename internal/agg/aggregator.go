// Package agg orchestrates the aggregation pipeline: fan out fetches to
// every venue adapter, drive the matching engine over the combined result,
// and enrich each unified cluster with combined volume, best prices,
// liquidity score, arbitrage, and routing recommendations.
//
// Reads are cache-first. A cache miss triggers a synchronous aggregation
// pass; concurrent misses for the same category collapse into a single
// pass via singleflight.
package agg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketfuse/internal/arb"
	"marketfuse/internal/cache"
	"marketfuse/internal/config"
	"marketfuse/internal/match"
	"marketfuse/internal/venue"
	"marketfuse/pkg/types"
)

var (
	// ErrAllVenuesDown means every adapter failed in one aggregation pass.
	ErrAllVenuesDown = errors.New("all venues down")

	// ErrNotFound means no cached or freshly-aggregated cluster has the
	// requested unified id.
	ErrNotFound = errors.New("unified market not found")
)

// FetchResult is the outcome of one parallel fan-out across all venues.
type FetchResult struct {
	PlatformMarkets map[types.Venue][]types.NormalizedMarket
	Errors          map[types.Venue]error
	Total           int
	Duration        time.Duration
}

// Aggregator drives the full pipeline. It owns no mutable state beyond the
// shared cache; Enhance is pure and idempotent.
type Aggregator struct {
	adapters []venue.Adapter
	matcher  *match.Matcher
	detector *arb.Detector
	cache    *cache.Cache
	cfg      *config.Config
	logger   *slog.Logger
	group    singleflight.Group
}

// New wires an aggregator from its collaborators.
func New(adapters []venue.Adapter, c *cache.Cache, cfg *config.Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		matcher:  match.New(cfg.Matching.Threshold, c),
		detector: arb.New(arb.Config{
			MinProfitPct:     cfg.Arbitrage.MinProfitPct,
			MaxCombinedPrice: cfg.Arbitrage.MaxCombinedPrice,
		}),
		cache:  c,
		cfg:    cfg,
		logger: logger.With("component", "aggregator"),
	}
}

// FetchAllPlatforms launches one fetch per venue adapter concurrently and
// joins them all, collecting each task's value or error. Each adapter
// fetches with its own venue's page limit. A venue's failure never aborts
// the others; only all venues failing is an error.
func (a *Aggregator) FetchAllPlatforms(ctx context.Context) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{
		PlatformMarkets: make(map[types.Venue][]types.NormalizedMarket, len(a.adapters)),
		Errors:          make(map[types.Venue]error),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, ad := range a.adapters {
		wg.Add(1)
		go func(ad venue.Adapter) {
			defer wg.Done()
			markets, err := ad.FetchMarkets(ctx, a.cfg.FetchOptions(ad.Venue()))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Health is already degraded by the adapter; keep the
				// venue present with an empty slice so callers see the
				// full venue set.
				result.Errors[ad.Venue()] = err
				result.PlatformMarkets[ad.Venue()] = nil
				a.logger.Warn("venue fetch failed", "venue", ad.Venue(), "error", err)
				return
			}
			result.PlatformMarkets[ad.Venue()] = markets
			result.Total += len(markets)
		}(ad)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	if len(result.Errors) == len(a.adapters) {
		return result, fmt.Errorf("%w: %d venues failed", ErrAllVenuesDown, len(result.Errors))
	}

	a.logger.Info("fetch pass complete",
		"total", result.Total,
		"failed_venues", len(result.Errors),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Combine concatenates the per-venue sequences in stable venue order, runs
// the matching engine, and enriches every resulting cluster.
func (a *Aggregator) Combine(platformMarkets map[types.Venue][]types.NormalizedMarket) []types.UnifiedMarket {
	var flat []types.NormalizedMarket
	for _, v := range types.Venues() {
		flat = append(flat, platformMarkets[v]...)
	}

	clusters := a.matcher.Cluster(flat)
	for i := range clusters {
		clusters[i] = a.Enhance(clusters[i])
	}
	return clusters
}

// Enhance recomputes every derived field of a cluster from its members.
// Pure and idempotent: enhancing an already-enhanced cluster is a no-op.
// Used by Combine and by the poller when patching members in place.
func (a *Aggregator) Enhance(u types.UnifiedMarket) types.UnifiedMarket {
	members := u.MemberList()

	var volume float64
	for _, m := range members {
		volume += m.Volume24h
	}
	u.CombinedVolume = volume
	u.BestPrice = bestPrice(members)
	u.LiquidityScore = liquidityScore(members)

	// Keep the original detection time while the opportunity's legs are
	// unchanged; re-stamping it on every enhance would reset the clock on
	// a still-open opportunity and break idempotence.
	prev := u.Arbitrage
	u.Arbitrage = a.detector.Detect(u)
	if prev != nil && u.Arbitrage != nil &&
		u.Arbitrage.YesBuy == prev.YesBuy && u.Arbitrage.NoSell == prev.NoSell {
		u.Arbitrage.DetectedAt = prev.DetectedAt
	}

	u.Routing = make(map[types.RouteAction]*types.Recommendation, 4)
	for _, action := range types.RouteActions() {
		u.Routing[action] = recommend(members, action)
	}
	return u
}

// refresh runs one full aggregation pass and caches every view it
// produces. Concurrent callers for the same category share one pass.
func (a *Aggregator) refresh(ctx context.Context, category string) ([]types.UnifiedMarket, error) {
	key := strings.ToLower(category)
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		fetched, err := a.FetchAllPlatforms(ctx)
		if err != nil {
			return nil, err
		}

		// Populate the metadata and full regions from the raw fetch.
		byCategory := make(map[types.Category][]types.NormalizedMarket)
		var all []types.NormalizedMarket
		for _, markets := range fetched.PlatformMarkets {
			all = append(all, markets...)
			for _, m := range markets {
				byCategory[m.Category] = append(byCategory[m.Category], m)
			}
		}
		a.cache.SetMarkets(all)
		for cat, markets := range byCategory {
			a.cache.SetMetadata(cat, markets)
		}

		clusters := a.Combine(fetched.PlatformMarkets)
		a.cache.SetView("all", clusters)

		filtered := filterByCategory(clusters, key)
		if key != "all" {
			a.cache.SetView(key, filtered)
		}
		return filtered, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.UnifiedMarket), nil
}

// GetUnifiedMarkets returns the unified clusters for a category,
// cache-first. "all" (or empty) disables the filter; category comparison
// is case-insensitive. Unknown categories return an empty list.
func (a *Aggregator) GetUnifiedMarkets(ctx context.Context, category string) ([]types.UnifiedMarket, error) {
	if category == "" {
		category = "all"
	}
	if cached, ok := a.cache.GetView(category); ok {
		return cached, nil
	}
	return a.refresh(ctx, category)
}

// GetMarketsByCategory returns the normalized (pre-clustering) markets for
// one category, metadata-cache-first. Repeated reads of the same category
// count as cache hits and extend a hot category's TTL. Unknown categories
// return an empty list.
func (a *Aggregator) GetMarketsByCategory(ctx context.Context, category string) ([]types.NormalizedMarket, error) {
	cat := matchCategory(category)
	if cat == "" {
		return nil, nil
	}
	if markets, ok := a.cache.GetMetadata(cat); ok {
		return markets, nil
	}
	if _, err := a.refresh(ctx, "all"); err != nil {
		return nil, err
	}
	markets, _ := a.cache.GetMetadata(cat)
	return markets, nil
}

// GetMarketByID returns one full normalized record, refreshing its LRU
// position on the hit. A miss triggers one aggregation pass before giving
// up with ErrNotFound.
func (a *Aggregator) GetMarketByID(ctx context.Context, id string) (types.NormalizedMarket, error) {
	if m, ok := a.cache.GetMarket(id); ok {
		return m, nil
	}
	if _, err := a.refresh(ctx, "all"); err != nil {
		return types.NormalizedMarket{}, err
	}
	if m, ok := a.cache.GetMarket(id); ok {
		return m, nil
	}
	return types.NormalizedMarket{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// matchCategory maps a request slug onto the closed category set, ignoring
// case. Empty result means no such category.
func matchCategory(s string) types.Category {
	for _, c := range types.Categories() {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return ""
}

// GetUnifiedMarket looks up one cluster by unified id. On a miss it
// refreshes the "all" view once and retries before giving up.
func (a *Aggregator) GetUnifiedMarket(ctx context.Context, unifiedID string) (types.UnifiedMarket, error) {
	if u, ok := a.cache.GetUnified(unifiedID); ok {
		return u, nil
	}
	if _, err := a.refresh(ctx, "all"); err != nil {
		return types.UnifiedMarket{}, err
	}
	if u, ok := a.cache.GetUnified(unifiedID); ok {
		return u, nil
	}
	return types.UnifiedMarket{}, fmt.Errorf("%w: %s", ErrNotFound, unifiedID)
}

// FindArbitrageOpportunities enumerates cached clusters and returns those
// carrying a live opportunity, sorted by profit descending.
func (a *Aggregator) FindArbitrageOpportunities() []types.UnifiedMarket {
	var out []types.UnifiedMarket
	for _, u := range a.cache.ListUnified() {
		if u.Arbitrage != nil && u.Arbitrage.Exists {
			out = append(out, u)
		}
	}
	sortByProfit(out)
	return out
}

func sortByProfit(clusters []types.UnifiedMarket) {
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Arbitrage.ProfitPct > clusters[j].Arbitrage.ProfitPct
	})
}

func filterByCategory(clusters []types.UnifiedMarket, key string) []types.UnifiedMarket {
	if key == "all" {
		return clusters
	}
	var out []types.UnifiedMarket
	for _, u := range clusters {
		if strings.EqualFold(string(u.Category), key) {
			out = append(out, u)
		}
	}
	return out
}
