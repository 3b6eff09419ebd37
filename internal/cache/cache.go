// Package cache implements the typed in-memory store shared by every
// component. Four regions with independent TTLs and locks:
//
//   - metadata:   category → normalized markets (TTL 10 min)
//   - full:       market id → normalized market (TTL 5 min, LRU-capped)
//   - unified:    unified id → unified cluster, plus per-category views
//     (TTL 5 min)
//   - confidence: unordered id pair → match confidence (TTL 10 min)
//
// Venue health and per-category access tracking also live here. A cleanup
// pass runs on a fixed cadence: purge expired entries, enforce the full
// region's size cap, evict metadata for categories idle too long. All
// mutations happen under a per-region lock so readers never observe torn
// structures. Expired entries read as misses even before cleanup removes
// them.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"marketfuse/internal/config"
	"marketfuse/pkg/types"
)

const (
	// categoryIdleTimeout marks a category inactive and evicts its
	// metadata after this long without access.
	categoryIdleTimeout = 15 * time.Minute

	// hotCategoryHits is the hit count after which a category's metadata
	// TTL is extended once.
	hotCategoryHits = 5

	// hotCategoryExtension is the one-time TTL bonus for hot categories.
	hotCategoryExtension = 5 * time.Minute

	// evictFraction of the full region is dropped (oldest access first)
	// when the cap is exceeded.
	evictFraction = 0.20

	// staleSuccessWindow downgrades a healthy venue whose last success is
	// older than this.
	staleSuccessWindow = 60 * time.Second
)

type metadataEntry struct {
	markets  []types.NormalizedMarket
	storedAt time.Time
	extended bool // hot-category TTL extension applied
}

type fullEntry struct {
	market     types.NormalizedMarket
	storedAt   time.Time
	lastAccess time.Time
}

type unifiedEntry struct {
	market   types.UnifiedMarket
	storedAt time.Time
}

type viewEntry struct {
	ids      []string
	storedAt time.Time
}

type confidenceEntry struct {
	confidence float64
	storedAt   time.Time
}

type categoryAccess struct {
	hits       int
	lastAccess time.Time
}

// Cache is the process-wide typed store. Create with New, share by
// reference; the background cleanup task holds nothing more than the
// handle.
type Cache struct {
	cfg    config.CacheConfig
	logger *slog.Logger

	metaMu   sync.RWMutex
	metadata map[types.Category]*metadataEntry
	access   map[types.Category]*categoryAccess

	fullMu sync.RWMutex
	full   map[string]*fullEntry

	unifiedMu sync.RWMutex
	unified   map[string]*unifiedEntry
	views     map[string]*viewEntry // category key → unified ids

	confMu     sync.RWMutex
	confidence map[string]*confidenceEntry

	healthMu sync.RWMutex
	health   map[types.Venue]types.VenueHealth
}

// New creates an empty cache. Run starts the cleanup loop separately.
func New(cfg config.CacheConfig, logger *slog.Logger) *Cache {
	return &Cache{
		cfg:        cfg,
		logger:     logger.With("component", "cache"),
		metadata:   make(map[types.Category]*metadataEntry),
		access:     make(map[types.Category]*categoryAccess),
		full:       make(map[string]*fullEntry),
		unified:    make(map[string]*unifiedEntry),
		views:      make(map[string]*viewEntry),
		confidence: make(map[string]*confidenceEntry),
		health:     make(map[types.Venue]types.VenueHealth),
	}
}

// Run executes the periodic cleanup pass until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup(time.Now())
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Metadata region
// ————————————————————————————————————————————————————————————————————————

// SetMetadata stores the normalized markets for one category.
func (c *Cache) SetMetadata(cat types.Category, markets []types.NormalizedMarket) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.metadata[cat] = &metadataEntry{markets: markets, storedAt: time.Now()}
}

// GetMetadata returns the cached markets for a category, counting the
// access. Expired entries read as misses. The fifth hit on a category
// extends its metadata TTL once.
func (c *Cache) GetMetadata(cat types.Category) ([]types.NormalizedMarket, bool) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	acc := c.access[cat]
	if acc == nil {
		acc = &categoryAccess{}
		c.access[cat] = acc
	}
	acc.hits++
	acc.lastAccess = time.Now()

	entry, ok := c.metadata[cat]
	if !ok {
		return nil, false
	}

	ttl := c.cfg.MetadataTTL
	if acc.hits >= hotCategoryHits && !entry.extended {
		entry.extended = true
	}
	if entry.extended {
		ttl += hotCategoryExtension
	}
	if time.Since(entry.storedAt) > ttl {
		return nil, false
	}
	return entry.markets, true
}

// ————————————————————————————————————————————————————————————————————————
// Full region
// ————————————————————————————————————————————————————————————————————————

// SetMarkets stores full records for each market, enforcing the size cap.
func (c *Cache) SetMarkets(markets []types.NormalizedMarket) {
	now := time.Now()
	c.fullMu.Lock()
	defer c.fullMu.Unlock()
	for _, m := range markets {
		c.full[m.ID] = &fullEntry{market: m, storedAt: now, lastAccess: now}
	}
	c.enforceFullCapLocked()
}

// GetMarket returns one full record by id, refreshing its LRU position.
func (c *Cache) GetMarket(id string) (types.NormalizedMarket, bool) {
	c.fullMu.Lock()
	defer c.fullMu.Unlock()

	entry, ok := c.full[id]
	if !ok {
		return types.NormalizedMarket{}, false
	}
	if time.Since(entry.storedAt) > c.cfg.FullTTL {
		return types.NormalizedMarket{}, false
	}
	entry.lastAccess = time.Now()
	return entry.market, true
}

// enforceFullCapLocked evicts the least-recently-accessed 20% when the
// region exceeds its cap. Caller holds fullMu.
func (c *Cache) enforceFullCapLocked() {
	cap := c.cfg.FullCap
	if cap <= 0 || len(c.full) <= cap {
		return
	}

	type aged struct {
		id         string
		lastAccess time.Time
	}
	entries := make([]aged, 0, len(c.full))
	for id, e := range c.full {
		entries = append(entries, aged{id, e.lastAccess})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	evict := int(float64(len(entries)) * evictFraction)
	if evict < len(entries)-cap {
		evict = len(entries) - cap
	}
	for _, e := range entries[:evict] {
		delete(c.full, e.id)
	}
	c.logger.Debug("full region evicted", "count", evict, "remaining", len(c.full))
}

// ————————————————————————————————————————————————————————————————————————
// Unified region
// ————————————————————————————————————————————————————————————————————————

// SetUnified stores or replaces one unified cluster.
func (c *Cache) SetUnified(u types.UnifiedMarket) {
	if u.UnifiedID == "" {
		c.logger.Warn("rejecting unified market without id")
		return
	}
	c.unifiedMu.Lock()
	defer c.unifiedMu.Unlock()
	c.unified[u.UnifiedID] = &unifiedEntry{market: u, storedAt: time.Now()}
}

// GetUnified returns one cluster by unified id.
func (c *Cache) GetUnified(id string) (types.UnifiedMarket, bool) {
	c.unifiedMu.RLock()
	defer c.unifiedMu.RUnlock()

	entry, ok := c.unified[id]
	if !ok || time.Since(entry.storedAt) > c.cfg.UnifiedTTL {
		return types.UnifiedMarket{}, false
	}
	return entry.market, true
}

// SetView stores the per-category result of an aggregation pass: the
// clusters themselves plus the ordered id list for that category view.
func (c *Cache) SetView(category string, clusters []types.UnifiedMarket) {
	now := time.Now()
	key := strings.ToLower(category)

	c.unifiedMu.Lock()
	defer c.unifiedMu.Unlock()
	ids := make([]string, len(clusters))
	for i, u := range clusters {
		ids[i] = u.UnifiedID
		c.unified[u.UnifiedID] = &unifiedEntry{market: u, storedAt: now}
	}
	c.views[key] = &viewEntry{ids: ids, storedAt: now}
}

// GetView returns the cached cluster list for a category view.
func (c *Cache) GetView(category string) ([]types.UnifiedMarket, bool) {
	key := strings.ToLower(category)

	c.unifiedMu.RLock()
	defer c.unifiedMu.RUnlock()

	view, ok := c.views[key]
	if !ok || time.Since(view.storedAt) > c.cfg.UnifiedTTL {
		return nil, false
	}
	out := make([]types.UnifiedMarket, 0, len(view.ids))
	for _, id := range view.ids {
		if entry, ok := c.unified[id]; ok && time.Since(entry.storedAt) <= c.cfg.UnifiedTTL {
			out = append(out, entry.market)
		}
	}
	return out, true
}

// ListUnified returns every live cluster, unordered.
func (c *Cache) ListUnified() []types.UnifiedMarket {
	c.unifiedMu.RLock()
	defer c.unifiedMu.RUnlock()

	out := make([]types.UnifiedMarket, 0, len(c.unified))
	for _, entry := range c.unified {
		if time.Since(entry.storedAt) <= c.cfg.UnifiedTTL {
			out = append(out, entry.market)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Confidence region
// ————————————————————————————————————————————————————————————————————————

// pairKey builds an order-independent key for an id pair.
func pairKey(id1, id2 string) string {
	if id1 > id2 {
		id1, id2 = id2, id1
	}
	return id1 + "|" + id2
}

// SetConfidence memoizes a pairwise match confidence. Values outside [0,1]
// are logged and ignored, never stored.
func (c *Cache) SetConfidence(id1, id2 string, confidence float64) {
	if confidence < 0 || confidence > 1 {
		c.logger.Warn("rejecting out-of-range confidence",
			"id1", id1, "id2", id2, "confidence", confidence)
		return
	}
	c.confMu.Lock()
	defer c.confMu.Unlock()
	c.confidence[pairKey(id1, id2)] = &confidenceEntry{confidence: confidence, storedAt: time.Now()}
}

// GetConfidence returns a memoized pairwise confidence.
func (c *Cache) GetConfidence(id1, id2 string) (float64, bool) {
	c.confMu.RLock()
	defer c.confMu.RUnlock()

	entry, ok := c.confidence[pairKey(id1, id2)]
	if !ok || time.Since(entry.storedAt) > c.cfg.ConfidenceTTL {
		return 0, false
	}
	return entry.confidence, true
}

// ————————————————————————————————————————————————————————————————————————
// Venue health
// ————————————————————————————————————————————————————————————————————————

// ReportAttempt records that an adapter call started.
func (c *Cache) ReportAttempt(v types.Venue) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	h := c.health[v]
	if h.Status == "" {
		h.Status = types.HealthHealthy
	}
	h.LastAttempt = time.Now()
	c.health[v] = h
}

// ReportSuccess marks a venue healthy again.
func (c *Cache) ReportSuccess(v types.Venue) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	h := c.health[v]
	h.Status = types.HealthHealthy
	h.LastSuccess = time.Now()
	h.LastError = ""
	c.health[v] = h
}

// ReportFailure downgrades a venue. Degraded persists until the next
// success.
func (c *Cache) ReportFailure(v types.Venue, err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	h := c.health[v]
	h.Status = types.HealthDegraded
	if err != nil {
		h.LastError = err.Error()
	}
	c.health[v] = h
}

// Health returns one venue's record, auto-downgrading a nominally healthy
// venue whose last success has gone stale.
func (c *Cache) Health(v types.Venue) types.VenueHealth {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	h, ok := c.health[v]
	if !ok {
		return types.VenueHealth{Status: types.HealthDegraded}
	}
	if h.Status == types.HealthHealthy && !h.LastSuccess.IsZero() &&
		time.Since(h.LastSuccess) > staleSuccessWindow {
		h.Status = types.HealthDegraded
		h.LastError = "no successful fetch in over 60s"
		c.health[v] = h
	}
	return h
}

// AllHealth returns the health record for every known venue.
func (c *Cache) AllHealth() map[types.Venue]types.VenueHealth {
	out := make(map[types.Venue]types.VenueHealth)
	for _, v := range types.Venues() {
		out[v] = c.Health(v)
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Cleanup
// ————————————————————————————————————————————————————————————————————————

// Cleanup purges expired entries across all regions, enforces the full
// region's cap, and evicts metadata for categories idle past the timeout.
// Exposed (with an explicit now) for the cleanup loop and tests.
func (c *Cache) Cleanup(now time.Time) {
	purged := 0

	c.metaMu.Lock()
	for cat, entry := range c.metadata {
		ttl := c.cfg.MetadataTTL
		if entry.extended {
			ttl += hotCategoryExtension
		}
		if now.Sub(entry.storedAt) > ttl {
			delete(c.metadata, cat)
			purged++
		}
	}
	for cat, acc := range c.access {
		if now.Sub(acc.lastAccess) > categoryIdleTimeout {
			delete(c.metadata, cat)
			delete(c.access, cat)
			purged++
		}
	}
	c.metaMu.Unlock()

	c.fullMu.Lock()
	for id, entry := range c.full {
		if now.Sub(entry.storedAt) > c.cfg.FullTTL {
			delete(c.full, id)
			purged++
		}
	}
	c.enforceFullCapLocked()
	c.fullMu.Unlock()

	c.unifiedMu.Lock()
	for id, entry := range c.unified {
		if now.Sub(entry.storedAt) > c.cfg.UnifiedTTL {
			delete(c.unified, id)
			purged++
		}
	}
	for key, view := range c.views {
		if now.Sub(view.storedAt) > c.cfg.UnifiedTTL {
			delete(c.views, key)
			purged++
		}
	}
	c.unifiedMu.Unlock()

	c.confMu.Lock()
	for key, entry := range c.confidence {
		if now.Sub(entry.storedAt) > c.cfg.ConfidenceTTL {
			delete(c.confidence, key)
			purged++
		}
	}
	c.confMu.Unlock()

	if purged > 0 {
		c.logger.Debug("cleanup pass", "purged", purged)
	}
}

// Stats reports region sizes and per-category hit counts.
func (c *Cache) Stats() Stats {
	s := Stats{CategoryHits: make(map[types.Category]int)}

	c.metaMu.RLock()
	s.MetadataEntries = len(c.metadata)
	for cat, acc := range c.access {
		s.CategoryHits[cat] = acc.hits
	}
	c.metaMu.RUnlock()

	c.fullMu.RLock()
	s.FullEntries = len(c.full)
	c.fullMu.RUnlock()

	c.unifiedMu.RLock()
	s.UnifiedEntries = len(c.unified)
	c.unifiedMu.RUnlock()

	c.confMu.RLock()
	s.ConfidenceEntries = len(c.confidence)
	c.confMu.RUnlock()

	return s
}

// Stats is a point-in-time view of cache occupancy.
type Stats struct {
	MetadataEntries   int                    `json:"metadata_entries"`
	FullEntries       int                    `json:"full_entries"`
	UnifiedEntries    int                    `json:"unified_entries"`
	ConfidenceEntries int                    `json:"confidence_entries"`
	CategoryHits      map[types.Category]int `json:"category_hits"`
}
