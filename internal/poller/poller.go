// Package poller runs one timed refresh loop per venue. Each tick fetches
// that venue's markets, diffs them against the members of every cached
// unified cluster, and patches changed members in place — re-running
// enrichment but never re-matching. Staleness (no fetch in over 60 s) is
// surfaced per venue, read-only.
//
// The poller depends on narrow interfaces, not the concrete aggregator or
// cache, so the Poller → Aggregator → Cache cycle stays broken.
package poller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"marketfuse/internal/venue"
	"marketfuse/pkg/types"
)

// staleThreshold is how long without a fetch marks a venue stale.
const staleThreshold = 60 * time.Second

// priceEpsilon is the minimum outcome price move that counts as a change.
const priceEpsilon = 1e-4

// Enricher recomputes a cluster's derived fields. Satisfied by the
// aggregator.
type Enricher interface {
	Enhance(u types.UnifiedMarket) types.UnifiedMarket
}

// ClusterStore is the poller's view of the cache's unified region.
type ClusterStore interface {
	ListUnified() []types.UnifiedMarket
	SetUnified(u types.UnifiedMarket)
}

// EventSink receives live-update notifications. Satisfied by the API's
// WebSocket hub; nil disables publishing.
type EventSink interface {
	PublishUpdate(u types.UnifiedMarket)
	PublishArbitrage(u types.UnifiedMarket)
}

// Target pairs an adapter with its poll cadence and fetch options.
type Target struct {
	Adapter  venue.Adapter
	Interval time.Duration
	Options  types.FetchOptions
}

// Poller owns the per-venue refresh loops.
type Poller struct {
	targets  []Target
	enricher Enricher
	store    ClusterStore
	sink     EventSink
	logger   *slog.Logger

	mu    sync.Mutex
	stats map[types.Venue]*types.PollStats

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a poller. sink may be nil.
func New(targets []Target, enricher Enricher, store ClusterStore, sink EventSink, logger *slog.Logger) *Poller {
	stats := make(map[types.Venue]*types.PollStats, len(targets))
	for _, t := range targets {
		stats[t.Adapter.Venue()] = &types.PollStats{}
	}
	return &Poller{
		targets:  targets,
		enricher: enricher,
		store:    store,
		sink:     sink,
		logger:   logger.With("component", "poller"),
		stats:    stats,
	}
}

// Start launches one loop per venue. Each loop ticks immediately, then on
// its fixed interval, until Stop or ctx cancellation.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, t := range p.targets {
		p.wg.Add(1)
		go p.run(ctx, t)
	}
	p.logger.Info("poller started", "venues", len(p.targets))
}

// Stop cancels every loop and waits for in-flight ticks to finish.
// Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.logger.Info("poller stopped")
	})
}

func (p *Poller) run(ctx context.Context, t Target) {
	defer p.wg.Done()

	p.tick(ctx, t)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, t)
		}
	}
}

// tick runs one refresh for one venue: fetch, record stats, patch every
// cached cluster that carries a changed member from this venue.
func (p *Poller) tick(ctx context.Context, t Target) {
	v := t.Adapter.Venue()

	markets, err := t.Adapter.FetchMarkets(ctx, t.Options)

	p.mu.Lock()
	st := p.stats[v]
	st.Total++
	st.LastFetch = time.Now()
	if err != nil {
		st.Fail++
		st.LastError = err.Error()
	} else {
		st.Success++
		st.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("poll tick failed", "venue", v, "error", err)
		return
	}

	byID := make(map[string]types.NormalizedMarket, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	patched := 0
	for _, u := range p.store.ListUnified() {
		member, ok := u.Members[v]
		if !ok {
			continue
		}
		fresh, ok := byID[member.ID]
		if !ok || !changed(member, fresh) {
			continue
		}

		// Swap the member on a cloned map: the one returned by the store
		// is shared with every reader that fetched this cluster, so it
		// must never be written. SetUnified then replaces the whole
		// cluster under the unified region's lock, so readers see the
		// pre-tick or post-tick cluster, never a partial swap.
		members := make(map[types.Venue]types.NormalizedMarket, len(u.Members))
		for mv, mm := range u.Members {
			members[mv] = mm
		}
		members[v] = fresh
		u.Members = members
		u = p.enricher.Enhance(u)
		p.store.SetUnified(u)
		patched++

		if p.sink != nil {
			p.sink.PublishUpdate(u)
			if u.Arbitrage != nil && u.Arbitrage.Exists {
				p.sink.PublishArbitrage(u)
			}
		}
	}

	if patched > 0 {
		p.logger.Debug("poll tick patched clusters", "venue", v, "patched", patched)
	}
}

// changed reports whether a member differs enough to patch: any outcome
// price moved by more than priceEpsilon, the outcome set changed, or the
// 24h volume changed at all.
func changed(old, fresh types.NormalizedMarket) bool {
	if old.Volume24h != fresh.Volume24h {
		return true
	}
	if len(old.Outcomes) != len(fresh.Outcomes) {
		return true
	}
	for _, o := range old.Outcomes {
		f, ok := fresh.Outcome(o.Name)
		if !ok {
			return true
		}
		if math.Abs(f.Price-o.Price) > priceEpsilon {
			return true
		}
	}
	return false
}

// Stats returns a copy of every venue's polling counters.
func (p *Poller) Stats() map[types.Venue]types.PollStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[types.Venue]types.PollStats, len(p.stats))
	for v, st := range p.stats {
		out[v] = *st
	}
	return out
}

// StalenessInfo is the per-venue staleness view for consumers.
type StalenessInfo struct {
	IsStale       bool      `json:"is_stale"`
	LastFetch     time.Time `json:"last_fetch"`
	TimeSinceLast int64     `json:"time_since_last_fetch_ms"`
}

// Staleness reports, per venue, whether the last fetch is older than the
// threshold. Read-only; a stale venue keeps polling.
func (p *Poller) Staleness() map[types.Venue]StalenessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make(map[types.Venue]StalenessInfo, len(p.stats))
	for v, st := range p.stats {
		since := now.Sub(st.LastFetch)
		out[v] = StalenessInfo{
			IsStale:       st.LastFetch.IsZero() || since > staleThreshold,
			LastFetch:     st.LastFetch,
			TimeSinceLast: since.Milliseconds(),
		}
	}
	return out
}
