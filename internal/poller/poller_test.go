package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketfuse/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAdapter returns a snapshot that tests can swap between ticks.
type stubAdapter struct {
	v   types.Venue
	mu  sync.Mutex
	out []types.NormalizedMarket
	err error
}

func (s *stubAdapter) Venue() types.Venue { return s.v }

func (s *stubAdapter) FetchMarkets(ctx context.Context, opts types.FetchOptions) ([]types.NormalizedMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func (s *stubAdapter) set(markets []types.NormalizedMarket, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out, s.err = markets, err
}

// stubStore is an in-memory ClusterStore recording SetUnified calls.
type stubStore struct {
	mu       sync.Mutex
	clusters map[string]types.UnifiedMarket
	sets     int
}

func newStubStore(clusters ...types.UnifiedMarket) *stubStore {
	s := &stubStore{clusters: make(map[string]types.UnifiedMarket)}
	for _, u := range clusters {
		s.clusters[u.UnifiedID] = u
	}
	return s
}

func (s *stubStore) ListUnified() []types.UnifiedMarket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.UnifiedMarket, 0, len(s.clusters))
	for _, u := range s.clusters {
		out = append(out, u)
	}
	return out
}

func (s *stubStore) SetUnified(u types.UnifiedMarket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[u.UnifiedID] = u
	s.sets++
}

func (s *stubStore) get(id string) types.UnifiedMarket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusters[id]
}

func (s *stubStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// passEnricher recomputes only the combined volume, enough to observe that
// enrichment ran.
type passEnricher struct{}

func (passEnricher) Enhance(u types.UnifiedMarket) types.UnifiedMarket {
	var vol float64
	for _, m := range u.Members {
		vol += m.Volume24h
	}
	u.CombinedVolume = vol
	return u
}

type recordingSink struct {
	mu         sync.Mutex
	updates    int
	arbitrages int
}

func (s *recordingSink) PublishUpdate(types.UnifiedMarket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
}

func (s *recordingSink) PublishArbitrage(types.UnifiedMarket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrages++
}

func member(v types.Venue, id string, yes float64, volume float64) types.NormalizedMarket {
	return types.NormalizedMarket{
		ID:        id,
		Venue:     v,
		Question:  "Will it happen?",
		Volume24h: volume,
		Outcomes: []types.Outcome{
			{Name: "Yes", Price: yes},
			{Name: "No", Price: 1 - yes},
		},
	}
}

func clusterWith(m types.NormalizedMarket) types.UnifiedMarket {
	return types.UnifiedMarket{
		UnifiedID: types.UnifiedID([]string{m.ID}),
		Members:   map[types.Venue]types.NormalizedMarket{m.Venue: m},
	}
}

func TestTickPatchesChangedMember(t *testing.T) {
	t.Parallel()

	old := member(types.VenueA, "venue_a:1", 0.50, 1000)
	store := newStubStore(clusterWith(old))

	fresh := member(types.VenueA, "venue_a:1", 0.60, 1000)
	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{fresh}}
	sink := &recordingSink{}

	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, store, sink, testLogger())
	p.tick(context.Background(), p.targets[0])

	u := store.get(types.UnifiedID([]string{"venue_a:1"}))
	got, _ := u.Members[types.VenueA].Outcome("Yes")
	if got.Price != 0.60 {
		t.Errorf("member price = %v, want the fresh 0.60", got.Price)
	}
	if u.CombinedVolume != 1000 {
		t.Error("enrichment should have run on the patched cluster")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.updates != 1 {
		t.Errorf("published %d updates, want 1", sink.updates)
	}
}

func TestTickNeverWritesSharedMembersMap(t *testing.T) {
	t.Parallel()

	old := member(types.VenueA, "venue_a:1", 0.50, 100)
	u := clusterWith(old)
	u.CombinedVolume = 100
	store := newStubStore(u)

	// Readers hold struct copies that alias the stored Members map,
	// exactly as cache.ListUnified hands them out.
	snapshot := store.get(u.UnifiedID)

	fresh := member(types.VenueA, "venue_a:1", 0.50, 999)
	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{fresh}}
	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, store, nil, testLogger())
	p.tick(context.Background(), p.targets[0])

	// The reader's snapshot must be untouched: old member alongside the
	// old derived fields.
	if got := snapshot.Members[types.VenueA].Volume24h; got != 100 {
		t.Errorf("reader snapshot mutated: member volume = %v, want 100", got)
	}
	if snapshot.CombinedVolume != 100 {
		t.Errorf("reader snapshot mutated: combined volume = %v, want 100", snapshot.CombinedVolume)
	}

	// The store got the full post-tick cluster in one piece: fresh member
	// paired with re-derived fields, never the mixed state.
	after := store.get(u.UnifiedID)
	if got := after.Members[types.VenueA].Volume24h; got != 999 {
		t.Errorf("stored member volume = %v, want 999", got)
	}
	if after.CombinedVolume != 999 {
		t.Errorf("stored combined volume = %v, want the re-enriched 999", after.CombinedVolume)
	}
}

func TestTickIgnoresSubEpsilonMove(t *testing.T) {
	t.Parallel()

	old := member(types.VenueA, "venue_a:1", 0.50, 1000)
	store := newStubStore(clusterWith(old))

	// A move smaller than the epsilon, same volume: no patch.
	fresh := old
	fresh.Outcomes = []types.Outcome{
		{Name: "Yes", Price: 0.500000001},
		{Name: "No", Price: 0.499999999},
	}
	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{fresh}}

	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, store, nil, testLogger())
	p.tick(context.Background(), p.targets[0])

	if store.setCount() != 0 {
		t.Errorf("sub-epsilon move patched %d clusters, want 0", store.setCount())
	}
}

func TestTickPatchesOnVolumeChange(t *testing.T) {
	t.Parallel()

	old := member(types.VenueA, "venue_a:1", 0.50, 1000)
	store := newStubStore(clusterWith(old))

	fresh := member(types.VenueA, "venue_a:1", 0.50, 1001)
	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{fresh}}

	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, store, nil, testLogger())
	p.tick(context.Background(), p.targets[0])

	if store.setCount() != 1 {
		t.Errorf("volume change patched %d clusters, want 1", store.setCount())
	}
}

func TestTickSkipsOtherVenuesClusters(t *testing.T) {
	t.Parallel()

	other := member(types.VenueB, "venue_b:9", 0.30, 500)
	store := newStubStore(clusterWith(other))

	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{member(types.VenueA, "venue_a:1", 0.40, 100)}}
	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, store, nil, testLogger())
	p.tick(context.Background(), p.targets[0])

	if store.setCount() != 0 {
		t.Error("a venue-a tick must not touch clusters without a venue-a member")
	}
}

func TestTickRecordsStats(t *testing.T) {
	t.Parallel()

	ad := &stubAdapter{v: types.VenueA, out: nil}
	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, newStubStore(), nil, testLogger())

	p.tick(context.Background(), p.targets[0])
	ad.set(nil, errors.New("boom"))
	p.tick(context.Background(), p.targets[0])

	st := p.Stats()[types.VenueA]
	if st.Total != 2 || st.Success != 1 || st.Fail != 1 {
		t.Errorf("stats = %+v, want 2 total, 1 success, 1 fail", st)
	}
	if st.LastError != "boom" {
		t.Errorf("last error = %q", st.LastError)
	}
	if got := st.SuccessRate(); got != 0.5 {
		t.Errorf("success rate = %v, want 0.5", got)
	}
}

func TestStaleness(t *testing.T) {
	t.Parallel()

	ad := &stubAdapter{v: types.VenueA}
	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, passEnricher{}, newStubStore(), nil, testLogger())

	// Never fetched: stale.
	if !p.Staleness()[types.VenueA].IsStale {
		t.Error("venue with no fetches should read stale")
	}

	p.tick(context.Background(), p.targets[0])
	info := p.Staleness()[types.VenueA]
	if info.IsStale {
		t.Error("venue fetched just now should not be stale")
	}
	if info.LastFetch.IsZero() {
		t.Error("last fetch should be stamped")
	}

	// A failed tick still counts as a fetch attempt for staleness: the
	// venue goes stale only when ticks stop landing entirely.
	ad.set(nil, errors.New("down"))
	p.tick(context.Background(), p.targets[0])
	if p.Staleness()[types.VenueA].IsStale {
		t.Error("recent tick, even failed, keeps the venue fresh")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	ad := &stubAdapter{v: types.VenueA}
	p := New([]Target{{Adapter: ad, Interval: 10 * time.Millisecond}}, passEnricher{}, newStubStore(), nil, testLogger())

	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	p.Stop()
	p.Stop() // second stop must not panic or hang

	if p.Stats()[types.VenueA].Total == 0 {
		t.Error("expected at least one tick before stop")
	}
}

func TestTickPublishesArbitrage(t *testing.T) {
	t.Parallel()

	old := member(types.VenueA, "venue_a:1", 0.50, 1000)
	store := newStubStore(clusterWith(old))

	fresh := member(types.VenueA, "venue_a:1", 0.60, 1000)
	ad := &stubAdapter{v: types.VenueA, out: []types.NormalizedMarket{fresh}}
	sink := &recordingSink{}

	p := New([]Target{{Adapter: ad, Interval: time.Hour}}, arbEnricher{}, store, sink, testLogger())
	p.tick(context.Background(), p.targets[0])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.arbitrages != 1 {
		t.Errorf("published %d arbitrage events, want 1", sink.arbitrages)
	}
}

// arbEnricher stamps a live opportunity on every cluster it sees.
type arbEnricher struct{}

func (arbEnricher) Enhance(u types.UnifiedMarket) types.UnifiedMarket {
	u.Arbitrage = &types.ArbitrageOpportunity{Exists: true, ProfitPct: 5}
	return u
}
