package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketfuse/internal/agg"
	"marketfuse/internal/poller"
	"marketfuse/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMarkets struct {
	markets []types.UnifiedMarket
	raw     []types.NormalizedMarket
	err     error
}

func (s *stubMarkets) GetUnifiedMarkets(ctx context.Context, category string) ([]types.UnifiedMarket, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.markets, nil
}

func (s *stubMarkets) GetUnifiedMarket(ctx context.Context, id string) (types.UnifiedMarket, error) {
	if s.err != nil {
		return types.UnifiedMarket{}, s.err
	}
	for _, u := range s.markets {
		if u.UnifiedID == id {
			return u, nil
		}
	}
	return types.UnifiedMarket{}, agg.ErrNotFound
}

func (s *stubMarkets) GetMarketsByCategory(ctx context.Context, category string) ([]types.NormalizedMarket, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []types.NormalizedMarket
	for _, m := range s.raw {
		if strings.EqualFold(string(m.Category), category) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMarkets) GetMarketByID(ctx context.Context, id string) (types.NormalizedMarket, error) {
	if s.err != nil {
		return types.NormalizedMarket{}, s.err
	}
	for _, m := range s.raw {
		if m.ID == id {
			return m, nil
		}
	}
	return types.NormalizedMarket{}, agg.ErrNotFound
}

func (s *stubMarkets) FindArbitrageOpportunities() []types.UnifiedMarket {
	var out []types.UnifiedMarket
	for _, u := range s.markets {
		if u.Arbitrage != nil && u.Arbitrage.Exists {
			out = append(out, u)
		}
	}
	return out
}

type stubHealth struct{}

func (stubHealth) AllHealth() map[types.Venue]types.VenueHealth {
	return map[types.Venue]types.VenueHealth{
		types.VenueA: {Status: types.HealthHealthy},
		types.VenueB: {Status: types.HealthDegraded, LastError: "timeout"},
	}
}

type stubPolls struct{}

func (stubPolls) Stats() map[types.Venue]types.PollStats {
	return map[types.Venue]types.PollStats{
		types.VenueA: {Total: 10, Success: 9, Fail: 1, LastFetch: time.Now()},
	}
}

func (stubPolls) Staleness() map[types.Venue]poller.StalenessInfo {
	return map[types.Venue]poller.StalenessInfo{
		types.VenueA: {IsStale: false, LastFetch: time.Now()},
		types.VenueB: {IsStale: true},
	}
}

func sampleCluster(id string, venues ...types.Venue) types.UnifiedMarket {
	members := make(map[types.Venue]types.NormalizedMarket, len(venues))
	for _, v := range venues {
		members[v] = types.NormalizedMarket{
			ID:    string(v) + ":" + id,
			Venue: v,
			Outcomes: []types.Outcome{
				{Name: "Yes", Price: 0.5},
				{Name: "No", Price: 0.5},
			},
		}
	}
	return types.UnifiedMarket{
		UnifiedID:         id,
		CanonicalQuestion: "Will it happen?",
		Category:          types.CategoryPolitics,
		Members:           members,
	}
}

func newTestServer(m MarketProvider) *Server {
	return NewServer(0, m, stubHealth{}, stubPolls{}, nil, testLogger())
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestUnifiedMarketsEndpoint(t *testing.T) {
	t.Parallel()

	both := sampleCluster("u_both", types.VenueA, types.VenueB)
	onlyA := sampleCluster("u_a", types.VenueA)
	s := newTestServer(&stubMarkets{markets: []types.UnifiedMarket{both, onlyA}})

	rec := do(t, s, "/api/unified-markets/politics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp UnifiedMarketsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
	if resp.Distribution.Both != 1 || resp.Distribution.VenueA != 1 || resp.Distribution.VenueB != 0 {
		t.Errorf("distribution = %+v", resp.Distribution)
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}

func TestUnifiedMarketsRejectsMalformedCategory(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/api/unified-markets/pol%20itics")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "invalid_category" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestUnifiedMarketsAllVenuesDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{err: agg.ErrAllVenuesDown})
	rec := do(t, s, "/api/unified-markets/all")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "all_venues_down" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestUnifiedMarketByID(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{markets: []types.UnifiedMarket{sampleCluster("u_x", types.VenueA)}})

	rec := do(t, s, "/api/unified-market/u_x")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp UnifiedMarketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Market.UnifiedID != "u_x" {
		t.Errorf("unified id = %q", resp.Market.UnifiedID)
	}

	if rec := do(t, s, "/api/unified-market/u_missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestMarketsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{raw: []types.NormalizedMarket{
		{ID: "a:1", Venue: types.VenueA, Category: types.CategoryPolitics},
		{ID: "b:1", Venue: types.VenueB, Category: types.CategoryPolitics},
		{ID: "a:2", Venue: types.VenueA, Category: types.CategorySports},
	}})

	rec := do(t, s, "/api/markets/politics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp MarketsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
	if resp.Category != "politics" {
		t.Errorf("category = %q", resp.Category)
	}

	if rec := do(t, s, "/api/markets/pol%20itics"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed category status = %d, want 400", rec.Code)
	}
}

func TestMarketByID(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{raw: []types.NormalizedMarket{
		{ID: "a:42", Venue: types.VenueA, Category: types.CategoryCrypto},
	}})

	rec := do(t, s, "/api/market/a:42")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp MarketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Market.ID != "a:42" {
		t.Errorf("market id = %q", resp.Market.ID)
	}

	if rec := do(t, s, "/api/market/a:missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestArbitrageEndpoint(t *testing.T) {
	t.Parallel()

	withOpp := sampleCluster("u_arb", types.VenueA, types.VenueB)
	withOpp.Arbitrage = &types.ArbitrageOpportunity{
		Exists:    true,
		ProfitPct: 11.11,
		TotalCost: 0.90,
		YesBuy:    types.PricePoint{Venue: types.VenueA, Price: 0.40},
		NoSell:    types.PricePoint{Venue: types.VenueB, Price: 0.50},
	}
	quiet := sampleCluster("u_quiet", types.VenueA)

	s := newTestServer(&stubMarkets{markets: []types.UnifiedMarket{withOpp, quiet}})
	rec := do(t, s, "/api/arbitrage-opportunities")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ArbitrageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	entry := resp.Opportunities[0]
	if entry.UnifiedID != "u_arb" {
		t.Errorf("unified id = %q", entry.UnifiedID)
	}
	if len(entry.Instructions.Steps) != 3 {
		t.Errorf("instructions carry %d steps, want 3", len(entry.Instructions.Steps))
	}
}

func TestPlatformHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/api/platform-health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Platforms[types.VenueA].Status != types.HealthHealthy {
		t.Errorf("venue_a = %+v", resp.Platforms[types.VenueA])
	}
	if resp.Platforms[types.VenueB].Status != types.HealthDegraded {
		t.Errorf("venue_b = %+v", resp.Platforms[types.VenueB])
	}
}

func TestPollingStatsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/api/polling-stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp PollingStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	entry := resp.Venues[types.VenueA]
	if entry.Total != 10 || entry.Success != 9 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.SuccessRate != 0.9 {
		t.Errorf("success rate = %v, want 0.9", entry.SuccessRate)
	}
}

func TestStalenessEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/api/staleness-status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp StalenessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Venues[types.VenueB].IsStale != true {
		t.Error("venue_b should read stale")
	}
	if resp.Venues[types.VenueA].IsStale {
		t.Error("venue_a should read fresh")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubMarkets{})
	rec := do(t, s, "/health")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/arbitrage-opportunities", nil)
	pre := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", pre.Code)
	}
}
