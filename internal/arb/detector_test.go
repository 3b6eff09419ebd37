package arb

import (
	"math"
	"strings"
	"testing"

	"marketfuse/pkg/types"
)

func binaryMember(id string, v types.Venue, yes, no float64) types.NormalizedMarket {
	return types.NormalizedMarket{
		ID:    id,
		Venue: v,
		Outcomes: []types.Outcome{
			{Name: "Yes", Price: yes},
			{Name: "No", Price: no},
		},
	}
}

func cluster(members ...types.NormalizedMarket) types.UnifiedMarket {
	m := make(map[types.Venue]types.NormalizedMarket, len(members))
	ids := make([]string, len(members))
	for i, mem := range members {
		m[mem.Venue] = mem
		ids[i] = mem.ID
	}
	return types.UnifiedMarket{
		UnifiedID: types.UnifiedID(ids),
		Members:   m,
	}
}

func TestDetectOpportunity(t *testing.T) {
	t.Parallel()

	// A: Yes 0.40 / No 0.60, B: Yes 0.55 / No 0.50. Best pair is Yes on A
	// plus No on B: 0.90 combined, 11.11% profit.
	u := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.40, 0.60),
		binaryMember("venue_b:1", types.VenueB, 0.55, 0.50),
	)

	opp := New(Config{}).Detect(u)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}
	if !opp.Exists {
		t.Error("Exists should be true")
	}
	if opp.YesBuy.Venue != types.VenueA || opp.YesBuy.Price != 0.40 {
		t.Errorf("yes leg = %+v, want venue_a at 0.40", opp.YesBuy)
	}
	if opp.NoSell.Venue != types.VenueB || opp.NoSell.Price != 0.50 {
		t.Errorf("no leg = %+v, want venue_b at 0.50", opp.NoSell)
	}
	if opp.TotalCost != 0.90 {
		t.Errorf("total cost = %v, want 0.90", opp.TotalCost)
	}
	if math.Abs(opp.ProfitPct-11.11) > 0.001 {
		t.Errorf("profit pct = %v, want 11.11", opp.ProfitPct)
	}
	if opp.DetectedAt.IsZero() {
		t.Error("DetectedAt should be stamped")
	}
}

func TestDetectRejectsHighCombinedCost(t *testing.T) {
	t.Parallel()

	// 0.48 + 0.50 = 0.98, at or above the 0.95 cap.
	u := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.48, 0.55),
		binaryMember("venue_b:1", types.VenueB, 0.52, 0.50),
	)
	if opp := New(Config{}).Detect(u); opp != nil {
		t.Errorf("expected no opportunity, got %+v", opp)
	}
}

func TestDetectRejectsThinProfit(t *testing.T) {
	t.Parallel()

	// 0.45 + 0.47 = 0.92 is under the cap but only an 8.7% edge, below a
	// raised 10% floor.
	u := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.45, 0.55),
		binaryMember("venue_b:1", types.VenueB, 0.55, 0.47),
	)
	if opp := New(Config{MinProfitPct: 10}).Detect(u); opp != nil {
		t.Errorf("expected profit floor to reject, got %+v", opp)
	}
}

func TestDetectSingleMember(t *testing.T) {
	t.Parallel()

	u := cluster(binaryMember("venue_a:1", types.VenueA, 0.10, 0.20))
	if opp := New(Config{}).Detect(u); opp != nil {
		t.Errorf("single-member cluster: expected nil, got %+v", opp)
	}
}

func TestDetectIgnoresSameVenueNoLeg(t *testing.T) {
	t.Parallel()

	// Venue A alone shows Yes 0.40 / No 0.45, which would look like a
	// 0.85 "opportunity", but both legs on one venue are not arbitrage.
	// Venue B's No at 0.90 pushes the cross-venue total over the cap.
	u := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.40, 0.45),
		binaryMember("venue_b:1", types.VenueB, 0.95, 0.90),
	)
	opp := New(Config{}).Detect(u)
	if opp != nil {
		t.Errorf("expected nil: only cross-venue legs count, got %+v", opp)
	}
}

func TestDetectIgnoresBoundaryPrices(t *testing.T) {
	t.Parallel()

	// Prices at exactly 0 or 1 are settled or broken quotes, never legs.
	u := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.0, 1.0),
		binaryMember("venue_b:1", types.VenueB, 1.0, 0.0),
	)
	if opp := New(Config{}).Detect(u); opp != nil {
		t.Errorf("boundary prices should be ignored, got %+v", opp)
	}
}

func TestDetectSkipsNonBinaryMembers(t *testing.T) {
	t.Parallel()

	categorical := types.NormalizedMarket{
		ID:    "venue_a:1",
		Venue: types.VenueA,
		Outcomes: []types.Outcome{
			{Name: "Candidate A", Price: 0.30},
			{Name: "Candidate B", Price: 0.30},
			{Name: "Candidate C", Price: 0.40},
		},
	}
	u := cluster(categorical, binaryMember("venue_b:1", types.VenueB, 0.40, 0.40))
	// The categorical member has no Yes leg, and the binary member cannot
	// supply both legs itself.
	if opp := New(Config{}).Detect(u); opp != nil {
		t.Errorf("expected nil for categorical-vs-binary cluster, got %+v", opp)
	}
}

func TestDetectAllSortsByProfit(t *testing.T) {
	t.Parallel()

	small := cluster(
		binaryMember("venue_a:1", types.VenueA, 0.45, 0.55),
		binaryMember("venue_b:1", types.VenueB, 0.55, 0.47),
	)
	big := cluster(
		binaryMember("venue_a:2", types.VenueA, 0.30, 0.70),
		binaryMember("venue_b:2", types.VenueB, 0.70, 0.40),
	)

	opps := New(Config{}).DetectAll([]types.UnifiedMarket{small, big})
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities, want 2", len(opps))
	}
	if opps[0].ProfitPct < opps[1].ProfitPct {
		t.Errorf("not sorted descending: %v then %v", opps[0].ProfitPct, opps[1].ProfitPct)
	}
	if opps[0].TotalCost != 0.70 {
		t.Errorf("biggest edge first: total cost %v, want 0.70", opps[0].TotalCost)
	}
}

func TestBuildInstructions(t *testing.T) {
	t.Parallel()

	opp := types.ArbitrageOpportunity{
		Exists:    true,
		ProfitPct: 11.11,
		TotalCost: 0.90,
		YesBuy:    types.PricePoint{Venue: types.VenueA, Price: 0.40},
		NoSell:    types.PricePoint{Venue: types.VenueB, Price: 0.50},
	}

	ins := BuildInstructions(opp)
	if len(ins.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(ins.Steps))
	}
	if !strings.Contains(ins.Steps[0], "venue_a") || !strings.Contains(ins.Steps[0], "0.40") {
		t.Errorf("step 1 = %q, want the venue_a yes leg", ins.Steps[0])
	}
	if !strings.Contains(ins.Steps[1], "venue_b") {
		t.Errorf("step 2 = %q, want the venue_b leg", ins.Steps[1])
	}
	if !strings.Contains(ins.Steps[2], "10") {
		t.Errorf("step 3 = %q, want the 10¢ payout", ins.Steps[2])
	}
	if ins.Summary == "" || ins.Explanation == "" {
		t.Error("summary and explanation must be populated")
	}

	// 11.11% is above the verify-data threshold.
	found := false
	for _, c := range ins.Cautions {
		if strings.Contains(c, "verify") {
			found = true
		}
	}
	if !found {
		t.Errorf("cautions %v missing the data-accuracy warning for a >10%% edge", ins.Cautions)
	}
}

func TestBuildInstructionsThinProfitCaution(t *testing.T) {
	t.Parallel()

	opp := types.ArbitrageOpportunity{
		Exists:    true,
		ProfitPct: 2.2,
		TotalCost: 0.978,
		YesBuy:    types.PricePoint{Venue: types.VenueA, Price: 0.478},
		NoSell:    types.PricePoint{Venue: types.VenueB, Price: 0.50},
	}

	ins := BuildInstructions(opp)
	found := false
	for _, c := range ins.Cautions {
		if strings.Contains(c, "fees") {
			found = true
		}
	}
	if !found {
		t.Errorf("cautions %v missing the fee warning for a <3%% edge", ins.Cautions)
	}
}
