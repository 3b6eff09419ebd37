// Package arb finds riskless cross-venue profit pairs inside unified
// clusters: buy YES cheap on one venue, buy the opposite side on another,
// and collect $1 at resolution for less than $1 in combined cost.
//
// Money math runs in decimal, not float — profit percentages and combined
// costs are what consumers act on, so they must not carry binary-float
// noise.
package arb

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketfuse/pkg/types"
)

// Config tunes the detector.
type Config struct {
	MinProfitPct     float64 // opportunities below this are discarded, default 2.0
	MaxCombinedPrice float64 // combined cost at or above this is no opportunity, default 0.95
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{MinProfitPct: 2.0, MaxCombinedPrice: 0.95}
}

// Detector scans unified clusters for arbitrage.
type Detector struct {
	cfg Config
}

// New creates a detector. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinProfitPct <= 0 {
		cfg.MinProfitPct = def.MinProfitPct
	}
	if cfg.MaxCombinedPrice <= 0 {
		cfg.MaxCombinedPrice = def.MaxCombinedPrice
	}
	return &Detector{cfg: cfg}
}

// Detect finds the best YES-buy / NO-buy pair across a cluster's members.
// Returns nil when no opportunity clears the thresholds. Only binary
// outcomes participate: clusters without Yes/No outcomes pass through.
//
// The YES leg is the lowest Yes price in (0,1); the NO leg is the highest
// No price in (0,1) on a *different* venue — same-venue legs always sum to
// ~1 and can never profit.
func (d *Detector) Detect(u types.UnifiedMarket) *types.ArbitrageOpportunity {
	if len(u.Members) < 2 {
		return nil
	}

	members := u.MemberList()

	var yesBuy types.PricePoint
	haveYes := false
	for _, m := range members {
		o, ok := m.Outcome("Yes")
		if !ok || o.Price <= 0 || o.Price >= 1 {
			continue
		}
		if !haveYes || o.Price < yesBuy.Price {
			yesBuy = types.PricePoint{Venue: m.Venue, Price: o.Price}
			haveYes = true
		}
	}
	if !haveYes {
		return nil
	}

	var noSell types.PricePoint
	haveNo := false
	for _, m := range members {
		if m.Venue == yesBuy.Venue {
			continue
		}
		o, ok := m.Outcome("No")
		if !ok || o.Price <= 0 || o.Price >= 1 {
			continue
		}
		if !haveNo || o.Price > noSell.Price {
			noSell = types.PricePoint{Venue: m.Venue, Price: o.Price}
			haveNo = true
		}
	}
	if !haveNo {
		return nil
	}

	total := decimal.NewFromFloat(yesBuy.Price).Add(decimal.NewFromFloat(noSell.Price))
	if total.GreaterThanOrEqual(decimal.NewFromFloat(d.cfg.MaxCombinedPrice)) {
		return nil
	}
	if total.IsZero() {
		return nil
	}

	one := decimal.NewFromInt(1)
	profitPct := one.Sub(total).Div(total).Mul(decimal.NewFromInt(100))
	if profitPct.LessThan(decimal.NewFromFloat(d.cfg.MinProfitPct)) {
		return nil
	}

	return &types.ArbitrageOpportunity{
		Exists:     true,
		ProfitPct:  profitPct.Round(2).InexactFloat64(),
		TotalCost:  total.Round(4).InexactFloat64(),
		YesBuy:     yesBuy,
		NoSell:     noSell,
		DetectedAt: time.Now().UTC(),
	}
}

// DetectAll applies Detect to every cluster and returns the found
// opportunities sorted by profit percentage descending.
func (d *Detector) DetectAll(clusters []types.UnifiedMarket) []types.ArbitrageOpportunity {
	var out []types.ArbitrageOpportunity
	for _, u := range clusters {
		if opp := d.Detect(u); opp != nil {
			out = append(out, *opp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProfitPct > out[j].ProfitPct
	})
	return out
}
