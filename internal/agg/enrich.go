// enrich.go holds the pure per-cluster enrichment math: best price per
// side, the 1–5 liquidity star rating, and smart-routing recommendations
// built on the execution score.
package agg

import (
	"fmt"
	"math"

	"marketfuse/pkg/types"
)

const (
	// routingLiquidityFloor excludes members too thin to route to.
	routingLiquidityFloor = 1_000

	// volumeSaturation is the combined volume that maxes the liquidity
	// rating's volume component.
	volumeSaturation = 1_000_000

	// liquiditySaturation maxes the execution score's liquidity component.
	liquiditySaturation = 100_000

	// defaultSpread stands in when no member reports a positive spread.
	defaultSpread = 0.10

	// tightSpread is the threshold mentioned in routing reasons.
	tightSpread = 0.05
)

// bestPrice picks, per side, the highest price across members. This is the
// best price to *sell* at; arbitrage separately wants the lowest buy.
func bestPrice(members []types.NormalizedMarket) types.BestPrice {
	var bp types.BestPrice
	for _, m := range members {
		if o, ok := m.Outcome("Yes"); ok && o.Price > bp.Yes.Price {
			bp.Yes = types.PricePoint{Venue: m.Venue, Price: o.Price}
		}
		if o, ok := m.Outcome("No"); ok && o.Price > bp.No.Price {
			bp.No = types.PricePoint{Venue: m.Venue, Price: o.Price}
		}
	}
	return bp
}

// liquidityScore rates a cluster 1..5 from combined volume (40%) and mean
// spread tightness (60%).
func liquidityScore(members []types.NormalizedMarket) int {
	var volume, spreadSum float64
	spreadCount := 0
	for _, m := range members {
		volume += m.Volume24h
		if m.Spread > 0 {
			spreadSum += m.Spread
			spreadCount++
		}
	}

	spread := defaultSpread
	if spreadCount > 0 {
		spread = spreadSum / float64(spreadCount)
	}

	vhat := math.Min(volume/volumeSaturation, 1)
	shat := math.Min(1/(spread*10), 1)
	raw := 0.4*vhat + 0.6*shat

	score := int(math.Round(4*raw + 1))
	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}
	return score
}

// executionScore rates one member for a given side and outcome in [0,1]:
// price quality 50%, spread tightness 30%, resting liquidity 20%.
func executionScore(m types.NormalizedMarket, buy bool, outcomeName string) (float64, bool) {
	o, ok := m.Outcome(outcomeName)
	if !ok {
		return 0, false
	}

	priceQuality := o.Price
	if buy {
		priceQuality = 1 - o.Price
	}
	spreadQuality := math.Max(0, 1-m.Spread/0.20)
	liquidityQuality := math.Min(1, m.Liquidity/liquiditySaturation)

	return 0.5*priceQuality + 0.3*spreadQuality + 0.2*liquidityQuality, true
}

// recommend picks the best venue for one routed action, or reports that no
// member clears the liquidity floor.
func recommend(members []types.NormalizedMarket, action types.RouteAction) *types.Recommendation {
	buy := action == types.RouteBuyYes || action == types.RouteBuyNo
	outcomeName := "Yes"
	if action == types.RouteBuyNo || action == types.RouteSellNo {
		outcomeName = "No"
	}

	var (
		best      types.NormalizedMarket
		bestScore float64
		bestPrice float64
		found     bool
	)
	for _, m := range members {
		if m.Liquidity < routingLiquidityFloor {
			continue
		}
		score, ok := executionScore(m, buy, outcomeName)
		if !ok {
			continue
		}
		if !found || score > bestScore {
			best = m
			bestScore = score
			if o, ok := m.Outcome(outcomeName); ok {
				bestPrice = o.Price
			}
			found = true
		}
	}

	if !found {
		return &types.Recommendation{
			Venue:  types.VenueNone,
			Reason: "Insufficient liquidity on all platforms",
		}
	}

	verb := "sell"
	if buy {
		verb = "buy"
	}
	reason := fmt.Sprintf("Best venue to %s %s at $%.2f", verb, outcomeName, bestPrice)
	if best.Spread < tightSpread {
		reason += " with a tight spread"
	}

	return &types.Recommendation{
		Venue:  best.Venue,
		Price:  bestPrice,
		Score:  bestScore,
		Reason: reason,
	}
}
