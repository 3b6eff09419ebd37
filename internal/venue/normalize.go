// normalize.go holds venue-independent normalization helpers: price
// clamping, spread derivation, and category inference.
package venue

import (
	"math"
	"strings"

	"marketfuse/pkg/types"
)

// clampPrice coerces a raw venue price into [0,1]. Prices above 1 are
// assumed percentage-encoded (52 means $0.52) and divided by 100 first.
// Prices are never re-normalized to sum to 1.
func clampPrice(p float64) float64 {
	if p > 1 {
		p /= 100
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// deriveSpread computes the price-quality spread at normalization time.
// Binary markets: |1 - (yes + no)|. Categorical markets: mean absolute
// deviation of outcome prices from the fair price 1/n.
func deriveSpread(outcomes []types.Outcome) float64 {
	n := len(outcomes)
	if n == 0 {
		return 0
	}
	if n == 2 {
		return math.Abs(1 - (outcomes[0].Price + outcomes[1].Price))
	}
	fair := 1.0 / float64(n)
	var dev float64
	for _, o := range outcomes {
		dev += math.Abs(o.Price - fair)
	}
	return dev / float64(n)
}

// categoryKeywords maps question keywords to categories, used when venue
// metadata does not carry a usable category. Checked in order; first
// category with any keyword hit wins.
var categoryKeywords = []struct {
	cat      types.Category
	keywords []string
}{
	{types.CategoryPolitics, []string{"election", "president", "senate", "congress", "governor", "vote", "ballot", "primary", "impeach"}},
	{types.CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "token", "blockchain"}},
	{types.CategorySports, []string{"nba", "nfl", "mlb", "nhl", "championship", "super bowl", "world cup", "olympics", "playoff", "match"}},
	{types.CategoryEconomics, []string{"fed", "inflation", "gdp", "recession", "interest rate", "unemployment", "cpi", "stock"}},
	{types.CategoryGeopolitics, []string{"war", "ceasefire", "invasion", "nato", "sanctions", "treaty", "missile"}},
	{types.CategoryCulture, []string{"oscar", "grammy", "movie", "album", "celebrity", "box office", "emmy"}},
	{types.CategoryWorld, []string{"united nations", "climate", "earthquake", "pandemic", "summit"}},
}

// inferCategory picks a category from venue metadata, falling back to
// keyword match on the question, then Other.
func inferCategory(venueTag, question string) types.Category {
	if venueTag != "" {
		for _, c := range types.Categories() {
			if strings.EqualFold(venueTag, string(c)) {
				return c
			}
		}
		// Common venue spellings that do not match our closed set directly.
		switch strings.ToLower(venueTag) {
		case "political", "us-politics", "elections":
			return types.CategoryPolitics
		case "cryptocurrency", "digital-assets":
			return types.CategoryCrypto
		case "economy", "finance", "financials":
			return types.CategoryEconomics
		case "entertainment", "pop-culture":
			return types.CategoryCulture
		}
	}

	q := strings.ToLower(question)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.cat
			}
		}
	}
	return types.CategoryOther
}
