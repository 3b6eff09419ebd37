// instructions.go renders an arbitrage opportunity into a human-readable
// execution plan. Pure function of the opportunity; no I/O.
package arb

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketfuse/pkg/types"
)

// Instructions is the rendered three-step plan for one opportunity.
type Instructions struct {
	Steps       []string `json:"steps"`
	Summary     string   `json:"summary"`
	Explanation string   `json:"explanation"`
	Cautions    []string `json:"cautions,omitempty"`
}

// BuildInstructions turns an opportunity into a three-step plan plus
// summary, explanation, and cautions. Two cautions are mandatory: thin
// profits warn about fees, outsized profits warn about data accuracy.
func BuildInstructions(opp types.ArbitrageOpportunity) Instructions {
	total := decimal.NewFromFloat(opp.TotalCost)
	perDollar := decimal.NewFromInt(1).Sub(total).Mul(decimal.NewFromInt(100)).Round(1)

	steps := []string{
		fmt.Sprintf("Buy YES on %s at $%.2f", opp.YesBuy.Venue, opp.YesBuy.Price),
		fmt.Sprintf("Sell YES on %s at $%.2f", opp.NoSell.Venue, opp.NoSell.Price),
		fmt.Sprintf("Collect %s¢ per $1 at resolution", perDollar.String()),
	}

	summary := fmt.Sprintf(
		"Buy YES on %s at $%.2f and NO on %s at $%.2f for a combined $%.2f, locking in %.2f%% before fees.",
		opp.YesBuy.Venue, opp.YesBuy.Price,
		opp.NoSell.Venue, opp.NoSell.Price,
		opp.TotalCost, opp.ProfitPct,
	)

	explanation := fmt.Sprintf(
		"Exactly one side pays $1 at resolution. Holding both sides costs $%.2f, "+
			"so the $1 payout guarantees $%.2f profit per contract regardless of the outcome.",
		opp.TotalCost, 1-opp.TotalCost,
	)

	var cautions []string
	if opp.ProfitPct < 3 {
		cautions = append(cautions, "Profit margin is thin: venue fees may exhaust it entirely.")
	}
	if opp.ProfitPct > 10 {
		cautions = append(cautions, "Unusually large edge: verify both venues' data accuracy before committing funds.")
	}
	cautions = append(cautions,
		"Prices move between detection and execution; re-check both legs immediately before trading.",
	)

	return Instructions{
		Steps:       steps,
		Summary:     summary,
		Explanation: explanation,
		Cautions:    cautions,
	}
}
