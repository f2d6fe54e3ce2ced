package costopt

import (
	"github.com/shopspring/decimal"

	"github.com/omniroute/omniroute/pkg/routing"
)

// CostAwareChoice is one adapter's position in the cost/latency/success
// objective space, plus its strategy score.
type CostAwareChoice struct {
	Adapter        routing.AdapterKind `json:"adapter"`
	CostUSD        decimal.Decimal     `json:"cost_usd"`
	LatencyMS      float64             `json:"latency_ms"`
	SuccessRate    float64             `json:"success_rate"`
	Score          float64             `json:"score"`
	BudgetViolated bool                `json:"budget_violated,omitempty"`
}

// dominates reports whether a is strictly better than b in at least one
// objective and no worse in the rest. Lower is better for cost and
// latency; higher is better for success rate.
func dominates(a, b CostAwareChoice) bool {
	costCmp := a.CostUSD.Cmp(b.CostUSD)

	if costCmp > 0 || a.LatencyMS > b.LatencyMS || a.SuccessRate < b.SuccessRate {
		return false
	}

	return costCmp < 0 || a.LatencyMS < b.LatencyMS || a.SuccessRate > b.SuccessRate
}

// ParetoFrontier returns the subset of choices not dominated by any
// other choice. Order is preserved.
func ParetoFrontier(choices []CostAwareChoice) []CostAwareChoice {
	frontier := make([]CostAwareChoice, 0, len(choices))

	for i, candidate := range choices {
		dominated := false

		for j, other := range choices {
			if i == j {
				continue
			}

			if dominates(other, candidate) {
				dominated = true

				break
			}
		}

		if !dominated {
			frontier = append(frontier, candidate)
		}
	}

	return frontier
}
