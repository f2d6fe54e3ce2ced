package costopt

import (
	"fmt"

	"github.com/omniroute/omniroute/pkg/routing"
)

// latencySampleWindow bounds how many recent executions feed the
// average-latency estimate per adapter.
const latencySampleWindow = 100

// Choice is the outcome of an OptimalAdapter selection. OK is false when
// no adapter qualifies; Reasoning explains the pick in one line.
type Choice struct {
	OK        bool                `json:"ok"`
	Adapter   routing.AdapterKind `json:"adapter,omitempty"`
	Selected  CostAwareChoice     `json:"selected,omitempty"`
	Frontier  []CostAwareChoice   `json:"frontier,omitempty"`
	Strategy  Strategy            `json:"strategy"`
	Reasoning string              `json:"reasoning"`
}

// OptimalAdapter picks the best adapter for a task kind under the given
// strategy. Adapters violating an active budget are flagged, scored
// zero, and excluded from the frontier. An empty strategy selects the
// task kind's default profile.
func (o *Optimizer) OptimalAdapter(kind routing.TaskKind, strategy Strategy) Choice {
	if strategy == "" {
		strategy = o.StrategyFor(kind)
	}

	weights := strategy.Weights()

	var choices []CostAwareChoice

	for _, adapter := range routing.AllAdapters() {
		stats, ok := o.src.AdapterStatsFor(adapter)
		if !ok {
			continue
		}

		latency := o.averageLatency(adapter, kind)
		cost := o.EstimateCost(adapter, latency)
		costF, _ := cost.Float64()

		choice := CostAwareChoice{
			Adapter:     adapter,
			CostUSD:     cost,
			LatencyMS:   latency,
			SuccessRate: stats.SuccessRate(),
		}

		if !o.CheckBudgetConstraints(adapter, kind).OK {
			choice.BudgetViolated = true
			choice.Score = 0
		} else {
			choice.Score = weights.Success*choice.SuccessRate +
				weights.Cost*costScore(costF) +
				weights.Latency*latencyScore(latency, o.cfg.MaxLatencyMS)
		}

		choices = append(choices, choice)
	}

	eligible := make([]CostAwareChoice, 0, len(choices))

	for _, choice := range choices {
		if !choice.BudgetViolated {
			eligible = append(eligible, choice)
		}
	}

	if len(eligible) == 0 {
		return Choice{
			OK:        false,
			Strategy:  strategy,
			Reasoning: fmt.Sprintf("Strategy: %s | no adapter qualifies", strategy),
		}
	}

	frontier := ParetoFrontier(eligible)

	best := frontier[0]
	for _, choice := range frontier[1:] {
		if choice.Score > best.Score {
			best = choice
		}
	}

	costF, _ := best.CostUSD.Float64()

	return Choice{
		OK:       true,
		Adapter:  best.Adapter,
		Selected: best,
		Frontier: frontier,
		Strategy: strategy,
		Reasoning: fmt.Sprintf(
			"Strategy: %s | Pareto frontier: %d adapters | Success rate: %.1f%% | Cost: $%.6f | Latency: %.0f ms",
			strategy, len(frontier), best.SuccessRate*100, costF, best.LatencyMS),
	}
}

// averageLatency estimates an adapter's latency for a task kind from the
// most recent executions, falling back to the adapter's overall average
// and then to half the SLA cap when no data exists.
func (o *Optimizer) averageLatency(adapter routing.AdapterKind, kind routing.TaskKind) float64 {
	recent := o.src.RecentExecutions(0)

	var sum, sumAll float64

	var n, nAll int

	for idx := len(recent) - 1; idx >= 0 && n < latencySampleWindow; idx-- {
		rec := recent[idx]
		if rec.Adapter != adapter {
			continue
		}

		sumAll += rec.LatencyMS
		nAll++

		if rec.TaskKind == kind {
			sum += rec.LatencyMS
			n++
		}
	}

	if n > 0 {
		return sum / float64(n)
	}

	if nAll > 0 {
		return sumAll / float64(nAll)
	}

	return o.cfg.MaxLatencyMS / 2
}
