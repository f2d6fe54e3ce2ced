package costopt

import "github.com/omniroute/omniroute/pkg/routing"

// Strategy selects the weighting profile for cost-aware scoring.
type Strategy string

// Scoring strategies. Each profile's three weights sum to 1.0.
const (
	// StrategyInteractive balances all three objectives for user-facing
	// work.
	StrategyInteractive Strategy = "interactive"
	// StrategyBatch weighs success almost exclusively; latency is free.
	StrategyBatch Strategy = "batch"
	// StrategyCritical ignores cost entirely.
	StrategyCritical Strategy = "critical"
)

// StrategyWeights holds one profile's objective weighting.
type StrategyWeights struct {
	Success float64
	Cost    float64
	Latency float64
}

var strategyWeights = map[Strategy]StrategyWeights{
	StrategyInteractive: {Success: 0.50, Cost: 0.25, Latency: 0.25},
	StrategyBatch:       {Success: 0.90, Cost: 0.10, Latency: 0.00},
	StrategyCritical:    {Success: 0.80, Cost: 0.00, Latency: 0.20},
}

// taskStrategies maps task kinds onto their default profiles. User-facing
// retrieval is interactive; AI tasks must not be abandoned for cost.
var taskStrategies = map[routing.TaskKind]Strategy{
	routing.TaskWorkflow: StrategyBatch,
	routing.TaskAI:       StrategyCritical,
	routing.TaskRAGQuery: StrategyInteractive,
}

// Valid reports whether the strategy names a known profile.
func (s Strategy) Valid() bool {
	_, ok := strategyWeights[s]

	return ok
}

// Weights returns the profile's weighting; unknown strategies fall back
// to batch.
func (s Strategy) Weights() StrategyWeights {
	if w, ok := strategyWeights[s]; ok {
		return w
	}

	return strategyWeights[StrategyBatch]
}

// StrategyFor returns the default profile for a task kind, falling back
// to the configured default.
func (o *Optimizer) StrategyFor(kind routing.TaskKind) Strategy {
	if s, ok := taskStrategies[kind]; ok {
		return s
	}

	return o.cfg.DefaultStrategy
}

// costScoreDivisor normalizes per-call cost onto [0, 1]: one cent or
// more scores zero.
const costScoreDivisor = 0.01

// costScore maps a per-call USD cost onto [0, 1], cheaper is better.
func costScore(costUSD float64) float64 {
	return routing.Clamp01(1 - costUSD/costScoreDivisor)
}

// latencyScore maps latency onto [0, 1] against the SLA cap.
func latencyScore(latencyMS, maxLatencyMS float64) float64 {
	if maxLatencyMS <= 0 {
		return 0
	}

	return routing.Clamp01(1 - latencyMS/maxLatencyMS)
}
