package costopt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/pkg/costopt"
	"github.com/omniroute/omniroute/pkg/routing"
)

type fakeSource struct {
	stats  map[routing.AdapterKind]routing.AdapterStats
	recent []routing.ExecutionRecord
}

func (f *fakeSource) AdapterStatsFor(adapter routing.AdapterKind) (routing.AdapterStats, bool) {
	s, ok := f.stats[adapter]

	return s, ok
}

func (f *fakeSource) RecentExecutions(int) []routing.ExecutionRecord {
	return f.recent
}

// alertCapture collects alerts raised through the optimizer's AlertFunc.
type alertCapture struct {
	mu     sync.Mutex
	alerts []routing.Alert
}

func (c *alertCapture) record(alert routing.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alerts = append(c.alerts, alert)
}

func (c *alertCapture) all() []routing.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]routing.Alert, len(c.alerts))
	copy(out, c.alerts)

	return out
}

func newOptimizer(t *testing.T, cfg costopt.Config, src costopt.Source, alertFn costopt.AlertFunc) *costopt.Optimizer {
	t.Helper()

	opt, err := costopt.New(cfg, src, nil, alertFn, nil)
	require.NoError(t, err)

	return opt
}

func latencyRecord(adapter routing.AdapterKind, kind routing.TaskKind, latencyMS float64) routing.ExecutionRecord {
	now := time.Now().UTC()

	return routing.ExecutionRecord{
		ExecutionID: "rec",
		Adapter:     adapter,
		TaskKind:    kind,
		StartTS:     now.Add(-time.Second),
		EndTS:       now,
		Status:      routing.StatusSuccess,
		LatencyMS:   latencyMS,
	}
}

func TestEstimateCost_Exact(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	cost := opt.EstimateCost(routing.AdapterPrefect, 1500)
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.00015)), "got %s", cost)

	cost = opt.EstimateCost(routing.AdapterLlamaIndex, 2000)
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.0001)), "got %s", cost)
}

func TestEstimateCost_MonotonicInLatency(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	prev := decimal.Zero

	for _, latency := range []float64{100, 500, 1000, 5000, 60000} {
		cost := opt.EstimateCost(routing.AdapterAgno, latency)
		assert.True(t, cost.GreaterThan(prev), "cost must grow with latency")
		prev = cost
	}
}

func TestCostRate_Override(t *testing.T) {
	t.Parallel()

	override := decimal.NewFromFloat(0.003)
	opt := newOptimizer(t, costopt.Config{
		CostRates: map[routing.AdapterKind]decimal.Decimal{
			routing.AdapterPrefect: override,
		},
	}, &fakeSource{}, nil)

	assert.True(t, opt.CostRate(routing.AdapterPrefect).Equal(override))
	// Untouched adapters keep the static defaults.
	assert.True(t, opt.CostRate(routing.AdapterAgno).Equal(decimal.NewFromFloat(2e-4)))
}

func TestNew_NegativeRate(t *testing.T) {
	t.Parallel()

	_, err := costopt.New(costopt.Config{
		CostRates: map[routing.AdapterKind]decimal.Decimal{
			routing.AdapterPrefect: decimal.NewFromFloat(-1),
		},
	}, &fakeSource{}, nil, nil, nil)

	assert.ErrorIs(t, err, costopt.ErrNegativeCostRate)
}

func TestStrategyWeights_SumToOne(t *testing.T) {
	t.Parallel()

	for _, strategy := range []costopt.Strategy{
		costopt.StrategyInteractive,
		costopt.StrategyBatch,
		costopt.StrategyCritical,
	} {
		w := strategy.Weights()
		assert.InDelta(t, 1.0, w.Success+w.Cost+w.Latency, 1e-9, "strategy %s", strategy)
	}
}

func TestStrategy_UnknownFallsBackToBatch(t *testing.T) {
	t.Parallel()

	assert.False(t, costopt.Strategy("express").Valid())
	assert.Equal(t, costopt.StrategyBatch.Weights(), costopt.Strategy("express").Weights())
}

func TestStrategyFor_TaskProfiles(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	assert.Equal(t, costopt.StrategyBatch, opt.StrategyFor(routing.TaskWorkflow))
	assert.Equal(t, costopt.StrategyCritical, opt.StrategyFor(routing.TaskAI))
	assert.Equal(t, costopt.StrategyInteractive, opt.StrategyFor(routing.TaskRAGQuery))
	assert.Equal(t, costopt.StrategyBatch, opt.StrategyFor(routing.TaskKind("batch_import")))
}

func TestParetoFrontier_RemovesDominated(t *testing.T) {
	t.Parallel()

	cheap := costopt.CostAwareChoice{
		Adapter: routing.AdapterLlamaIndex,
		CostUSD: decimal.NewFromFloat(0.0001), LatencyMS: 500, SuccessRate: 0.90,
	}
	dominated := costopt.CostAwareChoice{
		Adapter: routing.AdapterPrefect,
		CostUSD: decimal.NewFromFloat(0.0002), LatencyMS: 900, SuccessRate: 0.85,
	}
	reliable := costopt.CostAwareChoice{
		Adapter: routing.AdapterAgno,
		CostUSD: decimal.NewFromFloat(0.0004), LatencyMS: 700, SuccessRate: 0.99,
	}

	frontier := costopt.ParetoFrontier([]costopt.CostAwareChoice{cheap, dominated, reliable})

	require.Len(t, frontier, 2)
	assert.Equal(t, routing.AdapterLlamaIndex, frontier[0].Adapter)
	assert.Equal(t, routing.AdapterAgno, frontier[1].Adapter)
}

func TestParetoFrontier_IdenticalChoicesAllSurvive(t *testing.T) {
	t.Parallel()

	choice := costopt.CostAwareChoice{
		CostUSD: decimal.NewFromFloat(0.0001), LatencyMS: 500, SuccessRate: 0.90,
	}

	frontier := costopt.ParetoFrontier([]costopt.CostAwareChoice{choice, choice})
	assert.Len(t, frontier, 2)
}

func TestOptimalAdapter_PicksHighestScoreOnFrontier(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		stats: map[routing.AdapterKind]routing.AdapterStats{
			routing.AdapterPrefect:    {Adapter: routing.AdapterPrefect, SuccessCount: 95, FailureCount: 5},
			routing.AdapterAgno:       {Adapter: routing.AdapterAgno, SuccessCount: 90, FailureCount: 10},
			routing.AdapterLlamaIndex: {Adapter: routing.AdapterLlamaIndex, SuccessCount: 80, FailureCount: 20},
		},
		recent: []routing.ExecutionRecord{
			latencyRecord(routing.AdapterPrefect, routing.TaskWorkflow, 1000),
			latencyRecord(routing.AdapterAgno, routing.TaskWorkflow, 500),
			latencyRecord(routing.AdapterLlamaIndex, routing.TaskWorkflow, 2000),
		},
	}
	opt := newOptimizer(t, costopt.Config{}, src, nil)

	choice := opt.OptimalAdapter(routing.TaskWorkflow, "")

	require.True(t, choice.OK)
	assert.Equal(t, routing.AdapterPrefect, choice.Adapter)
	assert.Equal(t, costopt.StrategyBatch, choice.Strategy)
	assert.Equal(t,
		"Strategy: batch | Pareto frontier: 2 adapters | Success rate: 95.0% | Cost: $0.000100 | Latency: 1000 ms",
		choice.Reasoning)

	for _, member := range choice.Frontier {
		assert.False(t, member.BudgetViolated)
	}
}

func TestOptimalAdapter_NoData(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	choice := opt.OptimalAdapter(routing.TaskAI, "")

	assert.False(t, choice.OK)
	assert.Equal(t, "Strategy: critical | no adapter qualifies", choice.Reasoning)
}

func TestOptimalAdapter_BudgetViolationExcludes(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 99, FailureCount: 1},
		routing.AdapterAgno:    {Adapter: routing.AdapterAgno, SuccessCount: 70, FailureCount: 30},
	}}
	opt := newOptimizer(t, costopt.Config{}, src, nil)

	now := time.Now().UTC()
	require.NoError(t, opt.AddBudget(routing.Budget{
		Name:        "prefect-cap",
		Kind:        routing.BudgetDaily,
		Adapter:     routing.AdapterPrefect,
		LimitUSD:    decimal.NewFromFloat(0.5),
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}))

	// 10,000 s at 1e-4 USD/s blows the 0.50 cap.
	opt.TrackExecutionCost(context.Background(), routing.AdapterPrefect, routing.TaskWorkflow, "exec-1", 10_000_000)

	choice := opt.OptimalAdapter(routing.TaskWorkflow, "")

	require.True(t, choice.OK)
	assert.Equal(t, routing.AdapterAgno, choice.Adapter)

	for _, member := range choice.Frontier {
		assert.NotEqual(t, routing.AdapterPrefect, member.Adapter)
	}
}

func TestTrackExecutionCost_Accrues(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	first := opt.TrackExecutionCost(context.Background(), routing.AdapterAgno, routing.TaskAI, "exec-1", 1000)
	second := opt.TrackExecutionCost(context.Background(), routing.AdapterAgno, routing.TaskAI, "exec-2", 2000)

	assert.True(t, opt.TotalAccrued().Equal(first.Add(second)))
}

func TestBudgetStatus_Reporting(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	now := time.Now().UTC()
	budget := routing.Budget{
		Name:        "daily",
		Kind:        routing.BudgetDaily,
		LimitUSD:    decimal.NewFromFloat(1),
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}
	require.NoError(t, opt.AddBudget(budget))

	// 2,500 s at 2e-4 USD/s accrues 0.50 against a 1.00 limit.
	opt.TrackExecutionCost(context.Background(), routing.AdapterAgno, routing.TaskAI, "exec-1", 2_500_000)

	status := opt.BudgetStatus(budget)

	assert.True(t, status.SpentUSD.Equal(decimal.NewFromFloat(0.5)), "got %s", status.SpentUSD)
	assert.True(t, status.Remaining.Equal(decimal.NewFromFloat(0.5)))
	assert.InDelta(t, 50, status.PctUsed, 1e-6)
	assert.True(t, status.Active)
	assert.False(t, status.Over)
}

func TestBudgetStatus_RecurringPeriod(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	// A weekly budget defined by period length only; the window covering
	// today is the fifth since the start.
	budget := routing.Budget{
		Name:        "weekly-rolling",
		Kind:        routing.BudgetWeekly,
		LimitUSD:    decimal.NewFromFloat(1),
		PeriodStart: time.Now().UTC().AddDate(0, 0, -30),
		PeriodDays:  7,
	}
	require.NoError(t, opt.AddBudget(budget))

	opt.TrackExecutionCost(context.Background(), routing.AdapterAgno, routing.TaskAI, "exec-1", 2_500_000)

	status := opt.BudgetStatus(budget)

	assert.True(t, status.Active)
	assert.True(t, status.SpentUSD.Equal(decimal.NewFromFloat(0.5)), "got %s", status.SpentUSD)
	assert.InDelta(t, 50, status.PctUsed, 1e-6)
}

func TestCheckBudgetConstraints_Violation(t *testing.T) {
	t.Parallel()

	capture := &alertCapture{}
	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, capture.record)

	now := time.Now().UTC()
	budget := routing.Budget{
		Name:        "tight",
		Kind:        routing.BudgetDaily,
		LimitUSD:    decimal.NewFromFloat(0.1),
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}
	require.NoError(t, opt.AddBudget(budget))

	opt.TrackExecutionCost(context.Background(), routing.AdapterPrefect, routing.TaskWorkflow, "exec-1", 2_000_000)

	result := opt.CheckBudgetConstraints(routing.AdapterPrefect, routing.TaskWorkflow)

	assert.False(t, result.OK)
	require.Len(t, result.Violated, 1)
	assert.Equal(t, "tight", result.Violated[0].Name)
}

func TestCheckBudgetConstraints_ThresholdWarning(t *testing.T) {
	t.Parallel()

	capture := &alertCapture{}
	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, capture.record)

	now := time.Now().UTC()
	require.NoError(t, opt.AddBudget(routing.Budget{
		Name:        "warned",
		Kind:        routing.BudgetDaily,
		LimitUSD:    decimal.NewFromFloat(1),
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}))

	// 9,500 s at 1e-4 USD/s lands at 95% of the limit: past the default
	// 90% threshold but not over.
	opt.TrackExecutionCost(context.Background(), routing.AdapterPrefect, routing.TaskWorkflow, "exec-1", 9_500_000)

	result := opt.CheckBudgetConstraints(routing.AdapterPrefect, routing.TaskWorkflow)
	assert.True(t, result.OK)

	alerts := capture.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, routing.AlertBudgetExceeded, alerts[0].Kind)
	assert.Equal(t, routing.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "warned", alerts[0].Metadata["budget_name"])
}

func TestCheckBudgetConstraints_ScopedBudgetIgnored(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	now := time.Now().UTC()
	require.NoError(t, opt.AddBudget(routing.Budget{
		Name:        "agno-only",
		Kind:        routing.BudgetDaily,
		Adapter:     routing.AdapterAgno,
		LimitUSD:    decimal.NewFromFloat(0.0001),
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}))

	opt.TrackExecutionCost(context.Background(), routing.AdapterAgno, routing.TaskAI, "exec-1", 1_000_000)

	// The agno budget is blown, but prefect dispatches are unconstrained.
	assert.True(t, opt.CheckBudgetConstraints(routing.AdapterPrefect, routing.TaskWorkflow).OK)
	assert.False(t, opt.CheckBudgetConstraints(routing.AdapterAgno, routing.TaskAI).OK)
}

func TestAddBudget_Invalid(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, costopt.Config{}, &fakeSource{}, nil)

	err := opt.AddBudget(routing.Budget{Name: "bad", Kind: "yearly"})
	assert.ErrorIs(t, err, routing.ErrInvalidBudgetKind)
	assert.Empty(t, opt.Budgets())
}
