package routing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/pkg/routing"
)

func validBudget() routing.Budget {
	now := time.Now().UTC()

	return routing.Budget{
		Name:        "daily-cap",
		Kind:        routing.BudgetDaily,
		LimitUSD:    decimal.NewFromFloat(10),
		PeriodStart: now,
		PeriodEnd:   now.Add(24 * time.Hour),
	}
}

func TestBudget_Validate(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	require.NoError(t, budget.Validate())
}

func TestBudget_InvalidKind(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	budget.Kind = "yearly"

	assert.ErrorIs(t, budget.Validate(), routing.ErrInvalidBudgetKind)
}

func TestBudget_NegativeLimit(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	budget.LimitUSD = decimal.NewFromFloat(-5)

	assert.ErrorIs(t, budget.Validate(), routing.ErrNegativeLimit)
}

func TestBudget_InvertedPeriod(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	budget.PeriodEnd = budget.PeriodStart.Add(-time.Hour)

	assert.ErrorIs(t, budget.Validate(), routing.ErrInvalidPeriod)
}

func TestBudget_InvalidPeriodDays(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	budget.PeriodDays = 14

	assert.ErrorIs(t, budget.Validate(), routing.ErrInvalidPeriodDays)
}

func TestBudget_ActiveClosedInterval(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	budget := validBudget()
	budget.PeriodStart = now
	budget.PeriodEnd = now

	assert.True(t, budget.Active(now))
	assert.False(t, budget.Active(now.Add(time.Nanosecond)))
	assert.False(t, budget.Active(now.Add(-time.Nanosecond)))
}

func TestBudget_RecurringPeriodDays(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	budget := validBudget()
	budget.Kind = routing.BudgetWeekly
	budget.PeriodStart = start
	budget.PeriodEnd = time.Time{}
	budget.PeriodDays = 7

	require.NoError(t, budget.Validate())

	assert.False(t, budget.Active(start.Add(-time.Hour)))
	assert.True(t, budget.Active(start))
	// The window recurs indefinitely from the start.
	assert.True(t, budget.Active(start.AddDate(0, 0, 40)))
}

func TestBudget_WindowRollsForward(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	budget.PeriodStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	budget.PeriodEnd = time.Time{}
	budget.PeriodDays = 7

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	winStart, winEnd := budget.Window(now)
	assert.Equal(t, time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC), winStart)
	assert.True(t, winEnd.After(now))
	assert.True(t, winEnd.Before(winStart.AddDate(0, 0, 7)))

	// Before the first window opens, the first window is reported.
	winStart, _ = budget.Window(time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, budget.PeriodStart, winStart)
}

func TestBudget_WindowExplicitBoundsUnchanged(t *testing.T) {
	t.Parallel()

	budget := validBudget()

	winStart, winEnd := budget.Window(time.Now().UTC())
	assert.Equal(t, budget.PeriodStart, winStart)
	assert.Equal(t, budget.PeriodEnd, winEnd)
}

func TestBudget_ThresholdDefault(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	assert.InDelta(t, 0.9, budget.Threshold(), 1e-9)

	budget.AlertThreshold = 0.75
	assert.InDelta(t, 0.75, budget.Threshold(), 1e-9)
}

func TestBudget_Matches(t *testing.T) {
	t.Parallel()

	budget := validBudget()
	assert.True(t, budget.Matches(routing.AdapterPrefect, routing.TaskWorkflow))

	budget.Adapter = routing.AdapterAgno
	assert.False(t, budget.Matches(routing.AdapterPrefect, routing.TaskWorkflow))
	assert.True(t, budget.Matches(routing.AdapterAgno, routing.TaskRAGQuery))

	budget.TaskKind = routing.TaskRAGQuery
	assert.False(t, budget.Matches(routing.AdapterAgno, routing.TaskWorkflow))
}

func TestExperiment_Validate(t *testing.T) {
	t.Parallel()

	exp := routing.Experiment{
		ID:           "exp-1",
		TaskKind:     routing.TaskWorkflow,
		VariantA:     routing.PreferenceOrder{TaskKind: routing.TaskWorkflow},
		VariantB:     routing.PreferenceOrder{TaskKind: routing.TaskWorkflow},
		TrafficSplit: 0.5,
	}
	require.NoError(t, exp.Validate())

	exp.TrafficSplit = 1.5
	assert.ErrorIs(t, exp.Validate(), routing.ErrInvalidTrafficSplit)

	exp.TrafficSplit = 0.5
	exp.VariantB.TaskKind = routing.TaskRAGQuery
	assert.ErrorIs(t, exp.Validate(), routing.ErrVariantTaskMismatch)
}
