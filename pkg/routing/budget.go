package routing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// BudgetKind scopes a spending limit to a rolling window shape.
type BudgetKind string

// Budget window shapes.
const (
	BudgetDaily       BudgetKind = "daily"
	BudgetWeekly      BudgetKind = "weekly"
	BudgetMonthly     BudgetKind = "monthly"
	BudgetPerTaskType BudgetKind = "per_task_type"
)

// DefaultAlertThreshold is the budget fraction that raises a warning.
const DefaultAlertThreshold = 0.9

// Allowed period lengths, in days, when a budget is built from a period
// length instead of explicit bounds.
var allowedPeriodDays = map[int]struct{}{7: {}, 30: {}, 90: {}, 365: {}}

// Budget validation errors.
var (
	// ErrInvalidBudgetKind indicates an unrecognized budget kind.
	ErrInvalidBudgetKind = errors.New("invalid budget kind")
	// ErrNegativeLimit indicates a negative spending limit.
	ErrNegativeLimit = errors.New("budget limit must be non-negative")
	// ErrInvalidPeriod indicates period_end precedes period_start.
	ErrInvalidPeriod = errors.New("budget period end precedes start")
	// ErrInvalidPeriodDays indicates a period length outside {7, 30, 90, 365}.
	ErrInvalidPeriodDays = errors.New("budget period days must be one of 7, 30, 90, 365")
	// ErrInvalidThreshold indicates an alert threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("budget alert threshold must be within [0, 1]")
)

// Budget is a spending limit over a closed time window, optionally scoped
// to a single adapter and/or task kind.
type Budget struct {
	Name           string          `json:"name" yaml:"name"`
	Kind           BudgetKind      `json:"kind" yaml:"kind"`
	LimitUSD       decimal.Decimal `json:"limit_usd" yaml:"limit_usd"`
	Adapter        AdapterKind     `json:"adapter,omitempty" yaml:"adapter,omitempty"`
	TaskKind       TaskKind        `json:"task_kind,omitempty" yaml:"task_kind,omitempty"`
	PeriodStart    time.Time       `json:"period_start" yaml:"period_start"`
	PeriodEnd      time.Time       `json:"period_end" yaml:"period_end"`
	PeriodDays     int             `json:"period_days,omitempty" yaml:"period_days,omitempty"`
	AlertThreshold float64         `json:"alert_threshold" yaml:"alert_threshold"`
}

// Validate checks budget invariants.
func (b *Budget) Validate() error {
	switch b.Kind {
	case BudgetDaily, BudgetWeekly, BudgetMonthly, BudgetPerTaskType:
	default:
		return ErrInvalidBudgetKind
	}

	if b.LimitUSD.IsNegative() {
		return ErrNegativeLimit
	}

	if b.PeriodDays != 0 {
		if _, ok := allowedPeriodDays[b.PeriodDays]; !ok {
			return ErrInvalidPeriodDays
		}
	}

	// A recurring budget derives its end from PeriodDays; only explicit
	// bounds must be ordered.
	if !b.PeriodEnd.IsZero() || b.PeriodDays == 0 {
		if b.PeriodEnd.Before(b.PeriodStart) {
			return ErrInvalidPeriod
		}
	}

	if b.AlertThreshold < 0 || b.AlertThreshold > 1 {
		return ErrInvalidThreshold
	}

	return nil
}

// Window returns the effective closed period bounds at now. Explicit
// bounds are returned as configured. A budget built from PeriodDays
// recurs: successive PeriodDays-long windows roll forward from
// PeriodStart, and the one covering now (or the first, before the
// start) is returned.
func (b *Budget) Window(now time.Time) (time.Time, time.Time) {
	if b.PeriodDays == 0 || !b.PeriodEnd.IsZero() {
		return b.PeriodStart, b.PeriodEnd
	}

	start := b.PeriodStart
	end := start.AddDate(0, 0, b.PeriodDays)

	for !now.Before(end) {
		start = end
		end = start.AddDate(0, 0, b.PeriodDays)
	}

	return start, end.Add(-time.Second)
}

// Active reports whether now falls inside the budget's effective period.
func (b *Budget) Active(now time.Time) bool {
	start, end := b.Window(now)

	return !now.Before(start) && !now.After(end)
}

// Threshold returns the configured alert threshold, defaulting to 0.9.
func (b *Budget) Threshold() float64 {
	if b.AlertThreshold == 0 {
		return DefaultAlertThreshold
	}

	return b.AlertThreshold
}

// Matches reports whether an accrual under (adapter, task kind) falls
// within the budget's scope. Empty scope fields match everything.
func (b *Budget) Matches(adapter AdapterKind, kind TaskKind) bool {
	if b.Adapter != "" && b.Adapter != adapter {
		return false
	}

	if b.TaskKind != "" && b.TaskKind != kind {
		return false
	}

	return true
}

// BudgetStatus is a point-in-time view of budget consumption.
type BudgetStatus struct {
	Budget    Budget          `json:"budget"`
	LimitUSD  decimal.Decimal `json:"limit_usd"`
	SpentUSD  decimal.Decimal `json:"spent_usd"`
	Remaining decimal.Decimal `json:"remaining_usd"`
	PctUsed   float64         `json:"pct_used"`
	Active    bool            `json:"active"`
	Over      bool            `json:"over"`
}
