// Package costopt tracks cumulative execution cost with exact decimal
// arithmetic, enforces budget constraints, and produces cost-aware
// adapter choices via Pareto-frontier filtering.
package costopt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/routing"
)

// Defaults for optimizer construction.
const (
	DefaultMaxLatencyMS    = 5000
	DefaultMonitorInterval = time.Minute
)

// Construction errors.
var (
	// ErrNegativeCostRate indicates a negative per-second cost rate.
	ErrNegativeCostRate = errors.New("cost rate must be non-negative")
)

// defaultCostRates is the static USD-per-second table. Overridable at
// construction; rates reflect typical backend pricing as of mid 2026.
func defaultCostRates() map[routing.AdapterKind]decimal.Decimal {
	return map[routing.AdapterKind]decimal.Decimal{
		routing.AdapterPrefect:    decimal.NewFromFloat(1e-4),
		routing.AdapterAgno:       decimal.NewFromFloat(2e-4),
		routing.AdapterLlamaIndex: decimal.NewFromFloat(5e-5),
	}
}

// Source provides the statistics the optimizer chooses from.
type Source interface {
	AdapterStatsFor(adapter routing.AdapterKind) (routing.AdapterStats, bool)
	RecentExecutions(limit int) []routing.ExecutionRecord
}

// AlertFunc receives budget and threshold alerts raised by the optimizer.
type AlertFunc func(routing.Alert)

// Config holds optimizer knobs. Zero values select the documented
// defaults.
type Config struct {
	// CostRates overrides the per-adapter USD-per-second table. Missing
	// adapters fall back to the static defaults.
	CostRates map[routing.AdapterKind]decimal.Decimal
	// DefaultStrategy applies when a task kind has no profile mapping.
	DefaultStrategy Strategy
	// MaxLatencyMS is the SLA cap used by latency scoring.
	MaxLatencyMS float64
	// MonitorInterval is the budget monitor cadence.
	MonitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyBatch
	}

	if c.MaxLatencyMS == 0 {
		c.MaxLatencyMS = DefaultMaxLatencyMS
	}

	if c.MonitorInterval == 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}

	return c
}

// accrualKey identifies one cost accumulator: UTC date plus scope.
type accrualKey struct {
	date    string
	adapter routing.AdapterKind
	kind    routing.TaskKind
}

// Optimizer owns cost accrual, budgets, and cost-aware selection.
// All methods are safe for concurrent use.
type Optimizer struct {
	cfg     Config
	logger  *slog.Logger
	src     Source
	emitter metrics.Emitter
	alertFn AlertFunc
	rates   map[routing.AdapterKind]decimal.Decimal

	accrualMu sync.Mutex
	accrual   map[accrualKey]decimal.Decimal

	budgetMu sync.Mutex
	budgets  []routing.Budget

	lifecycleMu sync.Mutex
	cancel      func()
	done        chan struct{}
}

// New creates a cost optimizer over the given statistics source. The
// emitter and alert function may be nil.
func New(cfg Config, src Source, emitter metrics.Emitter, alertFn AlertFunc, logger *slog.Logger) (*Optimizer, error) {
	cfg = cfg.withDefaults()

	rates := defaultCostRates()

	for adapter, rate := range cfg.CostRates {
		if rate.IsNegative() {
			return nil, ErrNegativeCostRate
		}

		rates[adapter] = rate
	}

	if emitter == nil {
		emitter = metrics.Nop{}
	}

	if alertFn == nil {
		alertFn = func(routing.Alert) {}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Optimizer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "costopt")),
		src:     src,
		emitter: emitter,
		alertFn: alertFn,
		rates:   rates,
		accrual: make(map[accrualKey]decimal.Decimal),
	}, nil
}

// CostRate returns the USD-per-second rate for an adapter.
func (o *Optimizer) CostRate(adapter routing.AdapterKind) decimal.Decimal {
	if rate, ok := o.rates[adapter]; ok {
		return rate
	}

	return decimal.Zero
}

// EstimateCost computes the cost of a single execution at the given
// latency. Exact decimal arithmetic throughout.
func (o *Optimizer) EstimateCost(adapter routing.AdapterKind, latencyMS float64) decimal.Decimal {
	seconds := decimal.NewFromFloat(latencyMS).Div(decimal.NewFromInt(1000))

	return o.CostRate(adapter).Mul(seconds)
}

// TrackExecutionCost accrues the cost of one completed execution under
// today's UTC date and emits a cost sample. Accruals only ever grow.
func (o *Optimizer) TrackExecutionCost(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind, executionID string, latencyMS float64) decimal.Decimal {
	cost := o.EstimateCost(adapter, latencyMS)

	key := accrualKey{
		date:    time.Now().UTC().Format("2006-01-02"),
		adapter: adapter,
		kind:    kind,
	}

	o.accrualMu.Lock()
	o.accrual[key] = o.accrual[key].Add(cost)
	o.accrualMu.Unlock()

	usd, _ := cost.Float64()
	o.emitter.RecordCost(ctx, adapter, kind, usd)

	o.logger.Debug("execution cost tracked",
		slog.String("execution_id", executionID),
		slog.String("adapter", string(adapter)),
		slog.String("cost_usd", cost.String()))

	return cost
}

// TotalAccrued sums every accrual entry. The alert manager samples this
// for cost-spike detection.
func (o *Optimizer) TotalAccrued() decimal.Decimal {
	o.accrualMu.Lock()
	defer o.accrualMu.Unlock()

	total := decimal.Zero
	for _, amount := range o.accrual {
		total = total.Add(amount)
	}

	return total
}

// spentWithin sums accruals matching the budget's scope whose date falls
// inside the budget's effective window. Per-day accruals fold into any
// period shape.
func (o *Optimizer) spentWithin(budget *routing.Budget) decimal.Decimal {
	winStart, winEnd := budget.Window(time.Now().UTC())
	start := winStart.UTC().Format("2006-01-02")
	end := winEnd.UTC().Format("2006-01-02")

	o.accrualMu.Lock()
	defer o.accrualMu.Unlock()

	spent := decimal.Zero

	for key, amount := range o.accrual {
		if key.date < start || key.date > end {
			continue
		}

		if !budget.Matches(key.adapter, key.kind) {
			continue
		}

		spent = spent.Add(amount)
	}

	return spent
}

// AddBudget registers a budget after validation.
func (o *Optimizer) AddBudget(budget routing.Budget) error {
	err := budget.Validate()
	if err != nil {
		return err
	}

	o.budgetMu.Lock()
	o.budgets = append(o.budgets, budget)
	o.budgetMu.Unlock()

	return nil
}

// Budgets returns a snapshot of the registered budgets.
func (o *Optimizer) Budgets() []routing.Budget {
	o.budgetMu.Lock()
	defer o.budgetMu.Unlock()

	out := make([]routing.Budget, len(o.budgets))
	copy(out, o.budgets)

	return out
}

// BudgetStatus reports consumption of one budget at the current instant.
func (o *Optimizer) BudgetStatus(budget routing.Budget) routing.BudgetStatus {
	spent := o.spentWithin(&budget)
	remaining := budget.LimitUSD.Sub(spent)

	pct := 0.0
	if budget.LimitUSD.IsPositive() {
		pct, _ = spent.Div(budget.LimitUSD).Mul(decimal.NewFromInt(100)).Float64()
	}

	return routing.BudgetStatus{
		Budget:    budget,
		LimitUSD:  budget.LimitUSD,
		SpentUSD:  spent,
		Remaining: remaining,
		PctUsed:   pct,
		Active:    budget.Active(time.Now().UTC()),
		Over:      spent.GreaterThan(budget.LimitUSD),
	}
}

// ConstraintResult is the outcome of a budget constraint check.
type ConstraintResult struct {
	OK       bool             `json:"ok"`
	Violated []routing.Budget `json:"violated,omitempty"`
}

// CheckBudgetConstraints reports whether any active budget scoped to
// (adapter, kind) is spent past its limit. A budget merely approaching
// its alert threshold raises a warning but is not a violation.
func (o *Optimizer) CheckBudgetConstraints(adapter routing.AdapterKind, kind routing.TaskKind) ConstraintResult {
	now := time.Now().UTC()
	result := ConstraintResult{OK: true}

	for _, budget := range o.Budgets() {
		if !budget.Active(now) || !budget.Matches(adapter, kind) {
			continue
		}

		status := o.BudgetStatus(budget)

		if status.Over {
			result.OK = false
			result.Violated = append(result.Violated, budget)

			continue
		}

		if status.PctUsed >= budget.Threshold()*100 {
			o.raiseBudgetAlert(status, routing.SeverityWarning)
		}
	}

	return result
}

// raiseBudgetAlert emits a budget alert through the alert function and
// the metrics surface.
func (o *Optimizer) raiseBudgetAlert(status routing.BudgetStatus, severity routing.Severity) {
	spent, _ := status.SpentUSD.Float64()
	limit, _ := status.LimitUSD.Float64()

	o.alertFn(routing.Alert{
		Kind:           routing.AlertBudgetExceeded,
		Severity:       severity,
		Message:        "budget " + status.Budget.Name + " at " + status.SpentUSD.StringFixed(4) + " of " + status.LimitUSD.StringFixed(4) + " USD",
		Adapter:        status.Budget.Adapter,
		CurrentValue:   spent,
		ThresholdValue: limit,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			"budget_name": status.Budget.Name,
			"budget_kind": string(status.Budget.Kind),
			"pct_used":    status.PctUsed,
		},
	})

	o.emitter.RecordBudgetAlert(context.Background(), status.Budget.Kind, severity)
}
