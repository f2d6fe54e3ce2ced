// Package metrics defines the abstract emission surface for the routing
// core. Components emit through an Emitter; the Prometheus-shaped
// implementation lives in internal/observability, and Nop serves tests
// and metric-disabled deployments.
package metrics

import (
	"context"

	"github.com/omniroute/omniroute/pkg/routing"
)

// ABEvent classifies experiment lifecycle emissions.
type ABEvent string

// Experiment events.
const (
	ABStarted    ABEvent = "started"
	ABAssignedA  ABEvent = "assigned_a"
	ABAssignedB  ABEvent = "assigned_b"
	ABCompleted  ABEvent = "completed"
	ABRolledBack ABEvent = "rolled_back"
)

// Emitter is the metric-emission contract of the core. Implementations
// must be safe for concurrent use and idempotent to construct: creating
// the same instrument twice returns the existing handle.
type Emitter interface {
	// RecordDecision counts a routing decision for the top-ranked adapter.
	RecordDecision(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind)

	// RecordExecution counts one adapter attempt and observes its latency.
	RecordExecution(ctx context.Context, adapter routing.AdapterKind, status routing.ExecutionStatus, latencySeconds float64)

	// RecordRoutingDuration observes total dispatch wall time.
	RecordRoutingDuration(ctx context.Context, seconds float64)

	// RecordFallback counts one hop from a failed adapter to the next.
	RecordFallback(ctx context.Context, original, fallback routing.AdapterKind)

	// RecordChainLength observes the number of adapters attempted.
	RecordChainLength(ctx context.Context, length int)

	// RecordCost counts accrued cost and observes its distribution.
	RecordCost(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind, usd float64)

	// RecordCostCurrent gauges the current accrued cost for a budget kind.
	RecordCostCurrent(ctx context.Context, budget routing.BudgetKind, usd float64)

	// RecordBudgetAlert counts a budget alert emission.
	RecordBudgetAlert(ctx context.Context, budget routing.BudgetKind, severity routing.Severity)

	// RecordABEvent counts an experiment lifecycle or assignment event.
	RecordABEvent(ctx context.Context, experimentID string, event ABEvent)

	// AddABActive adjusts the active-experiments gauge.
	AddABActive(ctx context.Context, delta int)
}

// Nop is an Emitter that discards everything.
type Nop struct{}

// RecordDecision implements Emitter.
func (Nop) RecordDecision(context.Context, routing.AdapterKind, routing.TaskKind) {}

// RecordExecution implements Emitter.
func (Nop) RecordExecution(context.Context, routing.AdapterKind, routing.ExecutionStatus, float64) {}

// RecordRoutingDuration implements Emitter.
func (Nop) RecordRoutingDuration(context.Context, float64) {}

// RecordFallback implements Emitter.
func (Nop) RecordFallback(context.Context, routing.AdapterKind, routing.AdapterKind) {}

// RecordChainLength implements Emitter.
func (Nop) RecordChainLength(context.Context, int) {}

// RecordCost implements Emitter.
func (Nop) RecordCost(context.Context, routing.AdapterKind, routing.TaskKind, float64) {}

// RecordCostCurrent implements Emitter.
func (Nop) RecordCostCurrent(context.Context, routing.BudgetKind, float64) {}

// RecordBudgetAlert implements Emitter.
func (Nop) RecordBudgetAlert(context.Context, routing.BudgetKind, routing.Severity) {}

// RecordABEvent implements Emitter.
func (Nop) RecordABEvent(context.Context, string, ABEvent) {}

// AddABActive implements Emitter.
func (Nop) AddABActive(context.Context, int) {}
