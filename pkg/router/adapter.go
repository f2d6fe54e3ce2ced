// Package router is the single dispatch entry point. It combines the
// statistical router and the cost optimizer to pick an adapter chain,
// executes with bounded retry and fallback, and emits the routing
// metric set.
package router

import (
	"context"

	"github.com/omniroute/omniroute/pkg/routing"
)

// Task is the unit of work handed to an adapter.
type Task struct {
	Kind        routing.TaskKind `json:"task_kind"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
}

// ExecuteResult is what an adapter returns on success. Output is opaque
// to the core.
type ExecuteResult struct {
	Output map[string]any `json:"output,omitempty"`
}

// HealthState is an adapter's self-reported condition.
type HealthState string

// Health states.
const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthReport carries an adapter's health state and free-form details.
type HealthReport struct {
	Status  HealthState    `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Adapter is an execution backend. Implementations are opaque to the
// core; only this surface is assumed.
type Adapter interface {
	// Execute runs the task. It must honor ctx cancellation.
	Execute(ctx context.Context, task Task, repos []string) (ExecuteResult, error)
	// Health reports the adapter's current condition.
	Health(ctx context.Context) HealthReport
}

// Initializer is an optional adapter lifecycle hook run before first use.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Shutdowner is an optional adapter lifecycle hook run on router stop.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}
