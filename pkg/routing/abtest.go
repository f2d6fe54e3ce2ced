package routing

import (
	"errors"
	"time"
)

// ExperimentStatus is the lifecycle state of an A/B routing experiment.
type ExperimentStatus string

// Experiment lifecycle states.
const (
	ExperimentRunning    ExperimentStatus = "running"
	ExperimentCompleted  ExperimentStatus = "completed"
	ExperimentRolledBack ExperimentStatus = "rolled_back"
	ExperimentAbandoned  ExperimentStatus = "abandoned"
)

// Winner is the declared outcome of a completed experiment.
type Winner string

// Experiment outcomes.
const (
	WinnerA            Winner = "A"
	WinnerB            Winner = "B"
	WinnerInconclusive Winner = "inconclusive"
	WinnerNone         Winner = "none"
)

// Experiment validation errors.
var (
	// ErrInvalidTrafficSplit indicates a split outside [0, 1].
	ErrInvalidTrafficSplit = errors.New("traffic split must be within [0, 1]")
	// ErrVariantTaskMismatch indicates the two variants cover different task kinds.
	ErrVariantTaskMismatch = errors.New("experiment variants must cover the same task kind")
)

// Experiment pairs two preference orders for one task kind under a
// traffic split. TrafficSplit is the fraction of dispatches routed to
// variant B.
type Experiment struct {
	ID           string           `json:"experiment_id"`
	TaskKind     TaskKind         `json:"task_kind"`
	VariantA     PreferenceOrder  `json:"variant_a"`
	VariantB     PreferenceOrder  `json:"variant_b"`
	TrafficSplit float64          `json:"traffic_split"`
	Status       ExperimentStatus `json:"status"`
	Winner       Winner           `json:"winner"`
	StartedAt    time.Time        `json:"started_at"`
	EndsAt       time.Time        `json:"ends_at"`
	CompletedAt  time.Time        `json:"completed_at,omitempty"`
}

// Validate checks experiment construction invariants.
func (e *Experiment) Validate() error {
	if e.TrafficSplit < 0 || e.TrafficSplit > 1 {
		return ErrInvalidTrafficSplit
	}

	if e.VariantA.TaskKind != e.VariantB.TaskKind {
		return ErrVariantTaskMismatch
	}

	return nil
}
