// Package routing defines the shared data model for the adaptive routing
// core: adapter and task identifiers, execution records, rolling adapter
// statistics, preference orders, budgets, experiments, and alerts.
package routing

// AdapterKind identifies an execution backend.
type AdapterKind string

// Known execution backends. Additions must also touch the default scoring
// weights and the default cost table.
const (
	AdapterPrefect    AdapterKind = "prefect"
	AdapterAgno       AdapterKind = "agno"
	AdapterLlamaIndex AdapterKind = "llamaindex"
)

// AllAdapters returns the configured adapter set in static default order.
func AllAdapters() []AdapterKind {
	return []AdapterKind{AdapterPrefect, AdapterAgno, AdapterLlamaIndex}
}

// Valid reports whether the adapter kind is a member of the closed set.
func (a AdapterKind) Valid() bool {
	switch a {
	case AdapterPrefect, AdapterAgno, AdapterLlamaIndex:
		return true
	default:
		return false
	}
}

// Ordinal returns the position of the adapter in the static default order.
// Unknown adapters sort last. Used as the final tie-break when scores and
// latencies are equal, keeping preference orders stable.
func (a AdapterKind) Ordinal() int {
	for idx, kind := range AllAdapters() {
		if kind == a {
			return idx
		}
	}

	return len(AllAdapters())
}

// TaskKind classifies a dispatched task. Each kind maps to a default
// scoring profile and a default cost strategy.
type TaskKind string

// Known task classes.
const (
	TaskWorkflow TaskKind = "workflow"
	TaskAI       TaskKind = "ai_task"
	TaskRAGQuery TaskKind = "rag_query"
)

// AllTaskKinds returns the closed set of task classes.
func AllTaskKinds() []TaskKind {
	return []TaskKind{TaskWorkflow, TaskAI, TaskRAGQuery}
}

// Valid reports whether the task kind is a member of the closed set.
func (t TaskKind) Valid() bool {
	switch t {
	case TaskWorkflow, TaskAI, TaskRAGQuery:
		return true
	default:
		return false
	}
}

// ExecutionStatus is the terminal state of a single adapter attempt.
type ExecutionStatus string

// Terminal execution states.
const (
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Confidence buckets a sample size into a coarse reliability tier.
type Confidence string

// Confidence tiers over sample counts.
const (
	ConfidenceHigh         Confidence = "high"
	ConfidenceMedium       Confidence = "medium"
	ConfidenceLow          Confidence = "low"
	ConfidenceInsufficient Confidence = "insufficient"
)

// Sample thresholds for the confidence tiers.
const (
	HighConfidenceSamples   = 100
	MediumConfidenceSamples = 50
	LowConfidenceSamples    = 20
)

// ConfidenceForSamples maps a sample count onto its confidence tier.
func ConfidenceForSamples(n int) Confidence {
	switch {
	case n >= HighConfidenceSamples:
		return ConfidenceHigh
	case n >= MediumConfidenceSamples:
		return ConfidenceMedium
	case n >= LowConfidenceSamples:
		return ConfidenceLow
	default:
		return ConfidenceInsufficient
	}
}

// Variant tags a preference order produced under an A/B experiment.
type Variant string

// Experiment variants.
const (
	VariantA    Variant = "A"
	VariantB    Variant = "B"
	VariantNone Variant = "none"
)
