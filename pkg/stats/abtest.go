package stats

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/routing"
)

// Experiment errors.
var (
	// ErrExperimentExists indicates a duplicate experiment ID.
	ErrExperimentExists = errors.New("experiment already exists")
	// ErrExperimentNotFound indicates an unknown experiment ID.
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrExperimentNotRunning indicates a terminal experiment cannot change.
	ErrExperimentNotRunning = errors.New("experiment is not running")
)

// variantOutcomes accumulates per-variant observations for evaluation.
type variantOutcomes struct {
	successes int
	failures  int
	latencies []float64
}

func (v *variantOutcomes) samples() int {
	return v.successes + v.failures
}

func (v *variantOutcomes) successRate() float64 {
	n := v.samples()
	if n == 0 {
		return 0
	}

	return float64(v.successes) / float64(n)
}

type experimentState struct {
	exp      routing.Experiment
	outcomes map[routing.Variant]*variantOutcomes
}

// Evaluation is the interim or final statistical read of an experiment.
type Evaluation struct {
	ExperimentID  string                   `json:"experiment_id"`
	Status        routing.ExperimentStatus `json:"status"`
	SamplesA      int                      `json:"samples_a"`
	SamplesB      int                      `json:"samples_b"`
	SuccessRateA  float64                  `json:"success_rate_a"`
	SuccessRateB  float64                  `json:"success_rate_b"`
	SuccessPValue float64                  `json:"success_p_value"`
	LatencyPValue float64                  `json:"latency_p_value"`
	Suggested     routing.Winner           `json:"suggested_winner"`
	Winner        routing.Winner           `json:"winner,omitempty"`
}

// significanceLevel is the two-sided threshold for declaring a winner.
const significanceLevel = 0.05

// minEvaluationSamples is the per-variant floor below which the
// evaluation stays inconclusive regardless of the test statistics.
const minEvaluationSamples = 30

// StartExperiment registers a running experiment. The ID must be unique
// across the router's lifetime; reusing one fails with
// ErrExperimentExists even after the original completes.
func (r *Router) StartExperiment(id string, variantA, variantB routing.PreferenceOrder, trafficSplit float64, duration time.Duration) (routing.Experiment, error) {
	exp := routing.Experiment{
		ID:           id,
		TaskKind:     variantA.TaskKind,
		VariantA:     variantA,
		VariantB:     variantB,
		TrafficSplit: trafficSplit,
		Status:       routing.ExperimentRunning,
		Winner:       routing.WinnerNone,
		StartedAt:    time.Now().UTC(),
	}
	exp.EndsAt = exp.StartedAt.Add(duration)
	exp.VariantA.Variant = routing.VariantA
	exp.VariantB.Variant = routing.VariantB

	err := exp.Validate()
	if err != nil {
		return routing.Experiment{}, fmt.Errorf("validate experiment %q: %w", id, err)
	}

	r.expMu.Lock()
	defer r.expMu.Unlock()

	if _, ok := r.experiments[id]; ok {
		return routing.Experiment{}, fmt.Errorf("start experiment %q: %w", id, ErrExperimentExists)
	}

	r.experiments[id] = &experimentState{
		exp: exp,
		outcomes: map[routing.Variant]*variantOutcomes{
			routing.VariantA: {},
			routing.VariantB: {},
		},
	}

	r.emitter.RecordABEvent(context.Background(), id, metrics.ABStarted)
	r.emitter.AddABActive(context.Background(), 1)

	return exp, nil
}

// SelectVariant returns the preference order an execution should use
// under a running experiment for the kind. Assignment is a pure function
// of the execution ID, so retries of the same execution land on the same
// variant. The third return is false when no running experiment covers
// the kind; callers fall back to PreferenceOrder.
func (r *Router) SelectVariant(kind routing.TaskKind, executionID string) (routing.PreferenceOrder, string, bool) {
	r.expMu.Lock()
	defer r.expMu.Unlock()

	for id, state := range r.experiments {
		if state.exp.Status != routing.ExperimentRunning || state.exp.TaskKind != kind {
			continue
		}

		if assignToB(executionID, state.exp.TrafficSplit) {
			r.emitter.RecordABEvent(context.Background(), id, metrics.ABAssignedB)

			return state.exp.VariantB, id, true
		}

		r.emitter.RecordABEvent(context.Background(), id, metrics.ABAssignedA)

		return state.exp.VariantA, id, true
	}

	return routing.PreferenceOrder{}, "", false
}

// assignToB hashes the execution ID onto [0, 1) and compares it against
// the traffic split (the fraction routed to B).
func assignToB(executionID string, split float64) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(executionID))

	bucket := float64(h.Sum64()%10000) / 10000

	return bucket < split
}

// RecordOutcome feeds one dispatch result back into a running
// experiment. Unknown IDs and terminal experiments are ignored.
func (r *Router) RecordOutcome(experimentID string, variant routing.Variant, success bool, latencyMS float64) {
	r.expMu.Lock()
	defer r.expMu.Unlock()

	state, ok := r.experiments[experimentID]
	if !ok || state.exp.Status != routing.ExperimentRunning {
		return
	}

	outcomes, ok := state.outcomes[variant]
	if !ok {
		return
	}

	if success {
		outcomes.successes++
	} else {
		outcomes.failures++
	}

	outcomes.latencies = append(outcomes.latencies, latencyMS)
}

// EvaluateExperiment returns the current statistical read without
// changing experiment state. It is valid on terminal experiments too;
// the recorded winner is carried through.
func (r *Router) EvaluateExperiment(id string) (Evaluation, error) {
	r.expMu.Lock()
	defer r.expMu.Unlock()

	state, ok := r.experiments[id]
	if !ok {
		return Evaluation{}, fmt.Errorf("evaluate experiment %q: %w", id, ErrExperimentNotFound)
	}

	a := state.outcomes[routing.VariantA]
	b := state.outcomes[routing.VariantB]

	eval := Evaluation{
		ExperimentID:  id,
		Status:        state.exp.Status,
		SamplesA:      a.samples(),
		SamplesB:      b.samples(),
		SuccessRateA:  a.successRate(),
		SuccessRateB:  b.successRate(),
		SuccessPValue: twoProportionPValue(a.successes, a.samples(), b.successes, b.samples()),
		LatencyPValue: mannWhitneyPValue(a.latencies, b.latencies),
		Suggested:     routing.WinnerInconclusive,
		Winner:        state.exp.Winner,
	}

	if eval.SamplesA >= minEvaluationSamples && eval.SamplesB >= minEvaluationSamples &&
		eval.SuccessPValue < significanceLevel {
		if eval.SuccessRateB > eval.SuccessRateA {
			eval.Suggested = routing.WinnerB
		} else {
			eval.Suggested = routing.WinnerA
		}
	}

	return eval, nil
}

// CompleteExperiment moves a running experiment to its terminal state and
// pins the covered task kind to the winning variant until the next
// recalculation. An inconclusive winner keeps variant A, the incumbent.
// Completing a terminal experiment fails with ErrExperimentNotRunning.
func (r *Router) CompleteExperiment(id string, winner routing.Winner) (routing.Experiment, error) {
	r.expMu.Lock()

	state, ok := r.experiments[id]
	if !ok {
		r.expMu.Unlock()

		return routing.Experiment{}, fmt.Errorf("complete experiment %q: %w", id, ErrExperimentNotFound)
	}

	if state.exp.Status != routing.ExperimentRunning {
		exp := state.exp
		r.expMu.Unlock()

		return exp, fmt.Errorf("complete experiment %q: %w", id, ErrExperimentNotRunning)
	}

	state.exp.Status = routing.ExperimentCompleted
	state.exp.Winner = winner
	state.exp.CompletedAt = time.Now().UTC()

	winning := state.exp.VariantA
	if winner == routing.WinnerB {
		winning = state.exp.VariantB
	}

	exp := state.exp
	r.expMu.Unlock()

	r.cacheMu.Lock()
	r.overrides[exp.TaskKind] = winning
	r.cacheMu.Unlock()

	r.emitter.RecordABEvent(context.Background(), id, metrics.ABCompleted)
	r.emitter.AddABActive(context.Background(), -1)

	r.logger.Info("experiment completed",
		"experiment_id", id,
		"winner", string(winner),
		"task_kind", string(exp.TaskKind))

	return exp, nil
}

// RollBackExperiment abandons a running experiment without pinning any
// variant. Routing reverts to the computed order immediately.
func (r *Router) RollBackExperiment(id string) (routing.Experiment, error) {
	r.expMu.Lock()

	state, ok := r.experiments[id]
	if !ok {
		r.expMu.Unlock()

		return routing.Experiment{}, fmt.Errorf("roll back experiment %q: %w", id, ErrExperimentNotFound)
	}

	if state.exp.Status != routing.ExperimentRunning {
		exp := state.exp
		r.expMu.Unlock()

		return exp, fmt.Errorf("roll back experiment %q: %w", id, ErrExperimentNotRunning)
	}

	state.exp.Status = routing.ExperimentRolledBack
	state.exp.Winner = routing.WinnerNone
	state.exp.CompletedAt = time.Now().UTC()
	exp := state.exp
	r.expMu.Unlock()

	r.emitter.RecordABEvent(context.Background(), id, metrics.ABRolledBack)
	r.emitter.AddABActive(context.Background(), -1)

	return exp, nil
}

// Experiment returns a snapshot of an experiment by ID.
func (r *Router) Experiment(id string) (routing.Experiment, error) {
	r.expMu.Lock()
	defer r.expMu.Unlock()

	state, ok := r.experiments[id]
	if !ok {
		return routing.Experiment{}, fmt.Errorf("experiment %q: %w", id, ErrExperimentNotFound)
	}

	return state.exp, nil
}

// twoProportionPValue is the two-sided pooled z-test on success rates.
// Degenerate inputs (an empty variant, or a pooled rate of exactly 0 or
// 1) return 1.0, never a significant result.
func twoProportionPValue(successA, nA, successB, nB int) float64 {
	if nA == 0 || nB == 0 {
		return 1
	}

	pA := float64(successA) / float64(nA)
	pB := float64(successB) / float64(nB)
	pooled := float64(successA+successB) / float64(nA+nB)

	variance := pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB))
	if variance <= 0 {
		return 1
	}

	z := (pA - pB) / math.Sqrt(variance)

	return 2 * (1 - normalCDF(math.Abs(z)))
}

// mannWhitneyPValue is the normal-approximation Mann-Whitney U test on
// the two latency samples. It makes no distributional assumption about
// the latencies themselves.
func mannWhitneyPValue(a, b []float64) float64 {
	nA, nB := len(a), len(b)
	if nA == 0 || nB == 0 {
		return 1
	}

	// U counts pairwise wins for a; ties count half.
	var u float64

	for _, x := range a {
		for _, y := range b {
			switch {
			case x < y:
				u++
			case x == y:
				u += 0.5
			}
		}
	}

	mean := float64(nA) * float64(nB) / 2
	stddev := math.Sqrt(float64(nA) * float64(nB) * float64(nA+nB+1) / 12)

	if stddev == 0 {
		return 1
	}

	z := (u - mean) / stddev

	return 2 * (1 - normalCDF(math.Abs(z)))
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
