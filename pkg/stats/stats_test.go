package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
	"github.com/omniroute/omniroute/pkg/stats"
)

// fakeSource serves canned stats and latency records.
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

func newStatsRouter(t *testing.T, cfg stats.Config, src stats.Source, snk sink.Sink) *stats.Router {
	t.Helper()

	r, err := stats.New(cfg, src, snk, nil, nil)
	require.NoError(t, err)

	return r
}

func adapterRecord(adapter routing.AdapterKind, kind routing.TaskKind, latencyMS float64) routing.ExecutionRecord {
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

func TestPreferenceOrder_IsPermutation(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 90, FailureCount: 10},
	}}
	r := newStatsRouter(t, stats.Config{}, src, nil)

	order := r.PreferenceOrder(routing.TaskWorkflow)

	require.Len(t, order.Adapters, len(routing.AllAdapters()))

	seen := make(map[routing.AdapterKind]bool)
	for _, adapter := range order.Adapters {
		assert.False(t, seen[adapter])
		seen[adapter] = true
	}
}

func TestPreferenceOrder_HigherSuccessRateFirst(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 50, FailureCount: 50},
		routing.AdapterAgno:    {Adapter: routing.AdapterAgno, SuccessCount: 98, FailureCount: 2},
	}}
	r := newStatsRouter(t, stats.Config{}, src, nil)

	order := r.PreferenceOrder(routing.TaskWorkflow)

	require.NotEmpty(t, order.Adapters)
	assert.Equal(t, routing.AdapterAgno, order.Adapters[0])

	agno := order.Scores[routing.AdapterAgno]
	prefect := order.Scores[routing.AdapterPrefect]
	assert.Greater(t, agno.CombinedScore, prefect.CombinedScore)
}

func TestPreferenceOrder_NoDataFallsBackToStaticOrder(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)

	order := r.PreferenceOrder(routing.TaskRAGQuery)

	assert.Equal(t, routing.AllAdapters(), order.Adapters)
	assert.Equal(t, routing.ConfidenceInsufficient, order.Confidence)
	assert.Empty(t, order.Scores)
}

func TestPreferenceOrder_UnscoredAppendedAfterScored(t *testing.T) {
	t.Parallel()

	// Only llamaindex has data; the other two trail in static order.
	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterLlamaIndex: {Adapter: routing.AdapterLlamaIndex, SuccessCount: 80, FailureCount: 20},
	}}
	r := newStatsRouter(t, stats.Config{}, src, nil)

	order := r.PreferenceOrder(routing.TaskRAGQuery)

	expected := []routing.AdapterKind{
		routing.AdapterLlamaIndex,
		routing.AdapterPrefect,
		routing.AdapterAgno,
	}
	assert.Equal(t, expected, order.Adapters)
}

func TestPreferenceOrder_LatencyBreaksNearTies(t *testing.T) {
	t.Parallel()

	// Equal success rates; rag_query weighs speed at 0.5, so the faster
	// adapter must lead.
	src := &fakeSource{
		stats: map[routing.AdapterKind]routing.AdapterStats{
			routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 90, FailureCount: 10},
			routing.AdapterAgno:    {Adapter: routing.AdapterAgno, SuccessCount: 90, FailureCount: 10},
		},
		recent: []routing.ExecutionRecord{
			adapterRecord(routing.AdapterPrefect, routing.TaskRAGQuery, 8000),
			adapterRecord(routing.AdapterAgno, routing.TaskRAGQuery, 120),
		},
	}
	r := newStatsRouter(t, stats.Config{}, src, nil)

	order := r.PreferenceOrder(routing.TaskRAGQuery)

	require.NotEmpty(t, order.Adapters)
	assert.Equal(t, routing.AdapterAgno, order.Adapters[0])
}

func TestPreferenceOrder_CachedUntilInvalidated(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 95, FailureCount: 5},
	}}
	r := newStatsRouter(t, stats.Config{}, src, nil)

	first := r.PreferenceOrder(routing.TaskWorkflow)
	require.Equal(t, routing.AdapterPrefect, first.Adapters[0])

	// Shift the data under the cache; the served order must not move.
	src.stats[routing.AdapterAgno] = routing.AdapterStats{
		Adapter: routing.AdapterAgno, SuccessCount: 100,
	}

	cached := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, first.Adapters, cached.Adapters)

	r.InvalidateCache()

	fresh := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, routing.AdapterAgno, fresh.Adapters[0])
}

func TestPreferenceOrder_WithoutMinimumSamples(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterAgno: {Adapter: routing.AdapterAgno, SuccessCount: 1},
	}}
	r := newStatsRouter(t, stats.Config{}.WithoutMinimumSamples(), src, nil)

	order := r.PreferenceOrder(routing.TaskAI)

	require.NotEmpty(t, order.Adapters)
	assert.Equal(t, routing.AdapterAgno, order.Adapters[0])
	assert.Contains(t, order.Scores, routing.AdapterAgno)
}

func TestRecalculate_WritesScoringSnapshot(t *testing.T) {
	t.Parallel()

	mem := sink.NewMemory()
	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 80, FailureCount: 20},
	}}
	r := newStatsRouter(t, stats.Config{}, src, mem)

	require.NoError(t, r.Recalculate(context.Background()))

	scorings := mem.Scorings()
	require.Len(t, scorings, 1)
	assert.Len(t, scorings[0].Orders, len(routing.AllTaskKinds()))
}

func experimentVariants(kind routing.TaskKind) (routing.PreferenceOrder, routing.PreferenceOrder) {
	variantA := routing.PreferenceOrder{
		TaskKind: kind,
		Adapters: []routing.AdapterKind{routing.AdapterPrefect, routing.AdapterAgno, routing.AdapterLlamaIndex},
	}
	variantB := routing.PreferenceOrder{
		TaskKind: kind,
		Adapters: []routing.AdapterKind{routing.AdapterAgno, routing.AdapterPrefect, routing.AdapterLlamaIndex},
	}

	return variantA, variantB
}

func TestStartExperiment_DuplicateID(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-1", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	_, err = r.StartExperiment("exp-1", variantA, variantB, 0.5, time.Hour)
	assert.ErrorIs(t, err, stats.ErrExperimentExists)
}

func TestSelectVariant_Deterministic(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-det", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	first, expID, ok := r.SelectVariant(routing.TaskWorkflow, "execution-42")
	require.True(t, ok)
	assert.Equal(t, "exp-det", expID)

	for range 10 {
		again, _, ok := r.SelectVariant(routing.TaskWorkflow, "execution-42")
		require.True(t, ok)
		assert.Equal(t, first.Variant, again.Variant)
	}
}

func TestSelectVariant_SplitExtremes(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskAI)

	variantA.TaskKind = routing.TaskAI
	variantB.TaskKind = routing.TaskAI

	_, err := r.StartExperiment("exp-all-b", variantA, variantB, 1.0, time.Hour)
	require.NoError(t, err)

	for _, id := range []string{"x", "y", "z"} {
		order, _, ok := r.SelectVariant(routing.TaskAI, id)
		require.True(t, ok)
		assert.Equal(t, routing.VariantB, order.Variant)
	}
}

func TestSelectVariant_NoExperimentForKind(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)

	_, _, ok := r.SelectVariant(routing.TaskRAGQuery, "execution-1")
	assert.False(t, ok)
}

func TestEvaluateExperiment_ClearWinner(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-eval", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	for range 40 {
		r.RecordOutcome("exp-eval", routing.VariantA, true, 200)
		r.RecordOutcome("exp-eval", routing.VariantB, false, 900)
	}

	eval, err := r.EvaluateExperiment("exp-eval")
	require.NoError(t, err)
	assert.Equal(t, 40, eval.SamplesA)
	assert.Equal(t, 40, eval.SamplesB)
	assert.Less(t, eval.SuccessPValue, 0.05)
	assert.Equal(t, routing.WinnerA, eval.Suggested)
}

func TestEvaluateExperiment_TooFewSamplesInconclusive(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-small", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	for range 10 {
		r.RecordOutcome("exp-small", routing.VariantA, true, 200)
		r.RecordOutcome("exp-small", routing.VariantB, false, 900)
	}

	eval, err := r.EvaluateExperiment("exp-small")
	require.NoError(t, err)
	assert.Equal(t, routing.WinnerInconclusive, eval.Suggested)
}

func TestCompleteExperiment_PinsWinnerUntilRecalculation(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: map[routing.AdapterKind]routing.AdapterStats{
		routing.AdapterPrefect: {Adapter: routing.AdapterPrefect, SuccessCount: 100},
	}}
	r := newStatsRouter(t, stats.Config{}, src, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-pin", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	exp, err := r.CompleteExperiment("exp-pin", routing.WinnerB)
	require.NoError(t, err)
	assert.Equal(t, routing.ExperimentCompleted, exp.Status)
	assert.Equal(t, routing.WinnerB, exp.Winner)

	pinned := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, variantB.Adapters, pinned.Adapters)
	assert.Equal(t, routing.VariantB, pinned.Variant)

	require.NoError(t, r.Recalculate(context.Background()))

	fresh := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, routing.AdapterPrefect, fresh.Adapters[0])
	assert.Equal(t, routing.VariantNone, fresh.Variant)
}

func TestCompleteExperiment_InconclusiveKeepsIncumbent(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-inc", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	_, err = r.CompleteExperiment("exp-inc", routing.WinnerInconclusive)
	require.NoError(t, err)

	pinned := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, variantA.Adapters, pinned.Adapters)
}

func TestCompleteExperiment_Terminal(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-term", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	_, err = r.CompleteExperiment("exp-term", routing.WinnerA)
	require.NoError(t, err)

	_, err = r.CompleteExperiment("exp-term", routing.WinnerB)
	assert.ErrorIs(t, err, stats.ErrExperimentNotRunning)

	_, err = r.CompleteExperiment("missing", routing.WinnerA)
	assert.ErrorIs(t, err, stats.ErrExperimentNotFound)
}

func TestRollBackExperiment_NoOverride(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-rb", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	exp, err := r.RollBackExperiment("exp-rb")
	require.NoError(t, err)
	assert.Equal(t, routing.ExperimentRolledBack, exp.Status)
	assert.Equal(t, routing.WinnerNone, exp.Winner)

	// Routing reverts to the computed order, not a pinned variant.
	order := r.PreferenceOrder(routing.TaskWorkflow)
	assert.Equal(t, routing.VariantNone, order.Variant)

	_, _, ok := r.SelectVariant(routing.TaskWorkflow, "execution-1")
	assert.False(t, ok)
}

func TestEvaluateExperiment_TerminalIsReadOnly(t *testing.T) {
	t.Parallel()

	r := newStatsRouter(t, stats.Config{}, &fakeSource{}, nil)
	variantA, variantB := experimentVariants(routing.TaskWorkflow)

	_, err := r.StartExperiment("exp-ro", variantA, variantB, 0.5, time.Hour)
	require.NoError(t, err)

	r.RecordOutcome("exp-ro", routing.VariantA, true, 100)

	_, err = r.CompleteExperiment("exp-ro", routing.WinnerA)
	require.NoError(t, err)

	eval, err := r.EvaluateExperiment("exp-ro")
	require.NoError(t, err)
	assert.Equal(t, routing.WinnerA, eval.Winner)
	assert.Equal(t, routing.ExperimentCompleted, eval.Status)

	// Outcomes recorded after completion are dropped.
	r.RecordOutcome("exp-ro", routing.VariantA, true, 100)

	again, err := r.EvaluateExperiment("exp-ro")
	require.NoError(t, err)
	assert.Equal(t, eval.SamplesA, again.SamplesA)
}
