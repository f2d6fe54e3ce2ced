package routing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/pkg/routing"
)

func validRecord() routing.ExecutionRecord {
	now := time.Now().UTC()

	return routing.ExecutionRecord{
		ExecutionID: "0198e1d2-aaaa-7bbb-8ccc-000000000001",
		Adapter:     routing.AdapterPrefect,
		TaskKind:    routing.TaskWorkflow,
		StartTS:     now.Add(-time.Second),
		EndTS:       now,
		Status:      routing.StatusSuccess,
		LatencyMS:   1000,
	}
}

func TestExecutionRecord_Validate(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	require.NoError(t, rec.Validate())
}

func TestExecutionRecord_EndBeforeStart(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.EndTS = rec.StartTS.Add(-time.Minute)

	assert.ErrorIs(t, rec.Validate(), routing.ErrEndBeforeStart)
}

func TestExecutionRecord_NegativeLatency(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.LatencyMS = -1

	assert.ErrorIs(t, rec.Validate(), routing.ErrNegativeLatency)
}

func TestExecutionRecord_ErrorFieldsOnSuccess(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	rec.ErrorType = "transient"

	assert.ErrorIs(t, rec.Validate(), routing.ErrErrorOnSuccess)
}

func TestExecutionRecord_NegativeCost(t *testing.T) {
	t.Parallel()

	rec := validRecord()
	cost := decimal.NewFromFloat(-0.01)
	rec.CostUSD = &cost

	assert.ErrorIs(t, rec.Validate(), routing.ErrNegativeCost)
}

func TestAdapterStats_Totals(t *testing.T) {
	t.Parallel()

	stats := routing.AdapterStats{
		Adapter:      routing.AdapterAgno,
		SuccessCount: 92,
		FailureCount: 8,
	}

	assert.Equal(t, int64(100), stats.Total())
	assert.InDelta(t, 0.92, stats.SuccessRate(), 1e-9)
}

func TestAdapterStats_EmptySuccessRate(t *testing.T) {
	t.Parallel()

	assert.Zero(t, routing.AdapterStats{}.SuccessRate())
}

func TestConfidenceForSamples(t *testing.T) {
	t.Parallel()

	assert.Equal(t, routing.ConfidenceHigh, routing.ConfidenceForSamples(100))
	assert.Equal(t, routing.ConfidenceMedium, routing.ConfidenceForSamples(50))
	assert.Equal(t, routing.ConfidenceLow, routing.ConfidenceForSamples(20))
	assert.Equal(t, routing.ConfidenceInsufficient, routing.ConfidenceForSamples(19))
}

func TestWeightsFor(t *testing.T) {
	t.Parallel()

	workflow := routing.WeightsFor(routing.TaskWorkflow)
	assert.InDelta(t, 0.9, workflow.Success, 1e-9)
	assert.InDelta(t, 0.1, workflow.Speed, 1e-9)

	rag := routing.WeightsFor(routing.TaskRAGQuery)
	assert.InDelta(t, 0.5, rag.Success, 1e-9)
	assert.InDelta(t, 0.5, rag.Speed, 1e-9)

	unknown := routing.WeightsFor(routing.TaskKind("batch_import"))
	assert.InDelta(t, 0.7, unknown.Success, 1e-9)
	assert.InDelta(t, 0.3, unknown.Speed, 1e-9)
}
