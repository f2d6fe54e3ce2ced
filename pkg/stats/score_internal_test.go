package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyScoreFor(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, latencyScoreFor(100), 1e-9)
	assert.InDelta(t, 0.5, latencyScoreFor(1000), 1e-9)
	assert.InDelta(t, 0.0, latencyScoreFor(10000), 1e-9)

	// Below the floor everything scores as 100 ms.
	assert.InDelta(t, 1.0, latencyScoreFor(5), 1e-9)

	// Beyond 10 s clamps at zero.
	assert.InDelta(t, 0.0, latencyScoreFor(60000), 1e-9)
}

func TestNextRecalcAfter(t *testing.T) {
	t.Parallel()

	// Wednesday 2026-08-19 12:00 UTC; the next window is Sunday 03:00.
	wednesday := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC), nextRecalcAfter(wednesday))

	// Sunday before 03:00 schedules the same day.
	early := time.Date(2026, 8, 23, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC), nextRecalcAfter(early))

	// Exactly at the window the next run is a full week out.
	exact := time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC), nextRecalcAfter(exact))
}

func TestAssignToB(t *testing.T) {
	t.Parallel()

	assert.False(t, assignToB("any-id", 0))
	assert.True(t, assignToB("any-id", 1))

	first := assignToB("execution-7", 0.5)
	for range 20 {
		assert.Equal(t, first, assignToB("execution-7", 0.5))
	}
}

func TestAssignToB_RoughlyBalanced(t *testing.T) {
	t.Parallel()

	toB := 0

	for i := range 10000 {
		if assignToB(fmt.Sprintf("execution-%d", i), 0.5) {
			toB++
		}
	}

	assert.InDelta(t, 5000, float64(toB), 700)
}

func TestTwoProportionPValue(t *testing.T) {
	t.Parallel()

	// Identical rates carry no evidence.
	assert.InDelta(t, 1.0, twoProportionPValue(50, 100, 50, 100), 1e-9)

	// Degenerate inputs never reach significance.
	assert.InDelta(t, 1.0, twoProportionPValue(0, 0, 50, 100), 1e-9)
	assert.InDelta(t, 1.0, twoProportionPValue(100, 100, 100, 100), 1e-9)

	// A wide gap over enough samples is significant.
	assert.Less(t, twoProportionPValue(95, 100, 60, 100), 0.05)
}

func TestMannWhitneyPValue(t *testing.T) {
	t.Parallel()

	same := []float64{100, 110, 120, 130}
	assert.InDelta(t, 1.0, mannWhitneyPValue(same, same), 1e-9)

	assert.InDelta(t, 1.0, mannWhitneyPValue(nil, same), 1e-9)

	fast := make([]float64, 40)
	slow := make([]float64, 40)

	for i := range fast {
		fast[i] = 100 + float64(i)
		slow[i] = 900 + float64(i)
	}

	assert.Less(t, mannWhitneyPValue(fast, slow), 0.05)
}
