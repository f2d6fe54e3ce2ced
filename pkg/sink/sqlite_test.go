package sink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/pkg/routing"
)

func testRecord(id string) routing.ExecutionRecord {
	now := time.Now().UTC()
	cost := decimal.NewFromFloat(0.0002)

	return routing.ExecutionRecord{
		ExecutionID: id,
		Adapter:     routing.AdapterPrefect,
		TaskKind:    routing.TaskWorkflow,
		StartTS:     now.Add(-2 * time.Second),
		EndTS:       now,
		Status:      routing.StatusSuccess,
		LatencyMS:   2000,
		CostUSD:     &cost,
	}
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func (s *SQLite) countRows(t *testing.T, table string) int {
	t.Helper()

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))

	return n
}

func TestSQLite_WriteRecords(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	records := []routing.ExecutionRecord{testRecord("exec-1"), testRecord("exec-2")}
	require.NoError(t, s.WriteRecords(ctx, records))

	assert.Equal(t, 2, s.countRows(t, "executions"))
}

func TestSQLite_RewriteIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	records := []routing.ExecutionRecord{testRecord("exec-1")}
	require.NoError(t, s.WriteRecords(ctx, records))
	// A retried flush writes the same batch again.
	require.NoError(t, s.WriteRecords(ctx, records))

	assert.Equal(t, 1, s.countRows(t, "executions"))
}

func TestSQLite_EmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)

	require.NoError(t, s.WriteRecords(context.Background(), nil))
	assert.Zero(t, s.countRows(t, "executions"))
}

func TestSQLite_Snapshots(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAggregate(ctx, AggregateSnapshot{
		TakenAt: time.Now().UTC(),
		Adapters: []routing.AdapterStats{
			{Adapter: routing.AdapterPrefect, SuccessCount: 10, FailureCount: 2},
		},
	}))
	require.NoError(t, s.WriteScoring(ctx, ScoringSnapshot{TakenAt: time.Now().UTC()}))

	assert.Equal(t, 1, s.countRows(t, "aggregate_snapshots"))
	assert.Equal(t, 1, s.countRows(t, "scoring_snapshots"))
}

func TestRetriable(t *testing.T) {
	t.Parallel()

	base := errors.New("database is locked")

	assert.False(t, Retriable(base))
	assert.True(t, Retriable(MarkRetriable(base)))
	assert.True(t, Retriable(MarkRetriable(wrapSQLiteErr("op", base))))
	assert.NoError(t, MarkRetriable(nil))
}

func TestWrapSQLiteErr_LockedIsRetriable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retriable(wrapSQLiteErr("insert", errors.New("database is locked"))))
	assert.False(t, Retriable(wrapSQLiteErr("insert", errors.New("no such table"))))
}
