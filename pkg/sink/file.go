package sink

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/omniroute/omniroute/pkg/persist"
	"github.com/omniroute/omniroute/pkg/routing"
)

// Snapshot basenames. Snapshots overwrite in place; record batches get a
// fresh timestamped file each flush.
const (
	aggregateBasename = "aggregate"
	scoringBasename   = "scoring"
)

// File persists record batches and snapshots as codec-encoded files in a
// single directory. The default codec is LZ4-compressed JSON.
type File struct {
	dir       string
	codec     persist.Codec
	aggregate *persist.Persister[AggregateSnapshot]
	scoring   *persist.Persister[ScoringSnapshot]
	seq       atomic.Uint64
}

// NewFile creates a file sink rooted at dir, creating it if needed.
// A nil codec defaults to LZ4-compressed JSON.
func NewFile(dir string, codec persist.Codec) (*File, error) {
	if codec == nil {
		codec = persist.NewLZ4Codec()
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}

	return &File{
		dir:       dir,
		codec:     codec,
		aggregate: persist.NewPersister[AggregateSnapshot](aggregateBasename, codec),
		scoring:   persist.NewPersister[ScoringSnapshot](scoringBasename, codec),
	}, nil
}

// WriteRecords implements Sink. Each batch lands in its own file named by
// UTC timestamp and a process-local sequence number.
func (f *File) WriteRecords(_ context.Context, records []routing.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	basename := fmt.Sprintf("records-%s-%06d",
		time.Now().UTC().Format("20060102T150405"), f.seq.Add(1))

	err := persist.SaveState(f.dir, basename, f.codec, records)
	if err != nil {
		return fmt.Errorf("write record batch: %w", err)
	}

	return nil
}

// WriteAggregate implements Sink. The snapshot overwrites in place;
// only the latest aggregate view is retained.
func (f *File) WriteAggregate(_ context.Context, snap AggregateSnapshot) error {
	err := f.aggregate.Save(f.dir, func() *AggregateSnapshot { return &snap })
	if err != nil {
		return fmt.Errorf("write aggregate snapshot: %w", err)
	}

	return nil
}

// WriteScoring implements Sink.
func (f *File) WriteScoring(_ context.Context, snap ScoringSnapshot) error {
	err := f.scoring.Save(f.dir, func() *ScoringSnapshot { return &snap })
	if err != nil {
		return fmt.Errorf("write scoring snapshot: %w", err)
	}

	return nil
}

// LoadAggregate restores the last written aggregate snapshot. Callers
// use it to warm status surfaces after a restart.
func (f *File) LoadAggregate() (AggregateSnapshot, error) {
	var snap AggregateSnapshot

	err := f.aggregate.Load(f.dir, func(s *AggregateSnapshot) { snap = *s })
	if err != nil {
		return AggregateSnapshot{}, fmt.Errorf("load aggregate snapshot: %w", err)
	}

	return snap, nil
}

// LoadScoring restores the last written scoring snapshot.
func (f *File) LoadScoring() (ScoringSnapshot, error) {
	var snap ScoringSnapshot

	err := f.scoring.Load(f.dir, func(s *ScoringSnapshot) { snap = *s })
	if err != nil {
		return ScoringSnapshot{}, fmt.Errorf("load scoring snapshot: %w", err)
	}

	return snap, nil
}

// Close implements Sink.
func (f *File) Close() error { return nil }
