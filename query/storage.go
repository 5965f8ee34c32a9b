package query

import "github.com/vesperdb/vesper"

// This file defines the storage operator interfaces consumed by plan
// execution. The on-disk engine implements them outside the core.

// AggregationResult is the tuple produced by aggregating one series over a
// range or one bucket of it.
type AggregationResult struct {
	Count          uint64
	Sum            float64
	Min            float64
	Max            float64
	First          float64
	Last           float64
	MinTimestamp   vesper.Timestamp
	MaxTimestamp   vesper.Timestamp
	FirstTimestamp vesper.Timestamp
	LastTimestamp  vesper.Timestamp
}

// RealValuedOperator yields (timestamp, value) pairs of one series in the
// temporal direction implied by the requested range.
//
// Read fills ts and values (which must have equal length) and returns the
// number of pairs written. ErrNoData signals the end of the stream and may
// accompany a nonzero count meaning "last chunk".
type RealValuedOperator interface {
	Read(ts []vesper.Timestamp, values []float64) (int, error)
}

// AggregateOperator yields aggregation tuples of one series: a single
// tuple for a whole-range aggregate, one tuple per bucket for a group
// aggregate. Timestamps carry the range begin or the bucket lower bound.
// The error contract matches RealValuedOperator.Read.
type AggregateOperator interface {
	Read(ts []vesper.Timestamp, res []AggregationResult) (int, error)
}

// ColumnStore is the storage engine surface consumed by plan execution.
// Each call returns one operator per id, in the order of ids. Ranges are
// inclusive of begin and exclusive of end; begin > end requests a
// backward scan.
type ColumnStore interface {
	Scan(ids []vesper.ParamID, begin, end vesper.Timestamp) ([]RealValuedOperator, error)
	Aggregate(ids []vesper.ParamID, begin, end vesper.Timestamp) ([]AggregateOperator, error)
	GroupAggregate(ids []vesper.ParamID, begin, end vesper.Timestamp, step vesper.Duration) ([]AggregateOperator, error)
}
