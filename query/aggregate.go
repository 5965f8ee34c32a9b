package query

import (
	"github.com/pkg/errors"

	"github.com/vesperdb/vesper"
)

// AggregationFunction identifies one aggregate computed over a range or a
// bucket.
type AggregationFunction int

const (
	AggCount AggregationFunction = iota
	AggSum
	AggMin
	AggMax
	AggMean
	AggFirst
	AggLast
	AggMinTimestamp
	AggMaxTimestamp
)

var aggNames = map[string]AggregationFunction{
	"cnt":           AggCount,
	"count":         AggCount,
	"sum":           AggSum,
	"min":           AggMin,
	"max":           AggMax,
	"avg":           AggMean,
	"mean":          AggMean,
	"first":         AggFirst,
	"last":          AggLast,
	"min_timestamp": AggMinTimestamp,
	"max_timestamp": AggMaxTimestamp,
}

// ParseAggregationFunction maps a function name from a query document to
// its AggregationFunction.
func ParseAggregationFunction(name string) (AggregationFunction, error) {
	fn, ok := aggNames[name]
	if !ok {
		return 0, errors.Wrapf(vesper.ErrQueryParsing, "invalid aggregation function %q", name)
	}
	return fn, nil
}

// String returns the canonical name of the function, as used in display
// names built for group-aggregate queries.
func (f AggregationFunction) String() string {
	switch f {
	case AggCount:
		return "cnt"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggMean:
		return "mean"
	case AggFirst:
		return "first"
	case AggLast:
		return "last"
	case AggMinTimestamp:
		return "min_timestamp"
	case AggMaxTimestamp:
		return "max_timestamp"
	default:
		return "unknown"
	}
}

// Apply extracts the function's value from an aggregation tuple.
func (f AggregationFunction) Apply(res AggregationResult) float64 {
	switch f {
	case AggCount:
		return float64(res.Count)
	case AggSum:
		return res.Sum
	case AggMin:
		return res.Min
	case AggMax:
		return res.Max
	case AggMean:
		return res.Sum / float64(res.Count)
	case AggFirst:
		return res.First
	case AggLast:
		return res.Last
	case AggMinTimestamp:
		return float64(res.MinTimestamp)
	case AggMaxTimestamp:
		return float64(res.MaxTimestamp)
	default:
		return 0
	}
}

// Combine merges other into res, as used when several series fold into one
// group.
func (res *AggregationResult) Combine(other AggregationResult) {
	if res.Count == 0 {
		*res = other
		return
	}
	if other.Count == 0 {
		return
	}
	res.Count += other.Count
	res.Sum += other.Sum
	if other.Min < res.Min {
		res.Min = other.Min
		res.MinTimestamp = other.MinTimestamp
	}
	if other.Max > res.Max {
		res.Max = other.Max
		res.MaxTimestamp = other.MaxTimestamp
	}
	if other.FirstTimestamp < res.FirstTimestamp {
		res.First = other.First
		res.FirstTimestamp = other.FirstTimestamp
	}
	if other.LastTimestamp > res.LastTimestamp {
		res.Last = other.Last
		res.LastTimestamp = other.LastTimestamp
	}
}
