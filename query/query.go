// Package query implements the query-processing pipeline: the JSON query
// grammar and validator, the where-clause resolver, the two-tier plan
// builder, the streaming pipeline nodes, and the query processor driver.
package query

import (
	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// QueryKind is the shape of a parsed query.
type QueryKind int

const (
	// KindSelect returns raw samples of one metric.
	KindSelect QueryKind = iota

	// KindSelectMeta returns only the matched series ids.
	KindSelectMeta

	// KindAggregate computes one value per series over the whole range.
	KindAggregate

	// KindGroupAggregate computes per-bucket aggregates.
	KindGroupAggregate

	// KindJoin aligns several metrics by shared tags.
	KindJoin
)

// String returns the query-document keyword of the kind.
func (k QueryKind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindSelectMeta:
		return "select-meta"
	case KindAggregate:
		return "aggregate"
	case KindGroupAggregate:
		return "group-aggregate"
	case KindJoin:
		return "join"
	default:
		return "unknown"
	}
}

// OrderBy selects the global ordering of the output stream.
type OrderBy int

const (
	// OrderByTime orders the stream by (timestamp, series).
	OrderByTime OrderBy = iota

	// OrderBySeries orders the stream by (series, timestamp).
	OrderBySeries
)

// Column is a list of series ids read as one unit by the storage layer.
type Column struct {
	IDs []vesper.ParamID
}

// ReshapeRequest is the normalized, resolved representation of a query,
// consumed by the plan builder.
type ReshapeRequest struct {
	Select struct {
		Begin   vesper.Timestamp
		End     vesper.Timestamp
		Columns []Column

		// Matcher resolves output ids to display names. It is the
		// global matcher for plain selects and a query-local matcher
		// for join, group-aggregate, and group-by queries.
		Matcher *series.Matcher
	}

	Agg struct {
		Enabled bool
		Step    vesper.Duration
		Funcs   []AggregationFunction
	}

	OrderBy OrderBy

	GroupBy struct {
		Enabled bool

		// TransientMap maps original series ids to their synthetic
		// group-representative ids.
		TransientMap map[vesper.ParamID]vesper.ParamID
		Matcher      *series.Matcher
	}
}
