package query

import (
	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// Tier1Operator produces per-series data streams from storage.
type Tier1Operator int

const (
	ScanRange Tier1Operator = iota
	AggregateRange
	GroupAggregateRange
)

// Tier2Operator merges, chains, or reduces tier-1 streams into a single
// output sequence.
type Tier2Operator int

const (
	ChainSeries Tier2Operator = iota
	MergeTimeOrder
	MergeSeriesOrder
	Aggregate
	AggregateCombine
	SeriesOrderAggregateMaterializer
	TimeOrderAggregateMaterializer
	MergeJoinSeriesOrder
	MergeJoinTimeOrder
)

// QueryPlanStage is one tier of an execution plan.
type QueryPlanStage struct {
	Tier int
	Op1  Tier1Operator
	Op2  Tier2Operator

	IDs     []vesper.ParamID
	Begin   vesper.Timestamp
	End     vesper.Timestamp
	Matcher *series.Matcher

	Funcs           []AggregationFunction
	Step            vesper.Duration
	JoinCardinality int
}

// QueryPlan is a two-tier execution plan: tier 1 produces low-level
// per-series storage operators, tier 2 materializes them into a single
// output stream.
type QueryPlan struct {
	Stages []*QueryPlanStage
}

// NewQueryPlan builds the plan for a reshape request. Requests whose
// shape violates the plan invariants are programming errors and panic.
func NewQueryPlan(req ReshapeRequest) *QueryPlan {
	switch {
	case req.Agg.Enabled && req.Agg.Step == 0:
		return &QueryPlan{Stages: createAggregate(req)}
	case req.Agg.Enabled && req.Agg.Step != 0:
		return &QueryPlan{Stages: createGroupAggregate(req)}
	case !req.Agg.Enabled && len(req.Select.Columns) > 1:
		return &QueryPlan{Stages: createJoin(req)}
	}
	return &QueryPlan{Stages: createScan(req)}
}

// groupIDs rewrites the column ids through the group-by transient map.
// Unmapped ids are dropped from both tiers so that tier-1 operators and
// tier-2 output ids stay aligned.
func groupIDs(req ReshapeRequest) (source, grouped []vesper.ParamID) {
	for _, id := range req.Select.Columns[0].IDs {
		if mapped, ok := req.GroupBy.TransientMap[id]; ok {
			source = append(source, id)
			grouped = append(grouped, mapped)
		}
	}
	return source, grouped
}

// createScan builds the hardwired plan for a scan query.
// Tier 1: a range scan operator per series.
// Tier 2: with group-by, rewrite the ids and the matcher and merge in
// series or time order; otherwise chain in series order or merge in time
// order.
func createScan(req ReshapeRequest) []*QueryPlanStage {
	if req.Agg.Enabled || len(req.Select.Columns) != 1 {
		panic("query: invalid request")
	}

	t1 := &QueryPlanStage{
		Tier:    1,
		Op1:     ScanRange,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
	}

	if req.GroupBy.Enabled {
		source, grouped := groupIDs(req)
		t1.IDs = source
		op := MergeTimeOrder
		if req.OrderBy == OrderBySeries {
			op = MergeSeriesOrder
		}
		t2 := &QueryPlanStage{
			Tier:    2,
			Op2:     op,
			IDs:     grouped,
			Begin:   req.Select.Begin,
			End:     req.Select.End,
			Matcher: req.GroupBy.Matcher,
		}
		return []*QueryPlanStage{t1, t2}
	}

	op := MergeTimeOrder
	if req.OrderBy == OrderBySeries {
		op = ChainSeries
	}
	t2 := &QueryPlanStage{
		Tier:    2,
		Op2:     op,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
	}
	return []*QueryPlanStage{t1, t2}
}

// createAggregate builds the hardwired plan for an aggregate query.
func createAggregate(req ReshapeRequest) []*QueryPlanStage {
	if req.OrderBy == OrderByTime {
		panic("query: invalid request")
	}

	t1 := &QueryPlanStage{
		Tier:    1,
		Op1:     AggregateRange,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
	}

	if req.GroupBy.Enabled {
		// Combine the per-series aggregates per group.
		source, grouped := groupIDs(req)
		t1.IDs = source
		t2 := &QueryPlanStage{
			Tier:    2,
			Op2:     AggregateCombine,
			IDs:     grouped,
			Begin:   req.Select.Begin,
			End:     req.Select.End,
			Matcher: req.GroupBy.Matcher,
			Funcs:   req.Agg.Funcs,
		}
		return []*QueryPlanStage{t1, t2}
	}

	t2 := &QueryPlanStage{
		Tier:    2,
		Op2:     Aggregate,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
		Funcs:   req.Agg.Funcs,
	}
	return []*QueryPlanStage{t1, t2}
}

// createGroupAggregate builds the hardwired plan for a group-aggregate
// query. Group-by is not supported for this query shape.
func createGroupAggregate(req ReshapeRequest) []*QueryPlanStage {
	if !req.Agg.Enabled || req.Agg.Step == 0 {
		panic("query: invalid request")
	}
	if req.GroupBy.Enabled {
		panic("query: group-by is not supported for group-aggregate queries")
	}

	t1 := &QueryPlanStage{
		Tier:    1,
		Op1:     GroupAggregateRange,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
		Step:    req.Agg.Step,
	}

	op := TimeOrderAggregateMaterializer
	if req.OrderBy == OrderBySeries {
		op = SeriesOrderAggregateMaterializer
	}
	t2 := &QueryPlanStage{
		Tier:    2,
		Op2:     op,
		IDs:     req.Select.Columns[0].IDs,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
		Funcs:   req.Agg.Funcs,
		Step:    req.Agg.Step,
	}
	return []*QueryPlanStage{t1, t2}
}

// createJoin builds the hardwired plan for a join query. Tier 1 scans the
// interleaved column ids; tier 2 merges the column tuples in series or
// time order. Aggregation and group-by are not supported.
func createJoin(req ReshapeRequest) []*QueryPlanStage {
	if req.Agg.Enabled || req.GroupBy.Enabled || len(req.Select.Columns) < 2 {
		panic("query: invalid request")
	}

	cardinality := len(req.Select.Columns)
	t1ids := make([]vesper.ParamID, 0, cardinality*len(req.Select.Columns[0].IDs))
	for i := range req.Select.Columns[0].IDs {
		for c := 0; c < cardinality; c++ {
			t1ids = append(t1ids, req.Select.Columns[c].IDs[i])
		}
	}

	t1 := &QueryPlanStage{
		Tier:    1,
		Op1:     ScanRange,
		IDs:     t1ids,
		Begin:   req.Select.Begin,
		End:     req.Select.End,
		Matcher: req.Select.Matcher,
	}

	op := MergeJoinTimeOrder
	if req.OrderBy == OrderBySeries {
		op = MergeJoinSeriesOrder
	}
	t2 := &QueryPlanStage{
		Tier:            2,
		Op2:             op,
		IDs:             req.Select.Columns[0].IDs, // the join uses the ids of the first column
		Begin:           req.Select.Begin,
		End:             req.Select.End,
		Matcher:         req.Select.Matcher,
		JoinCardinality: cardinality,
	}
	return []*QueryPlanStage{t1, t2}
}
