package query

import (
	"github.com/pkg/errors"

	"github.com/vesperdb/vesper"
)

// ExecutePlan materializes a two-tier plan against the storage engine and
// drives the resulting stream into proc. Errors are forwarded into the
// pipeline via SetError before being returned; a cooperative stop from
// downstream is not an error. The caller remains responsible for calling
// proc.Stop().
func ExecutePlan(plan *QueryPlan, cstore ColumnStore, proc Processor) error {
	if len(plan.Stages) != 2 || plan.Stages[0].Tier != 1 || plan.Stages[1].Tier != 2 {
		panic("query: malformed query plan")
	}
	t1, t2 := plan.Stages[0], plan.Stages[1]
	forward := t1.Begin <= t1.End

	fail := func(err error) error {
		proc.SetError(err)
		return err
	}

	switch t1.Op1 {
	case ScanRange:
		ops, err := cstore.Scan(t1.IDs, t1.Begin, t1.End)
		if err != nil {
			return fail(err)
		}
		if len(ops) == 0 {
			return fail(errors.Wrap(vesper.ErrNoData, "no series in range"))
		}
		if err := materializeScan(t2, ops, forward, proc); err != nil {
			return fail(err)
		}
	case AggregateRange:
		ops, err := cstore.Aggregate(t1.IDs, t1.Begin, t1.End)
		if err != nil {
			return fail(err)
		}
		if len(ops) == 0 {
			return fail(errors.Wrap(vesper.ErrNoData, "no series in range"))
		}
		if err := materializeAggregate(t2, ops, forward, proc); err != nil {
			return fail(err)
		}
	case GroupAggregateRange:
		ops, err := cstore.GroupAggregate(t1.IDs, t1.Begin, t1.End, t1.Step)
		if err != nil {
			return fail(err)
		}
		if len(ops) == 0 {
			return fail(errors.Wrap(vesper.ErrNoData, "no series in range"))
		}
		if err := materializeAggregate(t2, ops, forward, proc); err != nil {
			return fail(err)
		}
	default:
		panic("query: unknown tier-1 operator")
	}
	return nil
}

func materializeScan(t2 *QueryPlanStage, ops []RealValuedOperator, forward bool, proc Processor) error {
	switch t2.Op2 {
	case ChainSeries:
		if len(ops) != len(t2.IDs) {
			panic("query: tier mismatch in query plan")
		}
		return chainSeries(ops, t2.IDs, proc)
	case MergeTimeOrder:
		if len(ops) != len(t2.IDs) {
			panic("query: tier mismatch in query plan")
		}
		return mergeOrdered(ops, t2.IDs, false, forward, proc)
	case MergeSeriesOrder:
		if len(ops) != len(t2.IDs) {
			panic("query: tier mismatch in query plan")
		}
		return mergeOrdered(ops, t2.IDs, true, forward, proc)
	case MergeJoinSeriesOrder:
		if len(ops) != len(t2.IDs)*t2.JoinCardinality {
			panic("query: tier mismatch in query plan")
		}
		return mergeJoinSeriesOrder(ops, t2.IDs, t2.JoinCardinality, forward, proc)
	case MergeJoinTimeOrder:
		if len(ops) != len(t2.IDs)*t2.JoinCardinality {
			panic("query: tier mismatch in query plan")
		}
		return mergeJoinTimeOrder(ops, t2.IDs, t2.JoinCardinality, forward, proc)
	default:
		panic("query: tier-2 operator doesn't consume scan operators")
	}
}

func materializeAggregate(t2 *QueryPlanStage, ops []AggregateOperator, forward bool, proc Processor) error {
	if len(ops) != len(t2.IDs) {
		panic("query: tier mismatch in query plan")
	}
	switch t2.Op2 {
	case Aggregate:
		return aggregate(ops, t2.IDs, t2.Funcs, proc)
	case AggregateCombine:
		return aggregateCombine(ops, t2.IDs, t2.Funcs, proc)
	case SeriesOrderAggregateMaterializer:
		return groupAggregateSeriesOrder(ops, t2.IDs, t2.Funcs, proc)
	case TimeOrderAggregateMaterializer:
		return groupAggregateTimeOrder(ops, t2.IDs, t2.Funcs, forward, proc)
	default:
		panic("query: tier-2 operator doesn't consume aggregate operators")
	}
}
