package query

import (
	"container/heap"

	"github.com/vesperdb/vesper"
)

// readBatchSize is the number of elements pulled from a storage operator
// per Read call.
const readBatchSize = 1024

// sampleSink receives the materialized output stream. A false return from
// Put halts materialization.
type sampleSink interface {
	Put(sample vesper.Sample) bool
}

// scanIterator pulls (timestamp, value) pairs out of a RealValuedOperator
// one at a time, refilling its buffer as needed.
type scanIterator struct {
	op   RealValuedOperator
	ts   []vesper.Timestamp
	vals []float64
	i, n int
	done bool
	err  error
}

func newScanIterator(op RealValuedOperator) *scanIterator {
	return &scanIterator{
		op:   op,
		ts:   make([]vesper.Timestamp, readBatchSize),
		vals: make([]float64, readBatchSize),
	}
}

func (it *scanIterator) next() (vesper.Timestamp, float64, bool) {
	if it.i == it.n {
		if it.done || it.err != nil {
			return 0, 0, false
		}
		n, err := it.op.Read(it.ts, it.vals)
		it.i, it.n = 0, n
		if err != nil {
			if err == vesper.ErrNoData {
				// ErrNoData may accompany a final chunk.
				it.done = true
			} else {
				it.err = err
			}
		}
		if it.n == 0 {
			return 0, 0, false
		}
	}
	ts, val := it.ts[it.i], it.vals[it.i]
	it.i++
	return ts, val, true
}

// aggIterator pulls aggregation tuples out of an AggregateOperator.
type aggIterator struct {
	op   AggregateOperator
	ts   []vesper.Timestamp
	res  []AggregationResult
	i, n int
	done bool
	err  error
}

func newAggIterator(op AggregateOperator) *aggIterator {
	return &aggIterator{
		op:  op,
		ts:  make([]vesper.Timestamp, readBatchSize),
		res: make([]AggregationResult, readBatchSize),
	}
}

func (it *aggIterator) next() (vesper.Timestamp, AggregationResult, bool) {
	if it.i == it.n {
		if it.done || it.err != nil {
			return 0, AggregationResult{}, false
		}
		n, err := it.op.Read(it.ts, it.res)
		it.i, it.n = 0, n
		if err != nil {
			if err == vesper.ErrNoData {
				it.done = true
			} else {
				it.err = err
			}
		}
		if it.n == 0 {
			return 0, AggregationResult{}, false
		}
	}
	ts, res := it.ts[it.i], it.res[it.i]
	it.i++
	return ts, res, true
}

// chainSeries emits every series in turn: the whole of ids[0], then
// ids[1], and so on. The per-series temporal order is whatever the
// operators produce.
func chainSeries(ops []RealValuedOperator, ids []vesper.ParamID, sink sampleSink) error {
	for i, op := range ops {
		it := newScanIterator(op)
		for {
			ts, val, ok := it.next()
			if !ok {
				break
			}
			if !sink.Put(vesper.NewSample(ts, ids[i], val)) {
				return nil
			}
		}
		if it.err != nil {
			return it.err
		}
	}
	return nil
}

// mergeHead is one stream inside a k-way merge.
type mergeHead struct {
	it  *scanIterator
	id  vesper.ParamID
	ts  vesper.Timestamp
	val float64
}

// mergeHeap orders stream heads lexicographically. With bySeries the key
// is (id, ts), otherwise (ts, id); forward inverts the temporal component
// for backward scans.
type mergeHeap struct {
	heads    []*mergeHead
	bySeries bool
	forward  bool
}

func (h *mergeHeap) Len() int { return len(h.heads) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.heads[i], h.heads[j]
	tsLess := a.ts < b.ts
	if !h.forward {
		tsLess = a.ts > b.ts
	}
	if h.bySeries {
		if a.id != b.id {
			return a.id < b.id
		}
		return tsLess
	}
	if a.ts != b.ts {
		return tsLess
	}
	return a.id < b.id
}

func (h *mergeHeap) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *mergeHeap) Push(x interface{}) { h.heads = append(h.heads, x.(*mergeHead)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.heads
	n := len(old)
	x := old[n-1]
	h.heads = old[:n-1]
	return x
}

// mergeOrdered merges every series stream into a single globally ordered
// stream, by (ts, id) or by (id, ts).
func mergeOrdered(ops []RealValuedOperator, ids []vesper.ParamID, bySeries, forward bool, sink sampleSink) error {
	h := &mergeHeap{bySeries: bySeries, forward: forward}
	for i, op := range ops {
		it := newScanIterator(op)
		ts, val, ok := it.next()
		if !ok {
			if it.err != nil {
				return it.err
			}
			continue
		}
		h.heads = append(h.heads, &mergeHead{it: it, id: ids[i], ts: ts, val: val})
	}
	heap.Init(h)

	for h.Len() > 0 {
		head := h.heads[0]
		if !sink.Put(vesper.NewSample(head.ts, head.id, head.val)) {
			return nil
		}
		ts, val, ok := head.it.next()
		if !ok {
			if head.it.err != nil {
				return head.it.err
			}
			heap.Pop(h)
			continue
		}
		head.ts, head.val = ts, val
		heap.Fix(h, 0)
	}
	return nil
}

// aggregate reads one tuple per series and emits one sample per
// aggregation function, in series order.
func aggregate(ops []AggregateOperator, ids []vesper.ParamID, funcs []AggregationFunction, sink sampleSink) error {
	for i, op := range ops {
		it := newAggIterator(op)
		ts, res, ok := it.next()
		if !ok {
			if it.err != nil {
				return it.err
			}
			continue
		}
		for _, fn := range funcs {
			if !sink.Put(vesper.NewSample(ts, ids[i], fn.Apply(res))) {
				return nil
			}
		}
	}
	return nil
}

// aggregateCombine folds the per-series tuples of each group into one
// tuple per group-representative id, preserving first-seen group order.
func aggregateCombine(ops []AggregateOperator, ids []vesper.ParamID, funcs []AggregationFunction, sink sampleSink) error {
	type groupState struct {
		ts  vesper.Timestamp
		res AggregationResult
		set bool
	}
	groups := make(map[vesper.ParamID]*groupState)
	var order []vesper.ParamID

	for i, op := range ops {
		it := newAggIterator(op)
		ts, res, ok := it.next()
		if !ok {
			if it.err != nil {
				return it.err
			}
			continue
		}
		state := groups[ids[i]]
		if state == nil {
			state = &groupState{}
			groups[ids[i]] = state
			order = append(order, ids[i])
		}
		if !state.set {
			state.ts, state.res, state.set = ts, res, true
		} else {
			if ts < state.ts {
				state.ts = ts
			}
			state.res.Combine(res)
		}
	}

	for _, id := range order {
		state := groups[id]
		for _, fn := range funcs {
			if !sink.Put(vesper.NewSample(state.ts, id, fn.Apply(state.res))) {
				return nil
			}
		}
	}
	return nil
}

// groupAggregateSeriesOrder emits every bucket of one series before
// moving to the next series. Samples of one bucket carry one value per
// aggregation function, consecutively, sharing (ts, id).
func groupAggregateSeriesOrder(ops []AggregateOperator, ids []vesper.ParamID, funcs []AggregationFunction, sink sampleSink) error {
	for i, op := range ops {
		it := newAggIterator(op)
		for {
			ts, res, ok := it.next()
			if !ok {
				break
			}
			for _, fn := range funcs {
				if !sink.Put(vesper.NewSample(ts, ids[i], fn.Apply(res))) {
					return nil
				}
			}
		}
		if it.err != nil {
			return it.err
		}
	}
	return nil
}

// aggMergeHead is one bucket stream inside the time-ordered merge.
type aggMergeHead struct {
	it  *aggIterator
	id  vesper.ParamID
	ts  vesper.Timestamp
	res AggregationResult
}

type aggMergeHeap struct {
	heads   []*aggMergeHead
	forward bool
}

func (h *aggMergeHeap) Len() int { return len(h.heads) }

func (h *aggMergeHeap) Less(i, j int) bool {
	a, b := h.heads[i], h.heads[j]
	if a.ts != b.ts {
		if h.forward {
			return a.ts < b.ts
		}
		return a.ts > b.ts
	}
	return a.id < b.id
}

func (h *aggMergeHeap) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *aggMergeHeap) Push(x interface{}) { h.heads = append(h.heads, x.(*aggMergeHead)) }

func (h *aggMergeHeap) Pop() interface{} {
	old := h.heads
	n := len(old)
	x := old[n-1]
	h.heads = old[:n-1]
	return x
}

// groupAggregateTimeOrder merges the per-series bucket streams by
// (bucket, id).
func groupAggregateTimeOrder(ops []AggregateOperator, ids []vesper.ParamID, funcs []AggregationFunction, forward bool, sink sampleSink) error {
	h := &aggMergeHeap{forward: forward}
	for i, op := range ops {
		it := newAggIterator(op)
		ts, res, ok := it.next()
		if !ok {
			if it.err != nil {
				return it.err
			}
			continue
		}
		h.heads = append(h.heads, &aggMergeHead{it: it, id: ids[i], ts: ts, res: res})
	}
	heap.Init(h)

	for h.Len() > 0 {
		head := h.heads[0]
		for _, fn := range funcs {
			if !sink.Put(vesper.NewSample(head.ts, head.id, fn.Apply(head.res))) {
				return nil
			}
		}
		ts, res, ok := head.it.next()
		if !ok {
			if head.it.err != nil {
				return head.it.err
			}
			heap.Pop(h)
			continue
		}
		head.ts, head.res = ts, res
		heap.Fix(h, 0)
	}
	return nil
}

// joinRow is one aligned row of a join tuple: the timestamp, and a value
// per column for the columns present at that timestamp.
type joinRow struct {
	ts      vesper.Timestamp
	values  []float64
	present []bool
}

// joinIterator produces the rows of one series tuple. Rows are keyed on
// the first column; a secondary column contributes its value when it has
// a sample at the row's timestamp.
type joinIterator struct {
	cols    []*scanIterator
	heads   []vesper.Timestamp
	vals    []float64
	ok      []bool
	forward bool
	started bool
}

func newJoinIterator(ops []RealValuedOperator, forward bool) *joinIterator {
	cols := make([]*scanIterator, len(ops))
	for i, op := range ops {
		cols[i] = newScanIterator(op)
	}
	return &joinIterator{
		cols:    cols,
		heads:   make([]vesper.Timestamp, len(ops)),
		vals:    make([]float64, len(ops)),
		ok:      make([]bool, len(ops)),
		forward: forward,
	}
}

func (it *joinIterator) err() error {
	for _, col := range it.cols {
		if col.err != nil {
			return col.err
		}
	}
	return nil
}

// behind reports whether ts lags the key in scan direction.
func (it *joinIterator) behind(ts, key vesper.Timestamp) bool {
	if it.forward {
		return ts < key
	}
	return ts > key
}

func (it *joinIterator) next(row *joinRow) bool {
	if !it.started {
		it.started = true
		for i, col := range it.cols {
			it.heads[i], it.vals[i], it.ok[i] = col.next()
		}
	} else {
		it.heads[0], it.vals[0], it.ok[0] = it.cols[0].next()
	}
	if !it.ok[0] {
		return false
	}

	key := it.heads[0]
	row.ts = key
	row.values[0] = it.vals[0]
	row.present[0] = true

	for i := 1; i < len(it.cols); i++ {
		for it.ok[i] && it.behind(it.heads[i], key) {
			it.heads[i], it.vals[i], it.ok[i] = it.cols[i].next()
		}
		if it.ok[i] && it.heads[i] == key {
			row.values[i] = it.vals[i]
			row.present[i] = true
			it.heads[i], it.vals[i], it.ok[i] = it.cols[i].next()
		} else {
			row.present[i] = false
		}
	}
	return true
}

// emitJoinRow flattens a row into consecutive samples sharing (ts, id),
// one per present column, in column order.
func emitJoinRow(id vesper.ParamID, row *joinRow, sink sampleSink) bool {
	for c := range row.values {
		if !row.present[c] {
			continue
		}
		if !sink.Put(vesper.NewSample(row.ts, id, row.values[c])) {
			return false
		}
	}
	return true
}

// mergeJoinSeriesOrder emits every row of one series tuple before moving
// to the next tuple. Operators are interleaved row-major: the i-th tuple
// owns ops[i*k : (i+1)*k].
func mergeJoinSeriesOrder(ops []RealValuedOperator, rowIDs []vesper.ParamID, cardinality int, forward bool, sink sampleSink) error {
	for i, id := range rowIDs {
		it := newJoinIterator(ops[i*cardinality:(i+1)*cardinality], forward)
		row := joinRow{
			values:  make([]float64, cardinality),
			present: make([]bool, cardinality),
		}
		for it.next(&row) {
			if !emitJoinRow(id, &row, sink) {
				return nil
			}
		}
		if err := it.err(); err != nil {
			return err
		}
	}
	return nil
}

// joinMergeHead is one tuple stream inside the time-ordered join merge.
type joinMergeHead struct {
	it  *joinIterator
	id  vesper.ParamID
	row joinRow
}

type joinMergeHeap struct {
	heads   []*joinMergeHead
	forward bool
}

func (h *joinMergeHeap) Len() int { return len(h.heads) }

func (h *joinMergeHeap) Less(i, j int) bool {
	a, b := h.heads[i], h.heads[j]
	if a.row.ts != b.row.ts {
		if h.forward {
			return a.row.ts < b.row.ts
		}
		return a.row.ts > b.row.ts
	}
	return a.id < b.id
}

func (h *joinMergeHeap) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *joinMergeHeap) Push(x interface{}) { h.heads = append(h.heads, x.(*joinMergeHead)) }

func (h *joinMergeHeap) Pop() interface{} {
	old := h.heads
	n := len(old)
	x := old[n-1]
	h.heads = old[:n-1]
	return x
}

// mergeJoinTimeOrder merges the per-tuple row streams by (ts, id).
func mergeJoinTimeOrder(ops []RealValuedOperator, rowIDs []vesper.ParamID, cardinality int, forward bool, sink sampleSink) error {
	h := &joinMergeHeap{forward: forward}
	for i, id := range rowIDs {
		it := newJoinIterator(ops[i*cardinality:(i+1)*cardinality], forward)
		head := &joinMergeHead{
			it: it,
			id: id,
			row: joinRow{
				values:  make([]float64, cardinality),
				present: make([]bool, cardinality),
			},
		}
		if !it.next(&head.row) {
			if err := it.err(); err != nil {
				return err
			}
			continue
		}
		h.heads = append(h.heads, head)
	}
	heap.Init(h)

	for h.Len() > 0 {
		head := h.heads[0]
		if !emitJoinRow(head.id, &head.row, sink) {
			return nil
		}
		if !head.it.next(&head.row) {
			if err := head.it.err(); err != nil {
				return err
			}
			heap.Pop(h)
			continue
		}
		heap.Fix(h, 0)
	}
	return nil
}
