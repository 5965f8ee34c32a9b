package query_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/query"
	"github.com/vesperdb/vesper/series"
)

// point is one stored (timestamp, value) pair.
type point struct {
	ts  vesper.Timestamp
	val float64
}

// mockStore is an in-memory ColumnStore for driving plans in tests.
type mockStore struct {
	data map[vesper.ParamID][]point
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[vesper.ParamID][]point)}
}

func (s *mockStore) add(id vesper.ParamID, ts uint64, val float64) {
	s.data[id] = append(s.data[id], point{ts: vesper.Timestamp(ts), val: val})
}

// window returns the stored points of id inside the range, ordered in the
// scan direction.
func (s *mockStore) window(id vesper.ParamID, begin, end vesper.Timestamp) []point {
	forward := begin <= end
	lo, hi := begin, end
	if !forward {
		lo, hi = end, begin
	}
	var out []point
	for _, p := range s.data[id] {
		if forward && p.ts >= lo && p.ts < hi {
			out = append(out, p)
		} else if !forward && p.ts > lo && p.ts <= hi {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if forward {
			return out[i].ts < out[j].ts
		}
		return out[i].ts > out[j].ts
	})
	return out
}

type sliceScanOp struct {
	points []point
	i      int
}

func (op *sliceScanOp) Read(ts []vesper.Timestamp, values []float64) (int, error) {
	n := 0
	for n < len(ts) && op.i < len(op.points) {
		ts[n] = op.points[op.i].ts
		values[n] = op.points[op.i].val
		n++
		op.i++
	}
	if op.i == len(op.points) {
		// The last chunk carries ErrNoData alongside the data.
		return n, vesper.ErrNoData
	}
	return n, nil
}

type sliceAggOp struct {
	ts   []vesper.Timestamp
	res  []query.AggregationResult
	i    int
}

func (op *sliceAggOp) Read(ts []vesper.Timestamp, res []query.AggregationResult) (int, error) {
	n := 0
	for n < len(ts) && op.i < len(op.ts) {
		ts[n] = op.ts[op.i]
		res[n] = op.res[op.i]
		n++
		op.i++
	}
	if op.i == len(op.ts) {
		return n, vesper.ErrNoData
	}
	return n, nil
}

func aggregatePoints(points []point) query.AggregationResult {
	var res query.AggregationResult
	for _, p := range points {
		if res.Count == 0 {
			res = query.AggregationResult{
				Count: 1, Sum: p.val,
				Min: p.val, Max: p.val,
				First: p.val, Last: p.val,
				MinTimestamp: p.ts, MaxTimestamp: p.ts,
				FirstTimestamp: p.ts, LastTimestamp: p.ts,
			}
			continue
		}
		res.Count++
		res.Sum += p.val
		if p.val < res.Min {
			res.Min, res.MinTimestamp = p.val, p.ts
		}
		if p.val > res.Max {
			res.Max, res.MaxTimestamp = p.val, p.ts
		}
		if p.ts < res.FirstTimestamp {
			res.First, res.FirstTimestamp = p.val, p.ts
		}
		if p.ts > res.LastTimestamp {
			res.Last, res.LastTimestamp = p.val, p.ts
		}
	}
	return res
}

func (s *mockStore) Scan(ids []vesper.ParamID, begin, end vesper.Timestamp) ([]query.RealValuedOperator, error) {
	ops := make([]query.RealValuedOperator, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, &sliceScanOp{points: s.window(id, begin, end)})
	}
	return ops, nil
}

func (s *mockStore) Aggregate(ids []vesper.ParamID, begin, end vesper.Timestamp) ([]query.AggregateOperator, error) {
	ops := make([]query.AggregateOperator, 0, len(ids))
	for _, id := range ids {
		op := &sliceAggOp{}
		points := s.window(id, begin, end)
		if len(points) > 0 {
			op.ts = []vesper.Timestamp{begin}
			op.res = []query.AggregationResult{aggregatePoints(points)}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *mockStore) GroupAggregate(ids []vesper.ParamID, begin, end vesper.Timestamp, step vesper.Duration) ([]query.AggregateOperator, error) {
	ops := make([]query.AggregateOperator, 0, len(ids))
	for _, id := range ids {
		op := &sliceAggOp{}
		buckets := make(map[vesper.Timestamp][]point)
		for _, p := range s.window(id, begin, end) {
			bucket := p.ts / vesper.Timestamp(step) * vesper.Timestamp(step)
			buckets[bucket] = append(buckets[bucket], p)
		}
		var keys []vesper.Timestamp
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if begin <= end {
				return keys[i] < keys[j]
			}
			return keys[i] > keys[j]
		})
		for _, k := range keys {
			op.ts = append(op.ts, k)
			op.res = append(op.res, aggregatePoints(buckets[k]))
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// newTestEngine builds a catalog, a store, and an engine over them.
func newTestEngine(t *testing.T, names ...string) (*query.Engine, *series.Matcher, *mockStore) {
	t.Helper()
	matcher := series.NewMatcher(1)
	for _, name := range names {
		_, err := matcher.Add([]byte(name))
		require.NoError(t, err)
	}
	store := newMockStore()
	logger := zaptest.NewLogger(t)
	engine := query.NewEngine(query.NewParser(matcher, logger), store, logger)
	return engine, matcher, store
}

const testRange = `"range": {"from": "20150101T000000", "to": "20150102T000000"}`

// inRange shifts a small offset into the query range.
func inRange(t *testing.T, offset uint64) uint64 {
	t.Helper()
	return uint64(ts(t, "20150101T000000")) + offset
}

func TestEngine_Select_TimeOrder(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a", "cpu host=b")
	a := matcher.Match([]byte("cpu host=a"))
	b := matcher.Match([]byte("cpu host=b"))

	for i := uint64(0); i < 3; i++ {
		store.add(a, inRange(t, i*100), float64(i))
		store.add(b, inRange(t, i*100+1), float64(i)+10)
	}

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute([]byte(`{"select":"cpu",`+testRange+`}`), cursor))
	require.True(t, cursor.complete)
	require.Len(t, cursor.samples, 6)

	// Lexicographic by (ts, id) ascending.
	for i := 1; i < len(cursor.samples); i++ {
		prev, cur := cursor.samples[i-1], cursor.samples[i]
		ordered := prev.Timestamp < cur.Timestamp ||
			(prev.Timestamp == cur.Timestamp && prev.ParamID < cur.ParamID)
		require.True(t, ordered, "stream out of (ts, id) order at %d", i)
	}
}

func TestEngine_Select_SeriesOrder(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a", "cpu host=b")
	a := matcher.Match([]byte("cpu host=a"))
	b := matcher.Match([]byte("cpu host=b"))

	for i := uint64(0); i < 3; i++ {
		store.add(a, inRange(t, i*100), float64(i))
		store.add(b, inRange(t, i*100), float64(i)+10)
	}

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute(
		[]byte(`{"select":"cpu","order-by":"series",`+testRange+`}`), cursor))
	require.Len(t, cursor.samples, 6)

	// (id₁,t₁)..(id₁,t_M),(id₂,t₁).. lexicographic by (id, ts).
	for i := 1; i < len(cursor.samples); i++ {
		prev, cur := cursor.samples[i-1], cursor.samples[i]
		ordered := prev.ParamID < cur.ParamID ||
			(prev.ParamID == cur.ParamID && prev.Timestamp < cur.Timestamp)
		require.True(t, ordered, "stream out of (id, ts) order at %d", i)
	}
	require.Equal(t, a, cursor.samples[0].ParamID)
	require.Equal(t, b, cursor.samples[3].ParamID)
}

func TestEngine_Select_Backward(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a")
	a := matcher.Match([]byte("cpu host=a"))
	for i := uint64(1); i <= 3; i++ {
		store.add(a, inRange(t, i*100), float64(i))
	}

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute([]byte(`{
		"select": "cpu",
		"range": {"from": "20150102T000000", "to": "20150101T000000"}
	}`), cursor))
	require.Len(t, cursor.samples, 3)
	for i := 1; i < len(cursor.samples); i++ {
		require.Greater(t, cursor.samples[i-1].Timestamp, cursor.samples[i].Timestamp)
	}
}

func TestEngine_Select_Limit(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a")
	a := matcher.Match([]byte("cpu host=a"))
	for i := uint64(0); i < 10; i++ {
		store.add(a, inRange(t, i*100), float64(i))
	}

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute(
		[]byte(`{"select":"cpu","limit":3,"offset":2,`+testRange+`}`), cursor))
	require.Len(t, cursor.samples, 3)
	require.Equal(t, 2.0, cursor.samples[0].Payload.Value)
	require.Equal(t, 4.0, cursor.samples[2].Payload.Value)
}

func TestEngine_Select_GroupByTimeMarkers(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a")
	a := matcher.Match([]byte("cpu host=a"))

	// Three samples one second apart: two bucket crossings.
	for i := uint64(0); i < 3; i++ {
		store.add(a, inRange(t, i*vesper.TicksPerSecond), float64(i))
	}

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute(
		[]byte(`{"select":"cpu","group-by":{"time":"1s"},`+testRange+`}`), cursor))

	markers := 0
	for _, s := range cursor.samples {
		if s.IsMarker() {
			markers++
		}
	}
	require.Equal(t, 2, markers)
	require.Len(t, dataSamples(cursor.samples), 3)
}

func TestEngine_Select_NoData(t *testing.T) {
	engine, _, _ := newTestEngine(t, "cpu host=a")

	cursor := &collectingCursor{}
	err := engine.Execute([]byte(`{"select":"disk",`+testRange+`}`), cursor)
	require.ErrorIs(t, err, vesper.ErrNoData)
	require.ErrorIs(t, cursor.err, vesper.ErrNoData)
}

func TestEngine_ParseErrorReachesCursor(t *testing.T) {
	engine, _, _ := newTestEngine(t, "cpu host=a")

	cursor := &collectingCursor{}
	err := engine.Execute([]byte(`{"select":"cpu","aggregate":{"cpu":"max"},`+testRange+`}`), cursor)
	require.ErrorIs(t, err, vesper.ErrQueryParsing)
	require.ErrorIs(t, cursor.err, vesper.ErrQueryParsing)
	require.Empty(t, cursor.samples)
}

func TestEngine_SelectMeta(t *testing.T) {
	engine, matcher, _ := newTestEngine(t, "cpu host=a", "cpu host=b", "mem host=a")

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute([]byte(`{"select":"meta:names:cpu"}`), cursor))
	require.True(t, cursor.complete)
	require.Len(t, cursor.samples, 2)
	require.Equal(t, matcher.Match([]byte("cpu host=a")), cursor.samples[0].ParamID)
	require.Equal(t, matcher.Match([]byte("cpu host=b")), cursor.samples[1].ParamID)
}

func TestEngine_Aggregate(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a", "cpu host=b")
	a := matcher.Match([]byte("cpu host=a"))
	b := matcher.Match([]byte("cpu host=b"))

	store.add(a, inRange(t, 100), 1)
	store.add(a, inRange(t, 200), 5)
	store.add(a, inRange(t, 300), 3)
	store.add(b, inRange(t, 100), 7)

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute(
		[]byte(`{"aggregate":{"cpu":"max"},`+testRange+`}`), cursor))
	require.Len(t, cursor.samples, 2)
	require.Equal(t, a, cursor.samples[0].ParamID)
	require.Equal(t, 5.0, cursor.samples[0].Payload.Value)
	require.Equal(t, b, cursor.samples[1].ParamID)
	require.Equal(t, 7.0, cursor.samples[1].Payload.Value)
}

func TestEngine_GroupAggregate(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "x host=a")
	a := matcher.Match([]byte("x host=a"))

	// Two one-second buckets.
	store.add(a, inRange(t, 0), 1)
	store.add(a, inRange(t, vesper.TicksPerSecond/2), 5)
	store.add(a, inRange(t, vesper.TicksPerSecond), 2)

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute([]byte(`{
		"group-aggregate": {"step": "1s", "metric": "x", "func": ["min", "max"]},
		`+testRange+`}`), cursor))

	// Two buckets, two functions per bucket, consecutive samples share
	// (ts, id).
	require.Len(t, cursor.samples, 4)
	require.Equal(t, 1.0, cursor.samples[0].Payload.Value) // min of bucket 1
	require.Equal(t, 5.0, cursor.samples[1].Payload.Value) // max of bucket 1
	require.Equal(t, 2.0, cursor.samples[2].Payload.Value) // min of bucket 2
	require.Equal(t, 2.0, cursor.samples[3].Payload.Value) // max of bucket 2
	require.Equal(t, cursor.samples[0].Timestamp, cursor.samples[1].Timestamp)
}

func TestEngine_Join(t *testing.T) {
	engine, matcher, store := newTestEngine(t,
		"cpu host=a", "mem host=a")
	cpuA := matcher.Match([]byte("cpu host=a"))
	memA := matcher.Match([]byte("mem host=a"))

	// Aligned at t0 and t2; mem misses t1.
	store.add(cpuA, inRange(t, 0), 1)
	store.add(cpuA, inRange(t, 100), 2)
	store.add(cpuA, inRange(t, 200), 3)
	store.add(memA, inRange(t, 0), 10)
	store.add(memA, inRange(t, 200), 30)

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute(
		[]byte(`{"join":["cpu","mem"],`+testRange+`}`), cursor))

	// Rows keyed on the first column: t0 has both values, t1 only cpu,
	// t2 both. Every output sample carries the row id of the first
	// column.
	require.Len(t, cursor.samples, 5)
	for _, s := range cursor.samples {
		require.Equal(t, cpuA, s.ParamID)
	}
	require.Equal(t, []float64{1, 10, 2, 3, 30}, []float64{
		cursor.samples[0].Payload.Value,
		cursor.samples[1].Payload.Value,
		cursor.samples[2].Payload.Value,
		cursor.samples[3].Payload.Value,
		cursor.samples[4].Payload.Value,
	})
}

func TestEngine_Aggregate_GroupByTag(t *testing.T) {
	engine, matcher, store := newTestEngine(t,
		"cpu host=a region=eu",
		"cpu host=b region=eu",
		"cpu host=c region=us",
	)
	a := matcher.Match([]byte("cpu host=a region=eu"))
	b := matcher.Match([]byte("cpu host=b region=eu"))
	c := matcher.Match([]byte("cpu host=c region=us"))

	store.add(a, inRange(t, 100), 1)
	store.add(b, inRange(t, 200), 2)
	store.add(c, inRange(t, 300), 4)

	cursor := &collectingCursor{}
	require.NoError(t, engine.Execute([]byte(`{
		"aggregate": {"cpu": "sum"},
		"group-by": ["region"],
		`+testRange+`}`), cursor))

	// The two eu series combine into one group.
	require.Len(t, cursor.samples, 2)
	require.Equal(t, 3.0, cursor.samples[0].Payload.Value)
	require.Equal(t, 4.0, cursor.samples[1].Payload.Value)
}

func TestEngine_CursorStopsStream(t *testing.T) {
	engine, matcher, store := newTestEngine(t, "cpu host=a")
	a := matcher.Match([]byte("cpu host=a"))
	for i := uint64(0); i < 100; i++ {
		store.add(a, inRange(t, i*10), float64(i))
	}

	cursor := &collectingCursor{stopAt: 5}
	require.NoError(t, engine.Execute([]byte(`{"select":"cpu",`+testRange+`}`), cursor))
	require.Len(t, cursor.samples, 5)
}
