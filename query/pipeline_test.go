package query_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/query"
)

// collectingCursor buffers everything the pipeline emits.
type collectingCursor struct {
	samples  []vesper.Sample
	complete bool
	err      error
	stopAt   int // stop the stream after this many samples, 0 = never
}

func (c *collectingCursor) Put(sample vesper.Sample) bool {
	c.samples = append(c.samples, sample)
	return c.stopAt == 0 || len(c.samples) < c.stopAt
}

func (c *collectingCursor) Complete() { c.complete = true }

func (c *collectingCursor) SetError(err error) { c.err = err }

// dataSamples filters out bucket markers.
func dataSamples(samples []vesper.Sample) []vesper.Sample {
	var out []vesper.Sample
	for _, s := range samples {
		if !s.IsMarker() {
			out = append(out, s)
		}
	}
	return out
}

func TestLimiter(t *testing.T) {
	cursor := &collectingCursor{}
	limiter := query.NewLimiter(2, 1, query.NewTerminalNode(cursor))

	s := func(ts uint64) vesper.Sample { return vesper.NewSample(vesper.Timestamp(ts), 1, 0.5) }

	require.True(t, limiter.Put(s(1)))
	require.True(t, limiter.Put(s(2)))
	require.True(t, limiter.Put(s(3)))
	require.False(t, limiter.Put(s(4)))

	require.Len(t, cursor.samples, 2)
	require.Equal(t, vesper.Timestamp(2), cursor.samples[0].Timestamp)
	require.Equal(t, vesper.Timestamp(3), cursor.samples[1].Timestamp)
}

func TestLimiter_OffsetOnly(t *testing.T) {
	cursor := &collectingCursor{}
	limiter := query.NewLimiter(0, 2, query.NewTerminalNode(cursor))

	for i := uint64(1); i <= 5; i++ {
		require.True(t, limiter.Put(vesper.NewSample(vesper.Timestamp(i), 1, 0)))
	}
	require.Len(t, cursor.samples, 3)
}

func TestRandomSampler(t *testing.T) {
	cursor := &collectingCursor{}
	sampler := query.NewRandomSampler(3, 42, query.NewTerminalNode(cursor))

	inputs := []vesper.Sample{
		vesper.NewSample(1, 'A', 1),
		vesper.NewSample(2, 'B', 2),
		vesper.NewSample(3, 'C', 3),
		vesper.NewSample(4, 'D', 4),
	}
	for _, s := range inputs {
		require.True(t, sampler.Put(s))
	}
	require.True(t, sampler.Put(vesper.NewMarkerSample(5)))

	// Exactly the reservoir capacity survives, in (ts, id) order, each
	// drawn from the input multiset.
	require.Len(t, cursor.samples, 3)
	require.True(t, sort.SliceIsSorted(cursor.samples, func(i, j int) bool {
		return cursor.samples[i].Timestamp < cursor.samples[j].Timestamp
	}))
	seen := make(map[vesper.Timestamp]bool)
	for _, s := range cursor.samples {
		require.False(t, seen[s.Timestamp], "duplicate sample emitted")
		seen[s.Timestamp] = true
		found := false
		for _, in := range inputs {
			if in == s {
				found = true
			}
		}
		require.True(t, found, "sample not drawn from the input")
	}
}

func TestRandomSampler_ShortStream(t *testing.T) {
	cursor := &collectingCursor{}
	sampler := query.NewRandomSampler(10, 1, query.NewTerminalNode(cursor))

	sampler.Put(vesper.NewSample(2, 1, 0))
	sampler.Put(vesper.NewSample(1, 2, 0))
	sampler.Complete()

	// Streams shorter than the capacity pass through, re-sorted.
	require.Len(t, cursor.samples, 2)
	require.Equal(t, vesper.Timestamp(1), cursor.samples[0].Timestamp)
	require.Equal(t, vesper.Timestamp(2), cursor.samples[1].Timestamp)
	require.True(t, cursor.complete)
}

func TestRandomSampler_UniformInAggregate(t *testing.T) {
	// Over many trials every input position should be kept with roughly
	// equal frequency.
	const trials = 2000
	counts := make(map[vesper.ParamID]int)
	for trial := 0; trial < trials; trial++ {
		cursor := &collectingCursor{}
		sampler := query.NewRandomSampler(1, int64(trial), query.NewTerminalNode(cursor))
		for i := uint64(1); i <= 4; i++ {
			sampler.Put(vesper.NewSample(vesper.Timestamp(i), vesper.ParamID(i), 0))
		}
		sampler.Complete()
		require.Len(t, cursor.samples, 1)
		counts[cursor.samples[0].ParamID]++
	}
	for id, count := range counts {
		if count < trials/8 || count > trials/2 {
			t.Fatalf("position %d kept %d times out of %d, far from uniform", id, count, trials)
		}
	}
}

func TestPAA_Mean(t *testing.T) {
	cursor := &collectingCursor{}
	paa := query.NewMeanPAA(query.NewTerminalNode(cursor))

	paa.Put(vesper.NewSample(1, 7, 1))
	paa.Put(vesper.NewSample(2, 7, 2))
	paa.Put(vesper.NewSample(3, 7, 4))
	paa.Put(vesper.NewMarkerSample(10))

	data := dataSamples(cursor.samples)
	require.Len(t, data, 1)
	require.Equal(t, vesper.ParamID(7), data[0].ParamID)
	require.InDelta(t, 7.0/3.0, data[0].Payload.Value, 1e-12)
	require.Equal(t, vesper.Timestamp(10), data[0].Timestamp)
}

func TestPAA_Median(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		exp    float64
	}{
		{name: "single", values: []float64{3}, exp: 3},
		{name: "two averages", values: []float64{3, 5}, exp: 4},
		{name: "odd", values: []float64{9, 1, 5}, exp: 5},
		{name: "even", values: []float64{4, 1, 3, 2}, exp: 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cursor := &collectingCursor{}
			paa := query.NewMedianPAA(query.NewTerminalNode(cursor))
			for i, v := range test.values {
				paa.Put(vesper.NewSample(vesper.Timestamp(i+1), 1, v))
			}
			paa.Complete()
			data := dataSamples(cursor.samples)
			require.Len(t, data, 1)
			require.Equal(t, test.exp, data[0].Payload.Value)
		})
	}
}

func TestPAA_Max(t *testing.T) {
	cursor := &collectingCursor{}
	paa := query.NewMaxPAA(query.NewTerminalNode(cursor))

	paa.Put(vesper.NewSample(1, 1, -5))
	paa.Put(vesper.NewSample(2, 1, -2))
	paa.Put(vesper.NewSample(3, 1, -9))
	paa.Complete()

	data := dataSamples(cursor.samples)
	require.Len(t, data, 1)
	require.Equal(t, -2.0, data[0].Payload.Value)
}

func TestPAA_PerSeriesBuckets(t *testing.T) {
	cursor := &collectingCursor{}
	paa := query.NewMeanPAA(query.NewTerminalNode(cursor))

	// Two series inside one bucket, then a second bucket.
	paa.Put(vesper.NewSample(1, 1, 10))
	paa.Put(vesper.NewSample(1, 2, 20))
	paa.Put(vesper.NewSample(2, 1, 30))
	paa.Put(vesper.NewMarkerSample(5))
	paa.Put(vesper.NewSample(6, 2, 40))
	paa.Complete()

	data := dataSamples(cursor.samples)
	require.Len(t, data, 3)
	require.Equal(t, vesper.ParamID(1), data[0].ParamID)
	require.Equal(t, 20.0, data[0].Payload.Value)
	require.Equal(t, vesper.ParamID(2), data[1].ParamID)
	require.Equal(t, 20.0, data[1].Payload.Value)
	require.Equal(t, vesper.ParamID(2), data[2].ParamID)
	require.Equal(t, 40.0, data[2].Payload.Value)
}

func TestGroupByTime_Forward(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)
	groupBy := query.NewGroupByTime(10)

	// Timestamps 0..35: exactly (35-0)/10 = 3 boundary crossings.
	for ts := uint64(0); ts <= 35; ts += 5 {
		require.True(t, groupBy.Put(vesper.NewSample(vesper.Timestamp(ts), 1, 0), terminal))
	}

	var markers []vesper.Timestamp
	for _, s := range cursor.samples {
		if s.IsMarker() {
			markers = append(markers, s.Timestamp)
		}
	}
	require.Equal(t, []vesper.Timestamp{10, 20, 30}, markers)
	require.Len(t, dataSamples(cursor.samples), 8)
}

func TestGroupByTime_FirstSampleAlignment(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)
	groupBy := query.NewGroupByTime(10)

	// The first bucket is aligned to ts/step*step, so 27 falls into
	// [20, 30) and 31 crosses one boundary.
	groupBy.Put(vesper.NewSample(27, 1, 0), terminal)
	groupBy.Put(vesper.NewSample(31, 1, 0), terminal)

	var markers []vesper.Timestamp
	for _, s := range cursor.samples {
		if s.IsMarker() {
			markers = append(markers, s.Timestamp)
		}
	}
	require.Equal(t, []vesper.Timestamp{30}, markers)
}

func TestGroupByTime_Backward(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)
	groupBy := query.NewGroupByTime(10)

	for _, ts := range []uint64{35, 28, 17, 5} {
		require.True(t, groupBy.Put(vesper.NewSample(vesper.Timestamp(ts), 1, 0), terminal))
	}

	var markers int
	for _, s := range cursor.samples {
		if s.IsMarker() {
			markers++
		}
	}
	require.Equal(t, 3, markers)
}

func TestGroupByTime_Disabled(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)
	groupBy := query.NewGroupByTime(0)

	require.True(t, groupBy.Empty())
	groupBy.Put(vesper.NewSample(100, 1, 0), terminal)
	require.Len(t, cursor.samples, 1)
}

func TestTerminalNode_SwallowsMargin(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)

	margin := vesper.Sample{Timestamp: 1, Payload: vesper.Payload{Type: vesper.PayloadMargin}}
	require.True(t, terminal.Put(margin))
	require.True(t, terminal.Put(vesper.NewSample(2, 1, 0)))
	require.Len(t, cursor.samples, 1)
}

func TestNewScanQueryProcessor_ValidatesPipeline(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)

	// A terminal in front of a transform is invalid.
	limiter := query.NewLimiter(1, 0, terminal)
	_, err := query.NewScanQueryProcessor(
		[]query.Node{terminal, limiter}, "cpu", 0, 10, query.NewIDListFilter(nil), nil)
	require.ErrorIs(t, err, vesper.ErrQueryParsing)

	// A node that requires flush intervals needs a group-by time step.
	paa := query.NewMeanPAA(terminal)
	_, err = query.NewScanQueryProcessor(
		[]query.Node{paa, terminal}, "cpu", 0, 10, query.NewIDListFilter(nil), nil)
	require.ErrorIs(t, err, vesper.ErrQueryParsing)

	_, err = query.NewScanQueryProcessor(
		[]query.Node{paa, terminal}, "cpu", 0, 10, query.NewIDListFilter(nil),
		query.NewGroupByTime(10))
	require.NoError(t, err)
}

func TestScanQueryProcessor_Bounds(t *testing.T) {
	cursor := &collectingCursor{}
	terminal := query.NewTerminalNode(cursor)

	proc, err := query.NewScanQueryProcessor(
		[]query.Node{terminal}, "cpu", 100, 10, query.NewIDListFilter(nil), nil)
	require.NoError(t, err)
	require.Equal(t, vesper.Timestamp(10), proc.Lowerbound())
	require.Equal(t, vesper.Timestamp(100), proc.Upperbound())
	require.Equal(t, query.DirectionBackward, proc.Direction())

	proc, err = query.NewScanQueryProcessor(
		[]query.Node{terminal}, "cpu", 10, 100, query.NewIDListFilter(nil), nil)
	require.NoError(t, err)
	require.Equal(t, query.DirectionForward, proc.Direction())

	proc.Stop()
	require.True(t, cursor.complete)
}

func TestMetadataQueryProcessor(t *testing.T) {
	cursor := &collectingCursor{}
	ids := []vesper.ParamID{3, 5, 8}
	proc := query.NewMetadataQueryProcessor(query.NewIDListFilter(ids), query.NewTerminalNode(cursor))

	require.True(t, proc.Start())
	require.True(t, cursor.complete)
	require.Len(t, cursor.samples, 3)
	for i, id := range ids {
		require.Equal(t, id, cursor.samples[i].ParamID)
		require.Equal(t, vesper.PayloadParamID, cursor.samples[i].Payload.Type)
	}

	// Put is a no-op.
	require.False(t, proc.Put(vesper.NewSample(1, 1, 0)))
}
