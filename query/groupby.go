package query

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// GroupByTime divides the sample stream into fixed-width time buckets by
// injecting an EMPTY marker when a sample falls outside the current bucket,
// in whichever temporal direction the stream is moving. Each such sample
// moves the bucket by one step and is preceded by one marker, so a sample
// that skips over several buckets still yields a single marker.
type GroupByTime struct {
	step       vesper.Duration
	firstHit   bool
	lowerbound vesper.Timestamp
	upperbound vesper.Timestamp
}

// NewGroupByTime returns a bucketing statement with the given step. A zero
// step disables bucketing.
func NewGroupByTime(step vesper.Duration) *GroupByTime {
	return &GroupByTime{step: step, firstHit: true}
}

// Empty reports whether bucketing is disabled.
func (g *GroupByTime) Empty() bool { return g.step == 0 }

// Put forwards sample into next, preceded by a boundary marker whenever
// the sample's timestamp leaves the current bucket.
func (g *GroupByTime) Put(sample vesper.Sample, next Node) bool {
	if g.step != 0 {
		ts := sample.Timestamp
		if g.firstHit {
			g.firstHit = false
			aligned := ts / vesper.Timestamp(g.step) * vesper.Timestamp(g.step)
			g.lowerbound = aligned
			g.upperbound = aligned + vesper.Timestamp(g.step)
		}
		if ts >= g.upperbound {
			// Forward direction.
			if !next.Put(vesper.NewMarkerSample(g.upperbound)) {
				return false
			}
			g.lowerbound += vesper.Timestamp(g.step)
			g.upperbound += vesper.Timestamp(g.step)
		} else if ts < g.lowerbound {
			// Backward direction.
			if !next.Put(vesper.NewMarkerSample(g.upperbound)) {
				return false
			}
			g.lowerbound -= vesper.Timestamp(g.step)
			g.upperbound -= vesper.Timestamp(g.step)
		}
	}
	return next.Put(sample)
}

// GroupByTag projects the series of one metric onto the subset of their
// tags named in a group-by clause. Series sharing a projected tag tuple
// fold into one synthetic group-representative series registered in a
// query-local matcher.
type GroupByTag struct {
	mapping map[vesper.ParamID]vesper.ParamID
	local   *series.Matcher
}

// NewGroupByTag builds the projection for every series of metric known to
// the global matcher.
func NewGroupByTag(matcher *series.Matcher, metric string, tags []string) (*GroupByTag, error) {
	g := &GroupByTag{
		mapping: make(map[vesper.ParamID]vesper.ParamID),
		local:   series.NewMatcher(1),
	}

	keep := make(map[string]bool, len(tags))
	for _, tag := range tags {
		keep[tag] = true
	}

	for _, id := range matcher.IDsForMetric(metric) {
		name := matcher.IDToString(id)
		if name == nil {
			panic("query: series catalog is broken")
		}

		var buf bytes.Buffer
		buf.Write(series.Metric(name))
		for _, tag := range series.SplitTags(name) {
			eq := bytes.IndexByte(tag, '=')
			if eq < 0 || !keep[string(tag[:eq])] {
				continue
			}
			buf.WriteByte(' ')
			buf.Write(tag)
		}

		groupID, err := g.local.Add(buf.Bytes())
		if err != nil {
			return nil, errors.Wrapf(err, "can't group series %q", name)
		}
		g.mapping[id] = groupID
	}
	return g, nil
}

// Mapping returns the per-query map from series ids to group ids.
func (g *GroupByTag) Mapping() map[vesper.ParamID]vesper.ParamID { return g.mapping }

// LocalMatcher returns the matcher naming the group representatives.
func (g *GroupByTag) LocalMatcher() *series.Matcher { return g.local }
