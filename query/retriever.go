package query

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// SeriesRetriever translates the metric and tag predicates of a where
// clause into the matching series ids. Tag predicates are compiled into
// posting-list intersections over the catalog's tag index; values of one
// key are OR'd, keys are AND'd.
type SeriesRetriever struct {
	metrics []string
	tags    map[string][]string
	logger  *zap.Logger
}

// NewSeriesRetriever returns a retriever matching every series of the
// given metrics. With no metrics it matches the whole catalog.
func NewSeriesRetriever(metrics []string, logger *zap.Logger) *SeriesRetriever {
	return &SeriesRetriever{
		metrics: metrics,
		tags:    make(map[string][]string),
		logger:  logger,
	}
}

// AddTag restricts the retriever to series carrying name=value.
func (r *SeriesRetriever) AddTag(name, value string) error {
	return r.AddTags(name, []string{value})
}

// AddTags restricts the retriever to series carrying one of the values for
// the tag. Each tag may be constrained at most once.
func (r *SeriesRetriever) AddTags(name string, values []string) error {
	if len(r.metrics) == 0 {
		r.logger.Error("Metric not set")
		return errors.Wrap(vesper.ErrBadArg, "metric not set")
	}
	if _, ok := r.tags[name]; ok {
		// Duplicates not allowed.
		r.logger.Error("Duplicate tag found", zap.String("tag", name))
		return errors.Wrapf(vesper.ErrBadArg, "duplicate tag %q", name)
	}
	r.tags[name] = values
	return nil
}

// ExtractIDs resolves the predicates against the matcher. For a single
// metric the result is that metric's matching ids in insertion order. For
// k metrics the result interleaves one id per metric for every series
// matched on the first metric, with 0 standing in for a missing
// metric/tags combination; its length is always a multiple of k.
func (r *SeriesRetriever) ExtractIDs(matcher *series.Matcher) ([]vesper.ParamID, error) {
	// Three cases: no metric (the whole catalog), only a metric, and a
	// metric with tag predicates.
	if len(r.metrics) == 0 {
		return matcher.AllIDs(), nil
	}

	first := r.metrics[0]
	var ids []vesper.ParamID
	if len(r.tags) == 0 {
		ids = matcher.IDsForMetric(first)
	} else {
		ids = matcher.IDsForTags(first, r.tags)
	}

	if len(r.metrics) == 1 {
		return ids, nil
	}

	// Substitute the metric prefix of every matched name with each of
	// the remaining metrics and look the alternatives up. A zero id
	// records a combination the catalog doesn't have.
	full := make([]vesper.ParamID, 0, len(ids)*len(r.metrics))
	buf := make([]byte, 0, vesper.MaxSeriesNameLen)
	for _, id := range ids {
		name := matcher.IDToString(id)
		if name == nil {
			// This only happens after memory corruption or a
			// data race and clearly indicates an error.
			r.logger.Error("Matcher data is broken", zap.Uint64("id", uint64(id)))
			panic("query: series catalog is broken")
		}
		tags := name[len(first):]

		full = append(full, id)
		for _, metric := range r.metrics[1:] {
			buf = append(buf[:0], metric...)
			buf = append(buf, tags...)
			full = append(full, matcher.Match(buf))
		}
	}
	return full, nil
}
