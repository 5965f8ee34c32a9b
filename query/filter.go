package query

import (
	"sync"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/pkg/stringpool"
	"github.com/vesperdb/vesper/series"
)

// FilterResult tells the driver what to do with a sample of one series.
type FilterResult int

const (
	// FilterProcess passes the sample into the pipeline.
	FilterProcess FilterResult = iota

	// FilterSkip drops the sample.
	FilterSkip
)

// Filter decides which series take part in a query.
type Filter interface {
	// IDs returns the ids currently matched by the filter.
	IDs() []vesper.ParamID

	// Apply classifies one series id.
	Apply(id vesper.ParamID) FilterResult
}

// IDListFilter matches a fixed, resolved id set.
type IDListFilter struct {
	ids []vesper.ParamID
	set *series.SeriesIDSet
}

// NewIDListFilter returns a filter over the given ids.
func NewIDListFilter(ids []vesper.ParamID) *IDListFilter {
	return &IDListFilter{ids: ids, set: series.NewSeriesIDSet(ids...)}
}

func (f *IDListFilter) IDs() []vesper.ParamID { return f.ids }

func (f *IDListFilter) Apply(id vesper.ParamID) FilterResult {
	if f.set.Contains(id) {
		return FilterProcess
	}
	return FilterSkip
}

// RegexFilter matches series by a regular expression over the catalog
// namespace. When the pool has grown since the last scan, the filter
// rescans only the newly interned region, so series added mid-query are
// discovered without rescanning from zero.
type RegexFilter struct {
	mu       sync.Mutex
	pattern  string
	matcher  *series.Matcher
	offset   stringpool.Offset
	prevSize uint64
	set      *series.SeriesIDSet
}

// NewRegexFilter returns a filter over every series matching pattern.
func NewRegexFilter(pattern string, matcher *series.Matcher) (*RegexFilter, error) {
	f := &RegexFilter{
		pattern: pattern,
		matcher: matcher,
		set:     series.NewSeriesIDSet(),
	}
	if err := f.refresh(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RegexFilter) refresh() error {
	pool := f.matcher.Pool()
	matches, err := pool.RegexMatch(f.pattern, &f.offset)
	if err != nil {
		return err
	}
	for _, name := range matches {
		if id := f.matcher.Match(name); id != 0 {
			f.set.Add(id)
		}
	}
	f.prevSize = pool.Size()
	return nil
}

func (f *RegexFilter) IDs() []vesper.ParamID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set.Slice()
}

func (f *RegexFilter) Apply(id vesper.ParamID) FilterResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matcher.Pool().Size() != f.prevSize {
		if err := f.refresh(); err != nil {
			return FilterSkip
		}
	}
	if f.set.Contains(id) {
		return FilterProcess
	}
	return FilterSkip
}
