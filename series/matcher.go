// Package series implements the series catalog: an interned namespace of
// canonical series names with stable numeric ids, posting lists per metric
// and per tag pair, and a regex scan facility over the namespace.
package series

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/pkg/rhh"
	"github.com/vesperdb/vesper/pkg/stringpool"
)

// Ref is an interned series name together with its id.
type Ref struct {
	Name []byte
	ID   vesper.ParamID
}

// Matcher is the two-way mapping between canonical series names and ids,
// backed by an append-only string pool. Exported methods are goroutine
// safe; the forward map is written only by the ingest path while queries
// read a size-bounded snapshot.
type Matcher struct {
	mu   sync.RWMutex
	pool *stringpool.Pool

	table *rhh.HashMap                 // canonical name -> id
	inv   map[vesper.ParamID][]byte    // id -> canonical name
	ids   []vesper.ParamID             // insertion order
	names []Ref                        // new names since the last PullNewNames

	// Posting lists over the canonical namespace. Tag postings are keyed
	// by the raw "key=value" pair.
	metricPostings map[string]*SeriesIDSet
	tagPostings    map[string]*SeriesIDSet

	nextID uint64

	logger  *zap.Logger
	metrics *Metrics
}

// NewMatcher returns a matcher assigning ids from startingID upward.
// A zero starting id is a programming error.
func NewMatcher(startingID uint64) *Matcher {
	if startingID == 0 {
		panic("series: bad starting id")
	}
	return &Matcher{
		pool:           stringpool.New(),
		table:          rhh.NewHashMap(rhh.DefaultOptions),
		inv:            make(map[vesper.ParamID][]byte),
		metricPostings: make(map[string]*SeriesIDSet),
		tagPostings:    make(map[string]*SeriesIDSet),
		nextID:         startingID,
		logger:         zap.NewNop(),
	}
}

// WithLogger sets the logger used by the matcher.
func (m *Matcher) WithLogger(log *zap.Logger) {
	m.logger = log.With(zap.String("service", "series"))
}

// WithMetrics sets the prometheus metrics updated by the matcher.
func (m *Matcher) WithMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Pool returns the string pool backing the matcher.
func (m *Matcher) Pool() *stringpool.Pool { return m.pool }

// Add canonicalizes name, interns it, and assigns the next id. Adding an
// existing name returns the already assigned id.
func (m *Matcher) Add(name []byte) (vesper.ParamID, error) {
	var buf [vesper.MaxSeriesNameLen]byte
	n, _, err := ToNormalForm(name, buf[:])
	if err != nil {
		return 0, err
	}
	canonical := buf[:n]

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.table.Get(canonical); ok {
		return vesper.ParamID(id), nil
	}

	id := vesper.ParamID(m.nextID)
	m.nextID++

	interned := m.pool.Add(canonical)
	m.table.Put(interned, uint64(id))
	m.inv[id] = interned
	m.ids = append(m.ids, id)
	m.names = append(m.names, Ref{Name: interned, ID: id})

	metric := string(interned[:len(Metric(interned))])
	postings := m.metricPostings[metric]
	if postings == nil {
		postings = NewSeriesIDSet()
		m.metricPostings[metric] = postings
	}
	postings.Add(id)
	for _, tag := range SplitTags(interned) {
		tp := m.tagPostings[string(tag)]
		if tp == nil {
			tp = NewSeriesIDSet()
			m.tagPostings[string(tag)] = tp
		}
		tp.Add(id)
	}

	if m.metrics != nil {
		m.metrics.SeriesCreated.Inc()
		m.metrics.PoolBytes.Set(float64(m.pool.Size()))
	}
	return id, nil
}

// AddNamed interns name verbatim under an externally chosen id. It is used
// to build query-local matchers whose display names (pipe-separated metric
// lists, metric:func lists) are not canonical series names. Posting lists
// are not maintained for such names.
func (m *Matcher) AddNamed(name []byte, id vesper.ParamID) {
	if len(name) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	interned := m.pool.Add(name)
	m.table.Put(interned, uint64(id))
	m.inv[id] = interned
	m.ids = append(m.ids, id)
}

// Match canonicalizes name and looks it up, returning 0 if absent.
func (m *Matcher) Match(name []byte) vesper.ParamID {
	var buf [vesper.MaxSeriesNameLen]byte
	n, _, err := ToNormalForm(name, buf[:])
	if err != nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	id, _ := m.table.Get(buf[:n])
	return vesper.ParamID(id)
}

// IDToString returns the canonical name for id, or nil if the id is
// unknown. Callers treat nil for an id they obtained from this matcher as
// catalog corruption.
func (m *Matcher) IDToString(id vesper.ParamID) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inv[id]
}

// AllIDs returns every assigned id in insertion order.
func (m *Matcher) AllIDs() []vesper.ParamID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := make([]vesper.ParamID, len(m.ids))
	copy(a, m.ids)
	return a
}

// PullNewNames returns the names added since the previous call.
func (m *Matcher) PullNewNames() []Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.names
	m.names = nil
	return names
}

// RegexMatch scans the interned namespace and returns every name matching
// pattern, with ids.
func (m *Matcher) RegexMatch(pattern string) ([]Ref, error) {
	matches, err := m.pool.RegexMatch(pattern, nil)
	if err != nil {
		return nil, errors.Wrapf(vesper.ErrQueryParsing, "can't compile %q: %s", pattern, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]Ref, 0, len(matches))
	for _, name := range matches {
		id, ok := m.table.Get(name)
		if !ok {
			continue
		}
		refs = append(refs, Ref{Name: name, ID: vesper.ParamID(id)})
	}
	return refs, nil
}

// IDsForMetric returns the ids of every series of the metric, in
// insertion order.
func (m *Matcher) IDsForMetric(metric string) []vesper.ParamID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	postings := m.metricPostings[metric]
	if postings == nil {
		return nil
	}
	return postings.Slice()
}

// IDsForTags returns the ids of the metric's series that carry, for every
// tag key in tags, one of the listed values. Values of one key are OR'd;
// keys are AND'd.
func (m *Matcher) IDsForTags(metric string, tags map[string][]string) []vesper.ParamID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	postings := m.metricPostings[metric]
	if postings == nil {
		return nil
	}

	sets := []*SeriesIDSet{postings}
	for key, values := range tags {
		union := make([]*SeriesIDSet, 0, len(values))
		for _, value := range values {
			if tp := m.tagPostings[key+"="+value]; tp != nil {
				union = append(union, tp)
			}
		}
		sets = append(sets, UnionSeriesIDSets(union...))
	}
	return IntersectSeriesIDSets(sets...).Slice()
}
