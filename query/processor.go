package query

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vesperdb/vesper"
)

// Direction is the temporal direction of a query.
type Direction int

const (
	// DirectionForward scans from older to newer samples.
	DirectionForward Direction = iota

	// DirectionBackward scans from newer to older samples.
	DirectionBackward
)

// Processor drives one query's sample stream through its pipeline.
type Processor interface {
	Lowerbound() vesper.Timestamp
	Upperbound() vesper.Timestamp
	Direction() Direction
	Filter() Filter

	// Start begins processing. Metadata processors emit their whole
	// result here.
	Start() bool

	// Put feeds one sample into the pipeline. It returns false when
	// the stream should halt.
	Put(sample vesper.Sample) bool

	// Stop completes the pipeline.
	Stop()

	// SetError forwards a query error to every node.
	SetError(err error)
}

// ScanQueryProcessor streams raw or materialized samples through a node
// pipeline, injecting group-by bucket markers on the way in.
type ScanQueryProcessor struct {
	lowerbound vesper.Timestamp
	upperbound vesper.Timestamp
	direction  Direction
	metric     string
	groupBy    *GroupByTime
	filter     Filter
	root       Node
}

// NewScanQueryProcessor wires a pipeline from its node list. Nodes are
// ordered head to tail; terminal nodes may only sit at the tail, so no
// non-terminal node may follow a terminal one. If any node
// requires flush intervals, the query must carry a group-by time step.
func NewScanQueryProcessor(nodes []Node, metric string, begin, end vesper.Timestamp, filter Filter, groupBy *GroupByTime) (*ScanQueryProcessor, error) {
	if len(nodes) == 0 {
		panic("query: nodes shouldn't be empty")
	}
	if groupBy == nil {
		groupBy = NewGroupByTime(0)
	}

	// Validate the pipeline before any sample flows.
	if groupBy.Empty() {
		for _, node := range nodes {
			if node.Requirements()&ReqGroupByRequired != 0 {
				return nil, errors.Wrap(vesper.ErrQueryParsing, "`group-by` required")
			}
		}
	}
	normal := 0
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Requirements()&ReqTerminal != 0 {
			if normal != 0 {
				return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid pipeline order")
			}
		} else {
			normal++
		}
	}

	lower, upper := begin, end
	direction := DirectionForward
	if begin > end {
		lower, upper = end, begin
		direction = DirectionBackward
	}
	return &ScanQueryProcessor{
		lowerbound: lower,
		upperbound: upper,
		direction:  direction,
		metric:     metric,
		groupBy:    groupBy,
		filter:     filter,
		root:       nodes[0],
	}, nil
}

func (p *ScanQueryProcessor) Lowerbound() vesper.Timestamp { return p.lowerbound }

func (p *ScanQueryProcessor) Upperbound() vesper.Timestamp { return p.upperbound }

func (p *ScanQueryProcessor) Direction() Direction { return p.direction }

// Metric returns the metric name of interest.
func (p *ScanQueryProcessor) Metric() string { return p.metric }

func (p *ScanQueryProcessor) Filter() Filter { return p.filter }

func (p *ScanQueryProcessor) Start() bool { return true }

func (p *ScanQueryProcessor) Put(sample vesper.Sample) bool {
	return p.groupBy.Put(sample, p.root)
}

func (p *ScanQueryProcessor) Stop() {
	p.root.Complete()
}

func (p *ScanQueryProcessor) SetError(err error) {
	p.root.SetError(err)
}

// MetadataQueryProcessor answers metadata queries: Start emits an id-only
// sample for every id of the filter and completes; Put is a no-op.
type MetadataQueryProcessor struct {
	filter Filter
	root   Node
}

// NewMetadataQueryProcessor returns a processor over the filter's ids.
func NewMetadataQueryProcessor(filter Filter, root Node) *MetadataQueryProcessor {
	return &MetadataQueryProcessor{filter: filter, root: root}
}

func (p *MetadataQueryProcessor) Lowerbound() vesper.Timestamp { return vesper.MaxTimestamp }

func (p *MetadataQueryProcessor) Upperbound() vesper.Timestamp { return vesper.MaxTimestamp }

func (p *MetadataQueryProcessor) Direction() Direction { return DirectionForward }

func (p *MetadataQueryProcessor) Filter() Filter { return p.filter }

func (p *MetadataQueryProcessor) Start() bool {
	for _, id := range p.filter.IDs() {
		if !p.root.Put(vesper.NewIDSample(id)) {
			return false
		}
	}
	p.root.Complete()
	return true
}

func (p *MetadataQueryProcessor) Put(sample vesper.Sample) bool {
	// no-op
	return false
}

func (p *MetadataQueryProcessor) Stop() {
	p.root.Complete()
}

func (p *MetadataQueryProcessor) SetError(err error) {
	p.root.SetError(err)
}

// Engine parses, plans, and executes queries against a matcher and a
// storage engine.
type Engine struct {
	parser *Parser
	cstore ColumnStore
	logger *zap.Logger
}

// NewEngine returns a query engine over the given catalog and storage.
func NewEngine(parser *Parser, cstore ColumnStore, logger *zap.Logger) *Engine {
	return &Engine{parser: parser, cstore: cstore, logger: logger}
}

// buildTopology assembles the node pipeline for a query, tail first: the
// terminal sink, then a limiter when the query carries limit/offset.
func (e *Engine) buildTopology(data []byte, cursor InternalCursor) ([]Node, error) {
	terminal := NewTerminalNode(cursor)
	nodes := []Node{terminal}

	limit, offset, err := e.parser.ParseLimitOffset(data)
	if err != nil {
		return nil, err
	}
	if limit != 0 || offset != 0 {
		nodes = append([]Node{NewLimiter(limit, offset, terminal)}, nodes...)
	}
	return nodes, nil
}

// Execute runs one query document end to end, streaming the result into
// cursor. Parse errors are reported both on the cursor and as the return
// value; no sample flows for a rejected query.
func (e *Engine) Execute(data []byte, cursor InternalCursor) error {
	fail := func(err error) error {
		cursor.SetError(err)
		return err
	}

	kind, err := e.parser.QueryKind(data)
	if err != nil {
		return fail(err)
	}

	if kind == KindSelectMeta {
		ids, err := e.parser.ParseSelectMetaQuery(data)
		if err != nil {
			return fail(err)
		}
		proc := NewMetadataQueryProcessor(NewIDListFilter(ids), NewTerminalNode(cursor))
		proc.Start()
		return nil
	}

	var req ReshapeRequest
	var metric string
	switch kind {
	case KindSelect:
		metric, _ = e.parser.parseSelectStmt(data)
		req, err = e.parser.ParseSelectQuery(data)
	case KindAggregate:
		req, err = e.parser.ParseAggregateQuery(data)
	case KindGroupAggregate:
		req, err = e.parser.ParseGroupAggregateQuery(data)
	case KindJoin:
		req, err = e.parser.ParseJoinQuery(data)
	default:
		err = errors.Wrap(vesper.ErrQueryParsing, "unknown query kind")
	}
	if err != nil {
		return fail(err)
	}

	step, err := e.parser.ParseGroupByTime(data)
	if err != nil {
		return fail(err)
	}

	nodes, err := e.buildTopology(data, cursor)
	if err != nil {
		return fail(err)
	}

	proc, err := NewScanQueryProcessor(nodes, metric,
		req.Select.Begin, req.Select.End,
		NewIDListFilter(req.Select.Columns[0].IDs),
		NewGroupByTime(step))
	if err != nil {
		return fail(err)
	}

	plan := NewQueryPlan(req)
	if !proc.Start() {
		return nil
	}
	if err := ExecutePlan(plan, e.cstore, proc); err != nil {
		e.logger.Error("Query execution failed", zap.Error(err))
		return err
	}
	proc.Stop()
	return nil
}
