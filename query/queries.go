package query

import (
	"bytes"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// ParseSelectMetaQuery resolves a { "select": "meta:names[:metric]" }
// query into the matching series ids. No time range is required.
func (p *Parser) ParseSelectMetaQuery(data []byte) ([]vesper.ParamID, error) {
	if err := p.validate(data); err != nil {
		return nil, err
	}
	name, err := p.parseSelectStmt(data)
	if err != nil {
		return nil, err
	}
	if !isMetaQuery(name) {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "not a metadata query")
	}

	var metrics []string
	if len(name) > len("meta:names") && strings.HasPrefix(name, "meta:names:") {
		metrics = append(metrics, strings.TrimPrefix(name, "meta:names:"))
	}

	return p.parseWhereClause(data, metrics)
}

// ParseSelectQuery resolves a raw-sample select query.
func (p *Parser) ParseSelectQuery(data []byte) (ReshapeRequest, error) {
	var result ReshapeRequest

	if err := p.validate(data); err != nil {
		return result, err
	}

	p.logger.Info("Parsing query", zap.ByteString("query", data))

	// Metric name.
	metric, err := p.parseSelectStmt(data)
	if err != nil {
		return result, err
	}

	// Group-by statement.
	tags, err := p.parseGroupByTags(data)
	if err != nil {
		return result, err
	}
	var groupByTag *GroupByTag
	if len(tags) != 0 {
		if groupByTag, err = NewGroupByTag(p.matcher, metric, tags); err != nil {
			return result, err
		}
	}

	// Order-by statement.
	order, err := p.parseOrderBy(data)
	if err != nil {
		return result, err
	}

	// Where statement.
	ids, err := p.parseWhereClause(data, []string{metric})
	if err != nil {
		return result, err
	}

	// Read timestamps.
	begin, end, err := p.parseRange(data)
	if err != nil {
		return result, err
	}

	// Initialize the request.
	result.Agg.Enabled = false
	result.Select.Begin = begin
	result.Select.End = end
	result.Select.Columns = []Column{{IDs: ids}}
	result.Select.Matcher = p.matcher
	result.OrderBy = order

	result.GroupBy.Enabled = groupByTag != nil
	if groupByTag != nil {
		result.GroupBy.TransientMap = groupByTag.Mapping()
		result.GroupBy.Matcher = groupByTag.LocalMatcher()
		result.Select.Matcher = groupByTag.LocalMatcher()
	}

	return result, nil
}

// ParseAggregateQuery resolves an { "aggregate": { metric: func } } query.
// Aggregates are computed per series over the whole range; an explicit
// order-by statement is disallowed.
func (p *Parser) ParseAggregateQuery(data []byte) (ReshapeRequest, error) {
	var result ReshapeRequest

	if err := p.validate(data); err != nil {
		return result, err
	}

	p.logger.Info("Parsing query", zap.ByteString("query", data))

	// Metric name and function.
	metric, fn, err := p.parseAggregateStmt(data)
	if err != nil {
		return result, err
	}

	// Group-by statement.
	tags, err := p.parseGroupByTags(data)
	if err != nil {
		return result, err
	}
	var groupByTag *GroupByTag
	if len(tags) != 0 {
		if groupByTag, err = NewGroupByTag(p.matcher, metric, tags); err != nil {
			return result, err
		}
	}

	// An order-by statement is disallowed.
	if _, dataType, _, _ := jsonparser.Get(data, "order-by"); dataType != jsonparser.NotExist {
		p.logger.Error("Unexpected `order-by` statement found in `aggregate` query")
		return result, errors.Wrap(vesper.ErrQueryParsing, "unexpected `order-by` statement in `aggregate` query")
	}

	// Where statement.
	ids, err := p.parseWhereClause(data, []string{metric})
	if err != nil {
		return result, err
	}

	// Read timestamps.
	begin, end, err := p.parseRange(data)
	if err != nil {
		return result, err
	}

	// Initialize the request.
	result.Agg.Enabled = true
	result.Agg.Funcs = []AggregationFunction{fn}

	result.Select.Begin = begin
	result.Select.End = end
	result.Select.Columns = []Column{{IDs: ids}}
	result.Select.Matcher = p.matcher

	result.OrderBy = OrderBySeries

	result.GroupBy.Enabled = groupByTag != nil
	if groupByTag != nil {
		result.GroupBy.TransientMap = groupByTag.Mapping()
		result.GroupBy.Matcher = groupByTag.LocalMatcher()
		result.Select.Matcher = groupByTag.LocalMatcher()
	}

	return result, nil
}

// ParseGroupAggregateQuery resolves a per-bucket aggregate query.
func (p *Parser) ParseGroupAggregateQuery(data []byte) (ReshapeRequest, error) {
	var result ReshapeRequest

	if err := p.validate(data); err != nil {
		return result, err
	}

	p.logger.Info("Parsing query", zap.ByteString("query", data))

	gagg, err := p.parseGroupAggregateStmt(data)
	if err != nil {
		return result, err
	}
	if len(gagg.funcs) == 0 {
		p.logger.Error("Aggregation function is not set")
		return result, errors.Wrap(vesper.ErrQueryParsing, "aggregation function is not set")
	}
	if gagg.step == 0 {
		p.logger.Error("Step can't be zero")
		return result, errors.Wrap(vesper.ErrQueryParsing, "step can't be zero")
	}

	// Group-by statement.
	tags, err := p.parseGroupByTags(data)
	if err != nil {
		return result, err
	}
	var groupByTag *GroupByTag
	if len(tags) != 0 {
		if groupByTag, err = NewGroupByTag(p.matcher, gagg.metric, tags); err != nil {
			return result, err
		}
	}

	// Where statement.
	ids, err := p.parseWhereClause(data, []string{gagg.metric})
	if err != nil {
		return result, err
	}

	// Read timestamps.
	begin, end, err := p.parseRange(data)
	if err != nil {
		return result, err
	}

	// Initialize the request.
	result.Agg.Enabled = true
	result.Agg.Funcs = gagg.funcs
	result.Agg.Step = gagg.step

	result.Select.Begin = begin
	result.Select.End = end
	result.Select.Columns = []Column{{IDs: ids}}

	if result.OrderBy, err = p.parseOrderBy(data); err != nil {
		return result, err
	}

	if err := p.initGroupAggregateMatcher(&result, gagg.metric, gagg.funcs); err != nil {
		return result, err
	}

	result.GroupBy.Enabled = groupByTag != nil
	if groupByTag != nil {
		result.GroupBy.TransientMap = groupByTag.Mapping()
		result.GroupBy.Matcher = groupByTag.LocalMatcher()
		result.Select.Matcher = groupByTag.LocalMatcher()
	}

	return result, nil
}

// initGroupAggregateMatcher rebuilds the output matcher so every id's
// display name lists metric:func for each aggregation function, followed
// by the original tags: "x:min|x:max host=a".
func (p *Parser) initGroupAggregateMatcher(req *ReshapeRequest, metric string, funcs []AggregationFunction) error {
	local := series.NewMatcher(1)
	for _, id := range req.Select.Columns[0].IDs {
		name := p.matcher.IDToString(id)
		if name == nil {
			p.logger.Error("Matcher data is broken", zap.Uint64("id", uint64(id)))
			panic("query: series catalog is broken")
		}
		if !bytes.HasPrefix(name, []byte(metric)) {
			p.logger.Error("Matcher initialization failed, invalid metric name",
				zap.ByteString("name", name))
			return errors.Wrap(vesper.ErrBadData, "invalid metric name")
		}
		tags := name[len(metric):]

		var str bytes.Buffer
		for i, fn := range funcs {
			if i > 0 {
				str.WriteByte('|')
			}
			str.WriteString(metric)
			str.WriteByte(':')
			str.WriteString(fn.String())
		}
		str.Write(tags)
		local.AddNamed(str.Bytes(), id)
	}
	req.Select.Matcher = local
	return nil
}

// ParseJoinQuery resolves a { "join": [m1, m2, ...] } query aligning
// several metrics by shared tags.
func (p *Parser) ParseJoinQuery(data []byte) (ReshapeRequest, error) {
	var result ReshapeRequest

	if err := p.validate(data); err != nil {
		return result, err
	}

	metrics, err := p.parseJoinStmt(data)
	if err != nil {
		return result, err
	}

	// Order-by statement.
	if result.OrderBy, err = p.parseOrderBy(data); err != nil {
		return result, err
	}

	// Where statement.
	ids, err := p.parseWhereClause(data, metrics)
	if err != nil {
		return result, err
	}

	// Read timestamps.
	begin, end, err := p.parseRange(data)
	if err != nil {
		return result, err
	}

	result.GroupBy.Enabled = false
	result.Agg.Enabled = false
	result.Select.Begin = begin
	result.Select.End = end

	// The resolver interleaves one id per metric for every matched
	// series; un-interleave into per-metric columns.
	ncolumns := len(metrics)
	if len(ids)%ncolumns != 0 {
		panic("query: invalid `where` statement processing results")
	}
	nentries := len(ids) / ncolumns
	for c := 0; c < ncolumns; c++ {
		column := Column{IDs: make([]vesper.ParamID, 0, nentries)}
		for i := 0; i < nentries; i++ {
			column.IDs = append(column.IDs, ids[i*ncolumns+c])
		}
		result.Select.Columns = append(result.Select.Columns, column)
	}

	if err := p.initJoinMatcher(&result, metrics); err != nil {
		return result, err
	}

	return result, nil
}

// initJoinMatcher rebuilds the output matcher so every row id's display
// name lists the joined metrics, followed by the original tags:
// "cpu|mem host=a".
func (p *Parser) initJoinMatcher(req *ReshapeRequest, metrics []string) error {
	if len(req.Select.Columns) < 2 {
		p.logger.Error("Can't initialize the matcher, the query is not a join query")
		return errors.Wrap(vesper.ErrBadArg, "not a join query")
	}
	if len(req.Select.Columns) != len(metrics) {
		p.logger.Error("Can't initialize the matcher, invalid metric names")
		return errors.Wrap(vesper.ErrBadArg, "invalid metric names")
	}

	local := series.NewMatcher(1)
	prefix := strings.Join(metrics, "|")
	for _, id := range req.Select.Columns[0].IDs {
		name := p.matcher.IDToString(id)
		if name == nil {
			p.logger.Error("Matcher data is broken", zap.Uint64("id", uint64(id)))
			panic("query: series catalog is broken")
		}
		if !bytes.HasPrefix(name, []byte(metrics[0])) {
			p.logger.Error("Matcher initialization failed, invalid metric names",
				zap.ByteString("name", name))
			return errors.Wrap(vesper.ErrBadData, "invalid metric names")
		}
		tags := name[len(metrics[0]):]

		var str bytes.Buffer
		str.WriteString(prefix)
		str.Write(tags)
		local.AddNamed(str.Bytes(), id)
	}
	req.Select.Matcher = local
	return nil
}
