package query

import (
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

// The query document is a JSON object. Exactly one of the kind statements
// must be present; every statement may appear at most once.
var uniqueStmts = []string{
	"select",
	"aggregate",
	"join",
	"group-aggregate",
}

var allowedStmts = map[string]bool{
	"select":          true,
	"aggregate":       true,
	"join":            true,
	"group-aggregate": true,
	"output":          true,
	"order-by":        true,
	"group-by":        true,
	"limit":           true,
	"offset":          true,
	"range":           true,
	"where":           true,
}

// Parser validates query documents and resolves them into reshape
// requests against a series matcher.
type Parser struct {
	matcher *series.Matcher
	logger  *zap.Logger
}

// NewParser returns a parser resolving names against matcher.
func NewParser(matcher *series.Matcher, logger *zap.Logger) *Parser {
	return &Parser{matcher: matcher, logger: logger}
}

// validate checks the top-level shape of the document: valid JSON, known
// keywords, no duplicates, and at most one kind statement.
func (p *Parser) validate(data []byte) error {
	keywords := make(map[string]bool)
	var result error
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if result != nil {
			return nil
		}
		keyword := string(key)
		if !allowedStmts[keyword] {
			p.logger.Error("Unexpected statement", zap.String("keyword", keyword))
			result = errors.Wrapf(vesper.ErrQueryParsing, "unexpected `%s` statement", keyword)
			return nil
		}
		if keywords[keyword] {
			p.logger.Error("Duplicate statement", zap.String("keyword", keyword))
			result = errors.Wrapf(vesper.ErrQueryParsing, "duplicate `%s` statement", keyword)
			return nil
		}
		for _, kw := range uniqueStmts {
			if kw != keyword && keywords[kw] && isUniqueStmt(keyword) {
				p.logger.Error("Conflicting statements",
					zap.String("keyword", keyword), zap.String("conflict", kw))
				result = errors.Wrapf(vesper.ErrQueryParsing,
					"statement `%s` can't be used with `%s`", keyword, kw)
				return nil
			}
		}
		keywords[keyword] = true
		return nil
	})
	if err != nil {
		p.logger.Error("Can't parse query document", zap.Error(err))
		return errors.Wrap(vesper.ErrQueryParsing, err.Error())
	}
	return result
}

func isUniqueStmt(keyword string) bool {
	for _, kw := range uniqueStmts {
		if kw == keyword {
			return true
		}
	}
	return false
}

// QueryKind returns the kind of the query document.
func (p *Parser) QueryKind(data []byte) (QueryKind, error) {
	if err := p.validate(data); err != nil {
		return KindSelect, err
	}
	var kind QueryKind
	found := false
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if found {
			return nil
		}
		switch string(key) {
		case "select":
			if dataType != jsonparser.String {
				return nil
			}
			if isMetaQuery(string(value)) {
				kind = KindSelectMeta
			} else {
				kind = KindSelect
			}
			found = true
		case "aggregate":
			kind, found = KindAggregate, true
		case "join":
			kind, found = KindJoin, true
		case "group-aggregate":
			kind, found = KindGroupAggregate, true
		}
		return nil
	})
	if err != nil {
		return KindSelect, errors.Wrap(vesper.ErrQueryParsing, err.Error())
	}
	if !found {
		p.logger.Error("Query kind is not set")
		return KindSelect, errors.Wrap(vesper.ErrQueryParsing, "query kind is not set")
	}
	return kind, nil
}

func isMetaQuery(name string) bool {
	return strings.HasPrefix(name, "meta:names")
}

// parseSelectStmt returns the metric named by the select statement.
func (p *Parser) parseSelectStmt(data []byte) (string, error) {
	value, dataType, _, err := jsonparser.Get(data, "select")
	if err != nil || dataType != jsonparser.String {
		return "", errors.Wrap(vesper.ErrQueryParsing, "invalid `select` statement")
	}
	return string(value), nil
}

// parseJoinStmt returns the metric list of the join statement.
func (p *Parser) parseJoinStmt(data []byte) ([]string, error) {
	var metrics []string
	bad := false
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, offset int, inner error) {
		if dataType != jsonparser.String {
			bad = true
			return
		}
		metrics = append(metrics, string(value))
	}, "join")
	if err != nil || bad || len(metrics) == 0 {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `join` statement")
	}
	return metrics, nil
}

// parseAggregateStmt returns the metric and function of the aggregate
// statement: { "aggregate": { "metric": "func" } }.
func (p *Parser) parseAggregateStmt(data []byte) (metric string, fn AggregationFunction, err error) {
	found := false
	eachErr := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if found {
			return nil
		}
		if dataType != jsonparser.String {
			err = errors.Wrap(vesper.ErrQueryParsing, "invalid `aggregate` statement")
			return nil
		}
		// Only one metric-function pair is read at this time.
		metric = string(key)
		fn, err = ParseAggregationFunction(string(value))
		found = true
		return nil
	}, "aggregate")
	if eachErr != nil {
		return "", 0, errors.Wrap(vesper.ErrQueryParsing, "invalid `aggregate` statement")
	}
	if err != nil {
		return "", 0, err
	}
	if !found {
		return "", 0, errors.Wrap(vesper.ErrQueryParsing, "invalid `aggregate` statement")
	}
	return metric, fn, nil
}

// groupAggregate is the parsed form of a group-aggregate statement.
type groupAggregate struct {
	metric string
	funcs  []AggregationFunction
	step   vesper.Duration
}

// parseGroupAggregateStmt parses { "group-aggregate": { "step": "30s",
// "metric": "name", "func": ["cnt", "avg"] } }.
func (p *Parser) parseGroupAggregateStmt(data []byte) (groupAggregate, error) {
	var result groupAggregate
	var components [3]bool
	var parseErr error

	fail := func(msg string) error {
		p.logger.Error(msg)
		parseErr = errors.Wrap(vesper.ErrQueryParsing, msg)
		return nil
	}

	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if parseErr != nil {
			return nil
		}
		switch string(key) {
		case "step":
			if components[0] {
				return fail("duplicate `step` tag in `group-aggregate` statement")
			}
			if dataType != jsonparser.String {
				return fail("tag `step` is not set in `group-aggregate` statement")
			}
			step, err := vesper.ParseDuration(string(value))
			if err != nil {
				p.logger.Error("Can't parse time-duration", zap.ByteString("value", value))
				parseErr = errors.Wrapf(vesper.ErrQueryParsing, "can't parse time-duration %q", value)
				return nil
			}
			result.step = step
			components[0] = true
		case "metric":
			if components[1] {
				return fail("duplicate `metric` tag in `group-aggregate` statement")
			}
			if dataType != jsonparser.String {
				return fail("tag `metric` is not set in `group-aggregate` statement")
			}
			result.metric = string(value)
			components[1] = true
		case "func":
			if components[2] {
				return fail("duplicate `func` tag in `group-aggregate` statement")
			}
			names, err := scalarOrList(value, dataType)
			if err != nil || len(names) == 0 {
				return fail("invalid `func` tag in `group-aggregate` statement")
			}
			for _, name := range names {
				fn, err := ParseAggregationFunction(name)
				if err != nil {
					p.logger.Error("Invalid aggregation function", zap.String("func", name))
					parseErr = err
					return nil
				}
				result.funcs = append(result.funcs, fn)
			}
			components[2] = true
		}
		return nil
	}, "group-aggregate")
	if err != nil {
		return result, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-aggregate` statement")
	}
	if parseErr != nil {
		return result, parseErr
	}
	switch {
	case !components[0]:
		return result, errors.Wrap(vesper.ErrQueryParsing, "`group-aggregate` statement requires the `step` field")
	case !components[1]:
		return result, errors.Wrap(vesper.ErrQueryParsing, "`group-aggregate` statement requires the `metric` field")
	case !components[2]:
		return result, errors.Wrap(vesper.ErrQueryParsing, "`group-aggregate` statement requires the `func` field")
	}
	return result, nil
}

// parseOrderBy returns the requested ordering, defaulting to time order.
func (p *Parser) parseOrderBy(data []byte) (OrderBy, error) {
	value, dataType, _, err := jsonparser.Get(data, "order-by")
	if dataType == jsonparser.NotExist {
		// Default is order by time.
		return OrderByTime, nil
	}
	if err != nil || dataType != jsonparser.String {
		p.logger.Error("Invalid `order-by` statement")
		return OrderByTime, errors.Wrap(vesper.ErrQueryParsing, "invalid `order-by` statement")
	}
	switch string(value) {
	case "time":
		return OrderByTime, nil
	case "series":
		return OrderBySeries, nil
	}
	p.logger.Error("Invalid `order-by` statement", zap.ByteString("value", value))
	return OrderByTime, errors.Wrap(vesper.ErrQueryParsing, "invalid `order-by` statement")
}

// parseGroupByTags returns the tag names of the group-by statement. The
// statement accepts a single tag name, a list of tag names, or an object
// form carrying a "time" step (see ParseGroupByTime) and an optional
// "tag" entry.
func (p *Parser) parseGroupByTags(data []byte) ([]string, error) {
	value, dataType, _, err := jsonparser.Get(data, "group-by")
	if dataType == jsonparser.NotExist {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` statement")
	}
	switch dataType {
	case jsonparser.String:
		return []string{string(value)}, nil
	case jsonparser.Array:
		tags, err := stringList(value)
		if err != nil {
			return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` statement")
		}
		return tags, nil
	case jsonparser.Object:
		tagValue, tagType, _, tagErr := jsonparser.Get(value, "tag")
		if tagType == jsonparser.NotExist {
			return nil, nil
		}
		if tagErr != nil {
			return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` statement")
		}
		tags, err := scalarOrList(tagValue, tagType)
		if err != nil {
			return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` statement")
		}
		return tags, nil
	}
	return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` statement")
}

// ParseGroupByTime returns the bucketing step of the group-by statement,
// or zero when the query doesn't bucket by time.
func (p *Parser) ParseGroupByTime(data []byte) (vesper.Duration, error) {
	groupBy, groupByType, _, _ := jsonparser.Get(data, "group-by")
	if groupByType != jsonparser.Object {
		// Tag-list group-by statements carry no time step.
		return 0, nil
	}
	value, dataType, _, err := jsonparser.Get(groupBy, "time")
	if dataType == jsonparser.NotExist {
		return 0, nil
	}
	if err != nil || dataType != jsonparser.String {
		return 0, errors.Wrap(vesper.ErrQueryParsing, "invalid `group-by` time step")
	}
	step, err := vesper.ParseDuration(string(value))
	if err != nil {
		p.logger.Error("Can't parse time-duration", zap.ByteString("value", value))
		return 0, errors.Wrapf(vesper.ErrQueryParsing, "can't parse time-duration %q", value)
	}
	return step, nil
}

// ParseLimitOffset returns the limit and offset statements, zero when
// absent.
func (p *Parser) ParseLimitOffset(data []byte) (limit, offset uint64, err error) {
	read := func(name string) (uint64, error) {
		value, dataType, _, getErr := jsonparser.Get(data, name)
		if dataType == jsonparser.NotExist {
			return 0, nil
		}
		if getErr != nil || dataType != jsonparser.Number {
			return 0, errors.Wrapf(vesper.ErrQueryParsing, "invalid `%s` statement", name)
		}
		n, parseErr := jsonparser.ParseInt(value)
		if parseErr != nil || n < 0 {
			return 0, errors.Wrapf(vesper.ErrQueryParsing, "invalid `%s` statement", name)
		}
		return uint64(n), nil
	}
	if limit, err = read("limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = read("offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// parseRange returns the query time range. Both boundaries are required.
func (p *Parser) parseRange(data []byte) (begin, end vesper.Timestamp, err error) {
	beginSet, endSet := false, false
	eachErr := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if err != nil {
			return nil
		}
		switch string(key) {
		case "from":
			ts, parseErr := vesper.ParseTimestamp(string(value))
			if parseErr != nil {
				p.logger.Error("Can't parse begin timestamp", zap.ByteString("value", value))
				err = errors.Wrapf(vesper.ErrQueryParsing, "can't parse begin timestamp %q", value)
				return nil
			}
			begin, beginSet = ts, true
		case "to":
			ts, parseErr := vesper.ParseTimestamp(string(value))
			if parseErr != nil {
				p.logger.Error("Can't parse end timestamp", zap.ByteString("value", value))
				err = errors.Wrapf(vesper.ErrQueryParsing, "can't parse end timestamp %q", value)
				return nil
			}
			end, endSet = ts, true
		}
		return nil
	}, "range")
	if err != nil {
		return 0, 0, err
	}
	if eachErr != nil || !beginSet || !endSet {
		p.logger.Error("Can't parse the `range` statement")
		return 0, 0, errors.Wrap(vesper.ErrQueryParsing, "invalid `range` statement")
	}
	return begin, end, nil
}

// parseWhereClause resolves the where statement (or, absent one, the bare
// metric list) into series ids.
func (p *Parser) parseWhereClause(data []byte, metrics []string) ([]vesper.ParamID, error) {
	_, whereType, _, _ := jsonparser.Get(data, "where")
	if whereType == jsonparser.NotExist {
		// The where statement is not used; include every series of
		// the metrics, or the whole catalog.
		retriever := NewSeriesRetriever(metrics, p.logger)
		return retriever.ExtractIDs(p.matcher)
	}
	if whereType != jsonparser.Object {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `where` statement")
	}
	if len(metrics) == 0 {
		p.logger.Error("Metric is not set")
		return nil, errors.Wrap(vesper.ErrQueryParsing, "`where` statement requires a metric")
	}

	retriever := NewSeriesRetriever(metrics, p.logger)
	var parseErr error
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		if parseErr != nil {
			return nil
		}
		values, err := scalarOrList(value, dataType)
		if err != nil {
			parseErr = errors.Wrapf(vesper.ErrQueryParsing, "invalid `where` values for tag %q", key)
			return nil
		}
		if err := retriever.AddTags(string(key), values); err != nil {
			parseErr = errors.Wrap(vesper.ErrQueryParsing, err.Error())
		}
		return nil
	}, "where")
	if err != nil {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "invalid `where` statement")
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return retriever.ExtractIDs(p.matcher)
}

// scalarOrList converts a JSON value that is either a scalar or a list of
// scalars into strings.
func scalarOrList(value []byte, dataType jsonparser.ValueType) ([]string, error) {
	switch dataType {
	case jsonparser.String, jsonparser.Number:
		return []string{string(value)}, nil
	case jsonparser.Array:
		return stringList(value)
	}
	return nil, errors.Wrap(vesper.ErrQueryParsing, "expected a scalar or a list")
}

// stringList converts a JSON array of scalars into strings.
func stringList(value []byte) ([]string, error) {
	var list []string
	bad := false
	_, err := jsonparser.ArrayEach(value, func(item []byte, dataType jsonparser.ValueType, offset int, inner error) {
		switch dataType {
		case jsonparser.String, jsonparser.Number:
			list = append(list, string(item))
		default:
			bad = true
		}
	})
	if err != nil || bad {
		return nil, errors.Wrap(vesper.ErrQueryParsing, "expected a list of scalars")
	}
	return list, nil
}
