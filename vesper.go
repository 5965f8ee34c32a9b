// Package vesper holds the shared scalar types, limits, and error taxonomy
// used by the series catalog and the query engine.
package vesper

import "errors"

// Limits enforced by the series catalog.
const (
	// MaxSeriesNameLen is the maximum length of a series name, in bytes,
	// as given for canonicalization (whitespace included).
	MaxSeriesNameLen = 1024

	// MaxTags is the maximum number of key=value pairs in a series name.
	MaxTags = 32
)

// Sentinel errors returned by the catalog and the query engine. Callers
// should test with errors.Is; wrapped forms carry additional context.
var (
	// ErrBadArg indicates an invalid argument, such as an undersized
	// output buffer.
	ErrBadArg = errors.New("bad argument")

	// ErrBadData indicates malformed input data, such as a series name
	// that cannot be canonicalized.
	ErrBadData = errors.New("bad data")

	// ErrQueryParsing indicates a malformed query document.
	ErrQueryParsing = errors.New("query parsing error")

	// ErrNoData indicates that an operator has no more data in range.
	// Operators may return it alongside a final nonzero chunk.
	ErrNoData = errors.New("no data")

	// ErrOverflow indicates that a counter or buffer exceeded its range.
	ErrOverflow = errors.New("overflow")
)
