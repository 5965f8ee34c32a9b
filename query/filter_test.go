package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/query"
	"github.com/vesperdb/vesper/series"
)

func TestIDListFilter(t *testing.T) {
	f := query.NewIDListFilter([]vesper.ParamID{1, 3})

	require.Equal(t, []vesper.ParamID{1, 3}, f.IDs())
	require.Equal(t, query.FilterProcess, f.Apply(1))
	require.Equal(t, query.FilterSkip, f.Apply(2))
	require.Equal(t, query.FilterProcess, f.Apply(3))
}

func TestRegexFilter(t *testing.T) {
	matcher := series.NewMatcher(1)
	a, err := matcher.Add([]byte("cpu host=a"))
	require.NoError(t, err)
	memA, err := matcher.Add([]byte("mem host=a"))
	require.NoError(t, err)

	f, err := query.NewRegexFilter(`cpu(?:\s[\w\.\-]+=[\w\.\-]+)*`, matcher)
	require.NoError(t, err)
	require.Equal(t, []vesper.ParamID{a}, f.IDs())
	require.Equal(t, query.FilterProcess, f.Apply(a))
	require.Equal(t, query.FilterSkip, f.Apply(memA))

	// A series interned after the filter was built is discovered by an
	// incremental rescan of the pool.
	b, err := matcher.Add([]byte("cpu host=b"))
	require.NoError(t, err)
	require.Equal(t, query.FilterProcess, f.Apply(b))
	require.Equal(t, []vesper.ParamID{a, b}, f.IDs())
}

func TestRegexFilter_BadPattern(t *testing.T) {
	matcher := series.NewMatcher(1)
	_, err := query.NewRegexFilter(`(`, matcher)
	require.Error(t, err)
}
