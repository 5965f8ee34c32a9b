package series_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vesperdb/vesper"
	"github.com/vesperdb/vesper/series"
)

func TestMatcher_AddMatch(t *testing.T) {
	m := series.NewMatcher(1)
	m.WithLogger(zaptest.NewLogger(t))

	fooID, err := m.Add([]byte("foo bar=buz"))
	require.NoError(t, err)
	require.Equal(t, vesper.ParamID(1), fooID)

	barID, err := m.Add([]byte("bar foo=buz"))
	require.NoError(t, err)
	require.Equal(t, vesper.ParamID(2), barID)

	require.Equal(t, vesper.ParamID(1), m.Match([]byte("foo bar=buz")))
	require.Equal(t, vesper.ParamID(2), m.Match([]byte("bar foo=buz")))
	require.Equal(t, vesper.ParamID(0), m.Match([]byte("buz foo=bar")))
}

func TestMatcher_AddIsIdempotent(t *testing.T) {
	m := series.NewMatcher(1)

	id1, err := m.Add([]byte("cpu host=a region=b"))
	require.NoError(t, err)

	// Equivalent spelling of the same series.
	id2, err := m.Add([]byte("  cpu   region=b host=a "))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Len(t, m.AllIDs(), 1)
}

func TestMatcher_MonotoneIDs(t *testing.T) {
	m := series.NewMatcher(1000)

	var prev vesper.ParamID
	for i := 0; i < 100; i++ {
		id, err := m.Add([]byte(fmt.Sprintf("cpu host=h%d", i)))
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
	require.Equal(t, vesper.ParamID(1000), m.AllIDs()[0])
}

func TestMatcher_RoundTrip(t *testing.T) {
	m := series.NewMatcher(1)

	names := []string{
		"cpu host=a",
		"cpu host=b region=europe",
		"mem free=x host=a",
	}
	for _, name := range names {
		id, err := m.Add([]byte(name))
		require.NoError(t, err)
		require.Equal(t, name, string(m.IDToString(id)))
		require.Equal(t, id, m.Match([]byte(name)))
	}

	// An unknown id reverse-maps to nil; callers treat that as catalog
	// corruption.
	require.Nil(t, m.IDToString(vesper.ParamID(9999)))
}

func TestMatcher_AddRejectsMalformed(t *testing.T) {
	m := series.NewMatcher(1)
	_, err := m.Add([]byte("cpu host"))
	require.ErrorIs(t, err, vesper.ErrBadData)
}

func TestMatcher_RegexMatch(t *testing.T) {
	m := series.NewMatcher(1)

	aID, err := m.Add([]byte("cpu host=a"))
	require.NoError(t, err)
	bID, err := m.Add([]byte("cpu host=b"))
	require.NoError(t, err)
	_, err = m.Add([]byte("mem host=a"))
	require.NoError(t, err)

	refs, err := m.RegexMatch(`cpu(?:\s[\w\.\-]+=[\w\.\-]+)*`)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, aID, refs[0].ID)
	require.Equal(t, "cpu host=a", string(refs[0].Name))
	require.Equal(t, bID, refs[1].ID)
	require.Equal(t, "cpu host=b", string(refs[1].Name))
}

func TestMatcher_IDsForMetric(t *testing.T) {
	m := series.NewMatcher(1)

	a, _ := m.Add([]byte("cpu host=a"))
	b, _ := m.Add([]byte("cpu host=b"))
	_, _ = m.Add([]byte("mem host=a"))

	require.Equal(t, []vesper.ParamID{a, b}, m.IDsForMetric("cpu"))
	require.Empty(t, m.IDsForMetric("disk"))
}

func TestMatcher_IDsForTags(t *testing.T) {
	m := series.NewMatcher(1)

	a, _ := m.Add([]byte("cpu host=a region=eu"))
	b, _ := m.Add([]byte("cpu host=b region=eu"))
	c, _ := m.Add([]byte("cpu host=c region=us"))
	_, _ = m.Add([]byte("mem host=a region=eu"))

	// One tag, one value.
	require.Equal(t, []vesper.ParamID{a},
		m.IDsForTags("cpu", map[string][]string{"host": {"a"}}))

	// Values of one key are OR'd.
	require.Equal(t, []vesper.ParamID{a, b},
		m.IDsForTags("cpu", map[string][]string{"host": {"a", "b"}}))

	// Keys are AND'd.
	require.Equal(t, []vesper.ParamID{c},
		m.IDsForTags("cpu", map[string][]string{"host": {"a", "c"}, "region": {"us"}}))

	// No matching value.
	require.Empty(t, m.IDsForTags("cpu", map[string][]string{"host": {"z"}}))
}

func TestMatcher_PullNewNames(t *testing.T) {
	m := series.NewMatcher(1)

	a, _ := m.Add([]byte("cpu host=a"))
	b, _ := m.Add([]byte("cpu host=b"))

	refs := m.PullNewNames()
	require.Len(t, refs, 2)
	require.Equal(t, a, refs[0].ID)
	require.Equal(t, b, refs[1].ID)

	require.Empty(t, m.PullNewNames())

	c, _ := m.Add([]byte("cpu host=c"))
	refs = m.PullNewNames()
	require.Len(t, refs, 1)
	require.Equal(t, c, refs[0].ID)
}

func TestMatcher_AddNamed(t *testing.T) {
	m := series.NewMatcher(1)
	m.AddNamed([]byte("cpu:min|cpu:max host=a"), 42)
	require.Equal(t, "cpu:min|cpu:max host=a", string(m.IDToString(42)))
}

func TestNewMatcher_ZeroStartingID(t *testing.T) {
	require.Panics(t, func() { series.NewMatcher(0) })
}
