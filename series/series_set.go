package series

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/vesperdb/vesper"
)

// SeriesIDSet is a bitmap of series ids. It backs the per-metric and
// per-tag posting lists inside the Matcher.
type SeriesIDSet struct {
	bitmap *roaring.Bitmap
}

// NewSeriesIDSet returns a new instance of SeriesIDSet.
func NewSeriesIDSet(ids ...vesper.ParamID) *SeriesIDSet {
	s := &SeriesIDSet{bitmap: roaring.NewBitmap()}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add adds the series id to the set.
func (s *SeriesIDSet) Add(id vesper.ParamID) {
	s.bitmap.Add(uint32(id))
}

// Contains returns true if the id exists in the set.
func (s *SeriesIDSet) Contains(id vesper.ParamID) bool {
	return s.bitmap.Contains(uint32(id))
}

// Cardinality returns the cardinality of the SeriesIDSet.
func (s *SeriesIDSet) Cardinality() uint64 {
	return s.bitmap.GetCardinality()
}

// Slice returns the ids in the set in ascending order. Ids are assigned
// monotonically by the catalog, so ascending order is insertion order.
func (s *SeriesIDSet) Slice() []vesper.ParamID {
	a := make([]vesper.ParamID, 0, s.bitmap.GetCardinality())
	itr := s.bitmap.Iterator()
	for itr.HasNext() {
		a = append(a, vesper.ParamID(itr.Next()))
	}
	return a
}

// ForEach calls f for each id in the set in ascending order.
func (s *SeriesIDSet) ForEach(f func(id vesper.ParamID)) {
	itr := s.bitmap.Iterator()
	for itr.HasNext() {
		f(vesper.ParamID(itr.Next()))
	}
}

// IntersectSeriesIDSets returns the intersection of sets.
func IntersectSeriesIDSets(sets ...*SeriesIDSet) *SeriesIDSet {
	if len(sets) == 0 {
		return NewSeriesIDSet()
	}
	bms := make([]*roaring.Bitmap, 0, len(sets))
	for _, other := range sets {
		bms = append(bms, other.bitmap)
	}
	return &SeriesIDSet{bitmap: roaring.FastAnd(bms...)}
}

// UnionSeriesIDSets returns the union of sets.
func UnionSeriesIDSets(sets ...*SeriesIDSet) *SeriesIDSet {
	bms := make([]*roaring.Bitmap, 0, len(sets))
	for _, other := range sets {
		bms = append(bms, other.bitmap)
	}
	return &SeriesIDSet{bitmap: roaring.FastOr(bms...)}
}
