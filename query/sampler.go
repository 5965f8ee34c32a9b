package query

import (
	"math/rand"
	"sort"

	"github.com/vesperdb/vesper"
)

// RandomSampler keeps a uniform reservoir of fixed capacity per flush
// interval (Algorithm R). On every EMPTY marker, and on completion, the
// reservoir is stably sorted by (timestamp, id) and drained downstream.
type RandomSampler struct {
	capacity uint32
	samples  []vesper.Sample
	seen     uint64
	rng      *rand.Rand
	next     Node
}

// NewRandomSampler wraps next with a reservoir of the given capacity.
func NewRandomSampler(capacity uint32, seed int64, next Node) *RandomSampler {
	return &RandomSampler{
		capacity: capacity,
		samples:  make([]vesper.Sample, 0, capacity),
		rng:      rand.New(rand.NewSource(seed)),
		next:     next,
	}
}

func (r *RandomSampler) flush() bool {
	sort.SliceStable(r.samples, func(i, j int) bool {
		l, rr := r.samples[i], r.samples[j]
		if l.Timestamp != rr.Timestamp {
			return l.Timestamp < rr.Timestamp
		}
		return l.ParamID < rr.ParamID
	})

	for _, sample := range r.samples {
		if !r.next.Put(sample) {
			return false
		}
	}
	r.samples = r.samples[:0]
	r.seen = 0
	return true
}

func (r *RandomSampler) Put(sample vesper.Sample) bool {
	if sample.IsMarker() {
		return r.flush()
	}
	r.seen++
	if uint32(len(r.samples)) < r.capacity {
		r.samples = append(r.samples, sample)
	} else {
		// Flip a coin.
		ix := r.rng.Int63n(int64(r.seen))
		if uint64(ix) < uint64(r.capacity) {
			r.samples[ix] = sample
		}
	}
	return true
}

func (r *RandomSampler) Complete() {
	r.flush()
	r.next.Complete()
}

func (r *RandomSampler) SetError(err error) {
	r.next.SetError(err)
}

func (r *RandomSampler) Requirements() Requirements { return 0 }

func (r *RandomSampler) Type() NodeType { return NodeRandomSampler }
