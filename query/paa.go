package query

import (
	"sort"

	"github.com/vesperdb/vesper"
)

// Counter accumulates the values of one series inside one flush interval
// for piecewise aggregate approximation.
type Counter interface {
	Reset()
	Add(sample vesper.Sample)
	Value() float64
	Ready() bool
}

// PAA buffers samples per series between EMPTY markers and emits one
// aggregated sample per series on every flush. It requires a group-by
// time step to divide the stream into buckets.
type PAA struct {
	counters   map[vesper.ParamID]Counter
	order      []vesper.ParamID
	lastTs     vesper.Timestamp
	newCounter func() Counter
	next       Node
}

// NewMeanPAA emits the running mean of each series per bucket.
func NewMeanPAA(next Node) *PAA {
	return newPAA(func() Counter { return &MeanCounter{} }, next)
}

// NewMedianPAA emits the median of each series per bucket.
func NewMedianPAA(next Node) *PAA {
	return newPAA(func() Counter { return &MedianCounter{} }, next)
}

// NewMaxPAA emits the maximum of each series per bucket.
func NewMaxPAA(next Node) *PAA {
	return newPAA(func() Counter { return &MaxCounter{} }, next)
}

func newPAA(newCounter func() Counter, next Node) *PAA {
	return &PAA{
		counters:   make(map[vesper.ParamID]Counter),
		newCounter: newCounter,
		next:       next,
	}
}

func (p *PAA) flush(ts vesper.Timestamp) bool {
	for _, id := range p.order {
		counter := p.counters[id]
		if !counter.Ready() {
			continue
		}
		if !p.next.Put(vesper.NewSample(ts, id, counter.Value())) {
			return false
		}
		counter.Reset()
	}
	p.order = p.order[:0]
	for id := range p.counters {
		delete(p.counters, id)
	}
	return true
}

func (p *PAA) Put(sample vesper.Sample) bool {
	if sample.IsMarker() {
		if !p.flush(sample.Timestamp) {
			return false
		}
		return p.next.Put(sample)
	}
	counter := p.counters[sample.ParamID]
	if counter == nil {
		counter = p.newCounter()
		p.counters[sample.ParamID] = counter
		p.order = append(p.order, sample.ParamID)
	}
	counter.Add(sample)
	p.lastTs = sample.Timestamp
	return true
}

func (p *PAA) Complete() {
	p.flush(p.lastTs)
	p.next.Complete()
}

func (p *PAA) SetError(err error) {
	p.next.SetError(err)
}

func (p *PAA) Requirements() Requirements { return ReqGroupByRequired }

func (p *PAA) Type() NodeType { return NodePAA }

// MeanCounter keeps a running sum and count.
type MeanCounter struct {
	acc float64
	num uint64
}

func (c *MeanCounter) Reset() {
	c.acc = 0
	c.num = 0
}

func (c *MeanCounter) Add(sample vesper.Sample) {
	c.acc += sample.Payload.Value
	c.num++
}

func (c *MeanCounter) Value() float64 { return c.acc / float64(c.num) }

func (c *MeanCounter) Ready() bool { return c.num != 0 }

// MedianCounter buffers values and sorts them on demand.
type MedianCounter struct {
	acc []float64
}

func (c *MedianCounter) Reset() {
	c.acc = nil
}

func (c *MedianCounter) Add(sample vesper.Sample) {
	c.acc = append(c.acc, sample.Payload.Value)
}

func (c *MedianCounter) Value() float64 {
	if len(c.acc) == 0 {
		panic("query: median of empty bucket, Ready should be checked first")
	}
	if len(c.acc) < 2 {
		return c.acc[0]
	}
	if len(c.acc) == 2 {
		return (c.acc[0] + c.acc[1]) / 2
	}
	middle := len(c.acc) / 2
	sort.Float64s(c.acc)
	return c.acc[middle]
}

func (c *MedianCounter) Ready() bool { return len(c.acc) != 0 }

// MaxCounter keeps a running maximum.
type MaxCounter struct {
	acc float64
	num uint64
}

func (c *MaxCounter) Reset() {
	c.acc = 0
	c.num = 0
}

func (c *MaxCounter) Add(sample vesper.Sample) {
	if c.num == 0 || sample.Payload.Value > c.acc {
		c.acc = sample.Payload.Value
	}
	c.num++
}

func (c *MaxCounter) Value() float64 { return c.acc }

func (c *MaxCounter) Ready() bool { return c.num != 0 }
