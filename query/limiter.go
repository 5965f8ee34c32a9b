package query

import "github.com/vesperdb/vesper"

// Limiter skips the first offset samples, passes up to limit samples, and
// then stops the upstream.
type Limiter struct {
	limit   uint64
	offset  uint64
	counter uint64
	next    Node
}

// NewLimiter wraps next with a limit/offset window. A zero limit passes
// everything after the offset.
func NewLimiter(limit, offset uint64, next Node) *Limiter {
	return &Limiter{limit: limit, offset: offset, next: next}
}

func (l *Limiter) Put(sample vesper.Sample) bool {
	l.counter++
	if l.counter <= l.offset {
		return true
	}
	if l.limit != 0 && l.counter > l.offset+l.limit {
		return false
	}
	return l.next.Put(sample)
}

func (l *Limiter) Complete() {
	l.next.Complete()
}

func (l *Limiter) SetError(err error) {
	l.next.SetError(err)
}

func (l *Limiter) Requirements() Requirements { return 0 }

func (l *Limiter) Type() NodeType { return NodeLimiter }
