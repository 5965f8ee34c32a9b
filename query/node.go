package query

import "github.com/vesperdb/vesper"

// NodeType identifies a pipeline node implementation.
type NodeType int

const (
	NodeTerminal NodeType = iota
	NodeLimiter
	NodeRandomSampler
	NodePAA
)

// Requirements is the capability bitset a node advertises to the driver.
type Requirements int

const (
	// ReqTerminal marks the sink; only the last node of a pipeline may
	// advertise it.
	ReqTerminal Requirements = 1 << iota

	// ReqGroupByRequired marks nodes that only work on streams divided
	// into flush intervals; the driver refuses queries without a
	// group-by time step.
	ReqGroupByRequired
)

// Node is one stage of the sample pipeline. Samples flow head to tail
// through Put; a false return propagates backpressure and halts the
// stream. Nodes that buffer must drain on every EMPTY marker.
type Node interface {
	// Put processes one sample. It returns false to stop the stream.
	Put(sample vesper.Sample) bool

	// Complete flushes buffered state and completes the downstream.
	Complete()

	// SetError forwards a query error down the pipeline.
	SetError(err error)

	// Requirements returns the node's capability set.
	Requirements() Requirements

	// Type returns the node implementation tag.
	Type() NodeType
}

// InternalCursor receives the final output stream of a query. It is
// supplied by the caller; returning false from Put cancels the query
// cooperatively.
type InternalCursor interface {
	Put(sample vesper.Sample) bool
	Complete()
	SetError(err error)
}

// TerminalNode forwards samples to an external cursor. Margin samples are
// swallowed.
type TerminalNode struct {
	cursor InternalCursor
}

// NewTerminalNode returns the pipeline sink writing to cursor.
func NewTerminalNode(cursor InternalCursor) *TerminalNode {
	return &TerminalNode{cursor: cursor}
}

func (t *TerminalNode) Put(sample vesper.Sample) bool {
	if sample.IsMargin() {
		return true
	}
	return t.cursor.Put(sample)
}

func (t *TerminalNode) Complete() {
	t.cursor.Complete()
}

func (t *TerminalNode) SetError(err error) {
	t.cursor.SetError(err)
}

func (t *TerminalNode) Requirements() Requirements { return ReqTerminal }

func (t *TerminalNode) Type() NodeType { return NodeTerminal }
