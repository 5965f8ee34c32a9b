// Package stringpool implements the append-only arena that backs the
// series catalog. Interned strings are byte-stable for the lifetime of
// the pool: storage is a chain of fixed-capacity chunks that are never
// reallocated, so views handed out by Add stay valid while readers scan.
package stringpool

import (
	"sync"

	"github.com/grafana/regexp"
)

// ChunkSize is the capacity of a single arena chunk.
const ChunkSize = 1 << 20

// Pool is an append-only arena of interned strings. The pool's size is
// monotonically non-decreasing and existing strings never move.
type Pool struct {
	mu      sync.RWMutex
	chunks  [][]byte
	entries [][]byte // views into chunks, in insertion order
	size    uint64   // total interned bytes
}

// Offset marks a reader's position in the pool. A zero Offset scans from
// the beginning. RegexMatch advances the offset past the scanned region so
// a reader can discover newly added strings without rescanning.
type Offset struct {
	entry int
	size  uint64
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{}
}

// Add appends b to the arena and returns a stable view of the interned
// bytes. Appending an empty string returns nil.
func (p *Pool) Add(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.chunks)
	if n == 0 || len(p.chunks[n-1])+len(b) > cap(p.chunks[n-1]) {
		size := ChunkSize
		if len(b) > size {
			size = len(b)
		}
		p.chunks = append(p.chunks, make([]byte, 0, size))
		n++
	}

	chunk := p.chunks[n-1]
	off := len(chunk)
	chunk = append(chunk, b...)
	p.chunks[n-1] = chunk

	view := chunk[off : off+len(b) : off+len(b)]
	p.entries = append(p.entries, view)
	p.size += uint64(len(b))
	return view
}

// Size returns the total number of interned bytes.
func (p *Pool) Size() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Len returns the number of interned strings.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Entry returns the i-th interned string in insertion order.
func (p *Pool) Entry(i int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.entries) {
		return nil
	}
	return p.entries[i]
}

// RegexMatch scans the pool from off to the current end and returns every
// interned string matched by pattern in its entirety. On return off is
// advanced past the scanned region. A nil off scans the whole pool.
func (p *Pool) RegexMatch(pattern string, off *Offset) ([][]byte, error) {
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return nil, err
	}

	// Snapshot the scan window. Entries are immutable once added, so the
	// scan itself runs without the lock.
	p.mu.RLock()
	start := 0
	if off != nil {
		start = off.entry
	}
	entries := p.entries[start:]
	size := p.size
	p.mu.RUnlock()

	var results [][]byte
	for _, e := range entries {
		if re.Match(e) {
			results = append(results, e)
		}
	}
	if off != nil {
		off.entry = start + len(entries)
		off.size = size
	}
	return results, nil
}
