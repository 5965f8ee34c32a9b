// Package rhh implements the robin-hood hash map backing the series
// catalog's name table.
package rhh

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// HashMap maps byte-slice keys to uint64 values using Robin Hood Hashing.
// https://cs.uwaterloo.ca/research/tr/1986/CS-86-14.pdf
//
// Keys are stored by reference; callers must guarantee that key bytes stay
// immutable for the lifetime of the map. The series catalog satisfies this
// by handing out views into its append-only string pool.
type HashMap struct {
	hashes []uint64
	elems  []hashElem

	n          int
	capacity   int
	threshold  int
	mask       uint64
	loadFactor int
}

func NewHashMap(opt Options) *HashMap {
	m := &HashMap{
		capacity:   pow2(opt.Capacity),
		loadFactor: opt.LoadFactor,
	}
	m.alloc()
	return m
}

// Get returns the value for key and whether the key is present.
func (m *HashMap) Get(key []byte) (uint64, bool) {
	i := m.index(key)
	if i == -1 {
		return 0, false
	}
	return m.elems[i].value, true
}

// Put sets the value for key.
func (m *HashMap) Put(key []byte, val uint64) {
	// Grow the map if we've run out of slots.
	m.n++
	if m.n > m.threshold {
		m.grow()
	}

	// If the key was overwritten then decrement the size.
	overwritten := m.insert(m.hashKey(key), key, val)
	if overwritten {
		m.n--
	}
}

func (m *HashMap) insert(hash uint64, key []byte, val uint64) (overwritten bool) {
	pos := int(hash & m.mask)
	dist := 0

	// Continue searching until we find an empty slot or lower probe distance.
	for {
		// Empty slot found or matching key, insert and exit.
		if m.hashes[pos] == 0 {
			m.hashes[pos] = hash
			m.elems[pos] = hashElem{hash: hash, key: key, value: val}
			return false
		} else if bytes.Equal(m.elems[pos].key, key) {
			m.hashes[pos] = hash
			m.elems[pos] = hashElem{hash: hash, key: key, value: val}
			return true
		}

		// If the existing elem has probed less than us, then swap places with
		// existing elem, and keep going to find another slot for that elem.
		elemDist := m.dist(m.hashes[pos], pos)
		if elemDist < dist {
			// Swap with current position.
			e := &m.elems[pos]
			hash, m.hashes[pos] = m.hashes[pos], hash
			key, e.key = e.key, key
			val, e.value = e.value, val

			// Update current distance.
			dist = elemDist
		}

		// Increment position, wrap around on overflow.
		pos = int(uint64(pos+1) & m.mask)
		dist++
	}
}

// alloc elems according to currently set capacity.
func (m *HashMap) alloc() {
	m.elems = make([]hashElem, m.capacity)
	m.hashes = make([]uint64, m.capacity)
	m.threshold = (m.capacity * m.loadFactor) / 100
	m.mask = uint64(m.capacity - 1)
}

// grow doubles the capacity and reinserts all existing hashes & elements.
func (m *HashMap) grow() {
	// Copy old elements and hashes.
	elems, hashes := m.elems, m.hashes
	capacity := m.capacity

	// Double capacity & reallocate.
	m.capacity *= 2
	m.alloc()

	// Copy old elements to new hash/elem list.
	for i := 0; i < capacity; i++ {
		elem, hash := &elems[i], hashes[i]
		if hash == 0 {
			continue
		}
		m.insert(hash, elem.key, elem.value)
	}
}

// index returns the position of key in the hash map.
func (m *HashMap) index(key []byte) int {
	hash := m.hashKey(key)
	pos := int(hash & m.mask)

	dist := 0
	for {
		if m.hashes[pos] == 0 {
			return -1
		} else if dist > m.dist(m.hashes[pos], pos) {
			return -1
		} else if m.hashes[pos] == hash && bytes.Equal(m.elems[pos].key, key) {
			return pos
		}

		pos = int(uint64(pos+1) & m.mask)
		dist++
	}
}

// hashKey computes a hash of key. Hash is always non-zero.
func (m *HashMap) hashKey(key []byte) uint64 {
	h := xxhash.Sum64(key)
	if h == 0 {
		h = 1
	}
	return h
}

// Len returns the number of keys set in the map.
func (m *HashMap) Len() int { return m.n }

// Cap returns the capacity of the map.
func (m *HashMap) Cap() int { return m.capacity }

// dist returns the probe distance for a hash in a slot index.
func (m *HashMap) dist(hash uint64, i int) int {
	return int(uint64(i+m.capacity-int(hash&m.mask)) & m.mask)
}

type hashElem struct {
	key   []byte
	value uint64
	hash  uint64
}

// Options represents initialization options that are passed to NewHashMap().
type Options struct {
	Capacity   int
	LoadFactor int
}

// DefaultOptions represents a default set of options to pass to NewHashMap().
var DefaultOptions = Options{
	Capacity:   256,
	LoadFactor: 90,
}

// pow2 returns the number that is the next highest power of 2.
// Returns v if it is a power of 2 of at least 2; the result is never
// below 2.
func pow2(v int) int {
	for i := 2; i < 1<<32; i *= 2 {
		if i >= v {
			return i
		}
	}
	panic("unreachable")
}
