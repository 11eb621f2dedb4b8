// Package memtable implements the in-memory, key-sorted write buffer
// described in spec §4.3, backed by a skip list rather than the
// teacher's sorted slice so insertion never shifts existing entries.
package memtable

import (
	"bytes"
	"sync"

	"github.com/huandu/skiplist"
)

// byteComparable orders keys the way the whole engine does: plain
// lexicographic byte comparison.
type byteComparable struct{}

func (byteComparable) Compare(a, b any) int {
	return bytes.Compare(a.([]byte), b.([]byte))
}

func (byteComparable) CalcScore(key any) float64 {
	// skiplist only uses CalcScore as a fast-path hint; returning 0
	// for every key just falls through to Compare, which is what we
	// want for arbitrary-length byte keys.
	return 0
}

// entry is the value stored per key in the skip list.
type entry struct {
	value     []byte
	tombstone bool
}

// Lookup is the outcome of Get.
type Lookup int

const (
	// NotPresent means the key has no entry in this MemTable.
	NotPresent Lookup = iota
	// Found means Value() holds the live value for the key.
	Found
	// Tombstoned means the key was deleted in this MemTable.
	Tombstoned
)

// MemTable is the mutable, key-sorted buffer writes land in before
// being flushed to an SSTable. It is safe for concurrent use.
type MemTable struct {
	mu   sync.RWMutex
	list *skiplist.SkipList
	size int
}

// New creates an empty MemTable.
func New() *MemTable {
	return &MemTable{
		list: skiplist.New(byteComparable{}),
	}
}

// Put sets key to value, replacing any prior value or tombstone.
func (m *MemTable) Put(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)

	if el := m.list.Get(k); el != nil {
		old := el.Value.(entry)
		m.size -= len(k) + costOf(old)
		el.Value = entry{value: v}
	} else {
		m.list.Set(k, entry{value: v})
	}
	m.size += len(k) + len(v)
}

// Delete marks key as tombstoned. A delete of a key not yet present in
// this MemTable still creates a tombstone entry: the key might exist
// in an older SSTable, and the tombstone must shadow it until
// compaction collapses it away.
func (m *MemTable) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := append([]byte(nil), key...)

	if el := m.list.Get(k); el != nil {
		old := el.Value.(entry)
		m.size -= len(k) + costOf(old)
		el.Value = entry{tombstone: true}
	} else {
		m.list.Set(k, entry{tombstone: true})
	}
	m.size += len(k)
}

// Get looks up key, reporting whether it is present, tombstoned, or
// absent from this MemTable (absence here says nothing about deeper
// layers — see engine.Get for the full read path).
func (m *MemTable) Get(key []byte) (value []byte, status Lookup) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el := m.list.Get(key)
	if el == nil {
		return nil, NotPresent
	}
	e := el.Value.(entry)
	if e.tombstone {
		return nil, Tombstoned
	}
	return e.value, Found
}

// SizeBytes returns the current accounted size: sum over entries of
// key length + value length, tombstones counted as key length only.
func (m *MemTable) SizeBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Len returns the number of distinct keys held (including tombstones).
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.Len()
}

// Entry is a single record yielded by All, in key order.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// All returns every entry in key order, including tombstones: the
// MemTable flush path needs tombstones written to the resulting
// SSTable so they continue to shadow older values.
func (m *MemTable) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, m.list.Len())
	for el := m.list.Front(); el != nil; el = el.Next() {
		e := el.Value.(entry)
		out = append(out, Entry{
			Key:       el.Key().([]byte),
			Value:     e.value,
			Tombstone: e.tombstone,
		})
	}
	return out
}

func costOf(e entry) int {
	if e.tombstone {
		return 0
	}
	return len(e.value)
}
