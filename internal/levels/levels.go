// Package levels tracks which SSTables belong to which level and
// decides when a level has accumulated enough files to warrant
// compaction, per spec §4.6.
package levels

import (
	"bytes"
	"sort"
	"sync"

	"github.com/kvforge/lsmkv/internal/sstable"
)

// Manager owns the per-level table lists. L0 tables may overlap each
// other in key range; every level below L0 is kept key-range disjoint
// by the compactor.
type Manager struct {
	mu        sync.RWMutex
	threshold int
	tables    [][]*sstable.Reader
}

// New creates a Manager for numLevels levels (L0..L{numLevels-1}),
// each of which triggers compaction once it holds more than threshold
// tables. Defaults to 10, matching spec §4.6.
func New(numLevels, threshold int) *Manager {
	if numLevels <= 0 {
		numLevels = 3
	}
	if threshold <= 0 {
		threshold = 10
	}
	return &Manager{
		threshold: threshold,
		tables:    make([][]*sstable.Reader, numLevels),
	}
}

// NumLevels returns the configured number of levels.
func (m *Manager) NumLevels() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// Add registers a table at the given level, keeping L1+ sorted by
// MinKey so range queries can binary-search them.
func (m *Manager) Add(level int, r *sstable.Reader) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[level] = append(m.tables[level], r)
	if level > 0 {
		sort.Slice(m.tables[level], func(i, j int) bool {
			return bytes.Compare(m.tables[level][i].MinKey(), m.tables[level][j].MinKey()) < 0
		})
	}
}

// Remove drops the table with the given basename from level, if
// present. It does not close or delete the table's files; the caller
// does that once a replacement has been durably installed.
func (m *Manager) Remove(level int, basename string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[level][:0]
	for _, r := range m.tables[level] {
		if r.Basename() != basename {
			kept = append(kept, r)
		}
	}
	m.tables[level] = kept
}

// Tables returns a snapshot of the tables at level, oldest-appended
// first for L0, key-sorted for L1+.
func (m *Manager) Tables(level int) []*sstable.Reader {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*sstable.Reader, len(m.tables[level]))
	copy(out, m.tables[level])
	return out
}

// Overlapping returns every table at level whose key range intersects
// [start, end]. Either bound may be nil for unbounded.
func (m *Manager) Overlapping(level int, start, end []byte) []*sstable.Reader {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*sstable.Reader
	for _, r := range m.tables[level] {
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	return out
}

// ShouldCompact reports whether level has exceeded its file-count
// threshold and should be compacted into the next level down.
func (m *Manager) ShouldCompact(level int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[level]) > m.threshold
}

// NumFiles returns how many tables currently sit at level.
func (m *Manager) NumFiles(level int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[level])
}

// DeepestInUse returns the index of the deepest level holding at least
// one table, or 0 if the whole tree is empty. Compaction only drops
// tombstones when merging into this level, since nothing below it
// could still need to see a deletion (spec §4.6).
func (m *Manager) DeepestInUse() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deepest := 0
	for level := len(m.tables) - 1; level >= 0; level-- {
		if len(m.tables[level]) > 0 {
			deepest = level
			break
		}
	}
	return deepest
}

// TotalFiles returns the total number of live tables across all
// levels.
func (m *Manager) TotalFiles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, lv := range m.tables {
		total += len(lv)
	}
	return total
}

// CloseAll closes every table's file handles without deleting them,
// used on Engine shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, lv := range m.tables {
		for _, r := range lv {
			if err := r.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
