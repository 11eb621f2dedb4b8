// Package compaction implements the k-way merge described in spec
// §4.6: collapsing a level's tables (and the table(s) they overlap in
// the level below) into a new, disjoint run of tables one level down,
// keeping only the newest write for each key and dropping tombstones
// once nothing deeper could still need to observe them.
package compaction

import (
	"bufio"
	"container/heap"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kvforge/lsmkv/internal/clock"
	"github.com/kvforge/lsmkv/internal/levels"
	"github.com/kvforge/lsmkv/internal/sstable"
)

// maxEntriesPerTable bounds how many keys a single compaction output
// file may hold before the merge rolls over to a new table, keeping
// any one SSTable from growing unbounded.
const maxEntriesPerTable = 100000

// mergeSource is one input table to a merge, tagged with a rank: lower
// ranks are newer and win ties on duplicate keys.
type mergeSource struct {
	entries []sstable.Entry
	pos     int
	rank    int
}

func (s *mergeSource) done() bool { return s.pos >= len(s.entries) }
func (s *mergeSource) peek() sstable.Entry { return s.entries[s.pos] }

type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].peek(), h[j].peek()
	if cmp := bytesCompare(a.Key, b.Key); cmp != 0 {
		return cmp < 0
	}
	return h[i].rank < h[j].rank
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Merge k-way merges tables, newest first (tables[0] is newest), into
// a single ordered, deduplicated entry stream. When dropTombstones is
// true, deleted keys are omitted entirely rather than carried forward
// as tombstones.
func Merge(tables []*sstable.Reader, dropTombstones bool) ([]sstable.Entry, error) {
	h := &mergeHeap{}
	heap.Init(h)

	for rank, t := range tables {
		entries, err := t.ScanAll()
		if err != nil {
			return nil, fmt.Errorf("compaction: scan %s: %w", t.Basename(), err)
		}
		if len(entries) == 0 {
			continue
		}
		heap.Push(h, &mergeSource{entries: entries, rank: rank})
	}

	var out []sstable.Entry
	var lastKey []byte
	haveLast := false

	for h.Len() > 0 {
		src := (*h)[0]
		e := src.peek()

		src.pos++
		if src.done() {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}

		if haveLast && bytesCompare(e.Key, lastKey) == 0 {
			// An older source's duplicate of a key we already emitted
			// (or skipped) from a newer source; discard it.
			continue
		}
		lastKey = e.Key
		haveLast = true

		if e.Tombstone && dropTombstones {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

// Write serializes entries into one or more new SSTables at level
// under dir, naming each with fileNums.Next() and stride for
// the sparse index, returning the tables it produced in key order.
func Write(dir string, level int, entries []sstable.Entry, fileNums *clock.Clock, stride int) ([]*sstable.Reader, error) {
	var out []*sstable.Reader

	for start := 0; start < len(entries); start += maxEntriesPerTable {
		end := start + maxEntriesPerTable
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		basename := sstable.Basename(level, fileNums.Next())
		w, err := sstable.NewWriter(dir, basename, stride)
		if err != nil {
			return out, fmt.Errorf("compaction: new writer: %w", err)
		}
		for _, e := range chunk {
			if err := w.Add(e.Key, e.Value, e.Tombstone); err != nil {
				w.Abort()
				return out, fmt.Errorf("compaction: write entry: %w", err)
			}
		}
		r, err := w.Finish()
		if err != nil {
			return out, fmt.Errorf("compaction: finish table: %w", err)
		}
		out = append(out, r)
	}

	return out, nil
}

// pendingRemovalFile names the marker written after a compaction's
// output tables are durably on disk but before its stale input tables
// are unlinked, so a crash in between can be recovered from: on the
// next Open, RecoverPendingRemoval finishes the unlink the crash
// interrupted before anything else reads the data directory.
const pendingRemovalFile = "compaction.pending"

func pendingRemovalPath(dir string) string {
	return filepath.Join(dir, pendingRemovalFile)
}

// writePendingRemoval records basenames as safe to unlink once durably
// committed, via a temp-file-plus-rename so a crash mid-write leaves
// either no marker or a complete one, never a truncated one.
func writePendingRemoval(dir string, basenames []string) error {
	if len(basenames) == 0 {
		return nil
	}
	tmp := pendingRemovalPath(dir) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("compaction: create pending-removal marker: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, b := range basenames {
		if _, err := fmt.Fprintln(w, b); err != nil {
			f.Close()
			return fmt.Errorf("compaction: write pending-removal marker: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("compaction: flush pending-removal marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("compaction: sync pending-removal marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("compaction: close pending-removal marker: %w", err)
	}
	if err := os.Rename(tmp, pendingRemovalPath(dir)); err != nil {
		return fmt.Errorf("compaction: install pending-removal marker: %w", err)
	}
	return nil
}

func clearPendingRemoval(dir string) error {
	if err := os.Remove(pendingRemovalPath(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("compaction: clear pending-removal marker: %w", err)
	}
	return nil
}

// RecoverPendingRemoval unlinks any stale compaction input tables left
// behind by a crash between a compaction's output becoming durable and
// its inputs being unlinked. It must run before anything else in dir
// is read, since those stale inputs may duplicate keys the fresh
// output tables already cover.
func RecoverPendingRemoval(dir string) error {
	data, err := os.ReadFile(pendingRemovalPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("compaction: read pending-removal marker: %w", err)
	}

	for _, basename := range strings.Fields(string(data)) {
		if err := os.Remove(sstable.DataPath(dir, basename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("compaction: remove stale table %s: %w", basename, err)
		}
		if err := os.Remove(sstable.IndexPath(dir, basename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("compaction: remove stale index %s: %w", basename, err)
		}
	}
	return clearPendingRemoval(dir)
}

// Plan describes one compaction round: the tables at SourceLevel that
// triggered it, the tables at TargetLevel whose key ranges overlap
// them, and the level the merge result lands on. SourceTables must be
// newest-first (ties resolve in their favor); OverlapTables are always
// older than every SourceTable, so they are appended after.
type Plan struct {
	SourceLevel   int
	TargetLevel   int
	SourceTables  []*sstable.Reader
	OverlapTables []*sstable.Reader
}

// Run executes plan against mgr: merges SourceTables ahead of
// OverlapTables (so a duplicate key keeps the source level's value),
// drops tombstones only when TargetLevel is the deepest level still in
// use once the merged tables are retired, writes the result into
// TargetLevel, installs the new tables, retires the old ones, and
// returns the new tables.
func Run(dir string, plan Plan, mgr *levels.Manager, fileNums *clock.Clock, stride int) ([]*sstable.Reader, error) {
	all := append(append([]*sstable.Reader{}, plan.SourceTables...), plan.OverlapTables...)

	willBeDeepest := plan.TargetLevel >= mgr.DeepestInUse()
	if plan.SourceLevel == mgr.DeepestInUse() && plan.SourceLevel != plan.TargetLevel {
		// The source level is about to lose every table it has; the
		// target level becomes the new deepest level in use.
		willBeDeepest = true
	}

	merged, err := Merge(all, willBeDeepest)
	if err != nil {
		return nil, err
	}

	var fresh []*sstable.Reader
	if len(merged) > 0 {
		fresh, err = Write(dir, plan.TargetLevel, merged, fileNums, stride)
		if err != nil {
			return nil, err
		}
	}

	stale := make([]string, len(all))
	for i, t := range all {
		stale[i] = t.Basename()
	}
	if err := writePendingRemoval(dir, stale); err != nil {
		return fresh, err
	}

	for _, t := range plan.SourceTables {
		mgr.Remove(plan.SourceLevel, t.Basename())
	}
	for _, t := range plan.OverlapTables {
		mgr.Remove(plan.TargetLevel, t.Basename())
	}
	for _, t := range fresh {
		mgr.Add(plan.TargetLevel, t)
	}

	for _, t := range all {
		if err := t.Remove(); err != nil {
			return fresh, fmt.Errorf("compaction: remove old table: %w", err)
		}
	}

	if err := clearPendingRemoval(dir); err != nil {
		return fresh, err
	}

	return fresh, nil
}
