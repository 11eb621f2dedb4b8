// Package sstable implements the immutable, sorted on-disk table
// described in spec §4.4/§4.5: a paired data file and index file, with
// an in-memory sparse index sampled every Kth key.
package sstable

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrUnsortedInput is an invariant-violation: the writer was given keys
// out of order, or a duplicate key.
var ErrUnsortedInput = errors.New("sstable: input keys must be strictly increasing")

// IndexEntry is one sampled (key, index-file-offset) pair kept in
// memory as the sparse index.
type IndexEntry struct {
	Key    []byte
	Offset uint64
}

// Writer serializes a sorted, deduplicated key stream into a new
// SSTable's data and index files, accumulating the sparse index and
// min/max keys as it goes. Add must be called in strictly increasing
// key order.
type Writer struct {
	basename string
	dataPath string
	idxPath  string

	dataFile *os.File
	idxFile  *os.File

	stride int
	count  int

	dataOffset uint64
	idxOffset  uint64

	minKey, maxKey []byte
	sparse         []IndexEntry
}

// NewWriter creates the data and index files for a new SSTable named
// basename under dir.
func NewWriter(dir, basename string, stride int) (*Writer, error) {
	dataPath := DataPath(dir, basename)
	idxPath := IndexPath(dir, basename)

	dataFile, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: create data file: %w", err)
	}
	idxFile, err := os.Create(idxPath)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("sstable: create index file: %w", err)
	}

	if stride <= 0 {
		stride = 100
	}

	return &Writer{
		basename: basename,
		dataPath: dataPath,
		idxPath:  idxPath,
		dataFile: dataFile,
		idxFile:  idxFile,
		stride:   stride,
	}, nil
}

// Add appends one (key, value-or-tombstone) pair. value is ignored
// when tombstone is true. Keys must arrive in strictly increasing
// order; violating this returns ErrUnsortedInput and the writer should
// be Abort()ed.
func (w *Writer) Add(key, value []byte, tombstone bool) error {
	if w.maxKey != nil && bytes.Compare(key, w.maxKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnsortedInput, key, w.maxKey)
	}

	dataOffsetOfEntry := w.dataOffset
	if err := w.writeDataEntry(value, tombstone); err != nil {
		return err
	}

	idxOffsetOfEntry := w.idxOffset
	if err := w.writeIndexEntry(key, dataOffsetOfEntry); err != nil {
		return err
	}

	if w.minKey == nil {
		w.minKey = append([]byte(nil), key...)
	}
	w.maxKey = append([]byte(nil), key...)

	if w.count%w.stride == 0 {
		w.sparse = append(w.sparse, IndexEntry{
			Key:    append([]byte(nil), key...),
			Offset: idxOffsetOfEntry,
		})
	}
	w.count++

	return nil
}

func (w *Writer) writeDataEntry(value []byte, tombstone bool) error {
	var header [4]byte
	if tombstone {
		putUint32(header[:], tombstoneSentinel)
		if _, err := w.dataFile.Write(header[:]); err != nil {
			return fmt.Errorf("sstable: write tombstone entry: %w", err)
		}
		w.dataOffset += 4
		return nil
	}

	putUint32(header[:], uint32(len(value)))
	if _, err := w.dataFile.Write(header[:]); err != nil {
		return fmt.Errorf("sstable: write value length: %w", err)
	}
	if len(value) > 0 {
		if _, err := w.dataFile.Write(value); err != nil {
			return fmt.Errorf("sstable: write value: %w", err)
		}
	}
	w.dataOffset += 4 + uint64(len(value))
	return nil
}

func (w *Writer) writeIndexEntry(key []byte, dataOffset uint64) error {
	buf := make([]byte, 4+len(key)+8)
	putUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	putUint64(buf[4+len(key):], dataOffset)

	if _, err := w.idxFile.Write(buf); err != nil {
		return fmt.Errorf("sstable: write index entry: %w", err)
	}
	w.idxOffset += uint64(len(buf))
	return nil
}

// Finish flushes and closes the data and index files, then opens the
// data file read-only for the resulting Reader. An empty writer (no
// Add calls) is rejected — an SSTable always has at least one key.
func (w *Writer) Finish() (*Reader, error) {
	if w.count == 0 {
		w.Abort()
		return nil, fmt.Errorf("sstable: refusing to finish an empty table")
	}

	if err := w.dataFile.Sync(); err != nil {
		return nil, fmt.Errorf("sstable: sync data file: %w", err)
	}
	if err := w.idxFile.Sync(); err != nil {
		return nil, fmt.Errorf("sstable: sync index file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		return nil, fmt.Errorf("sstable: close data file: %w", err)
	}
	if err := w.idxFile.Close(); err != nil {
		return nil, fmt.Errorf("sstable: close index file: %w", err)
	}

	dataFile, err := os.Open(w.dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: reopen data file: %w", err)
	}
	idxFile, err := os.Open(w.idxPath)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("sstable: reopen index file: %w", err)
	}

	return &Reader{
		basename: w.basename,
		dataPath: w.dataPath,
		idxPath:  w.idxPath,
		dataFile: dataFile,
		idxFile:  idxFile,
		stride:   w.stride,
		minKey:   w.minKey,
		maxKey:   w.maxKey,
		sparse:   w.sparse,
	}, nil
}

// Abort discards a partially written table, removing both files.
func (w *Writer) Abort() error {
	w.dataFile.Close()
	w.idxFile.Close()
	os.Remove(w.dataPath)
	os.Remove(w.idxPath)
	return nil
}
