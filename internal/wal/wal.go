// Package wal implements the append-only write-ahead log described in
// spec §4.2: an 8-byte little-endian length prefix followed by a
// checksummed record.Record, with truncated-trailer recovery on replay.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kvforge/lsmkv/internal/logging"
	"github.com/kvforge/lsmkv/internal/record"
)

var log = logging.For("wal")

const lengthPrefixSize = 8

// ErrCorrupt wraps a checksum failure inside an otherwise complete
// length frame: media corruption, not a crash mid-write (spec §7).
var ErrCorrupt = errors.New("wal: corrupt record")

// WAL is the single active journal file for an engine. Rotation is a
// non-goal in this core: there is exactly one file, "cur.wal".
type WAL struct {
	file *os.File
	path string
}

// Open creates or reopens the WAL file at path for append.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{file: f, path: path}, nil
}

// Append writes r as a length-prefixed, checksummed frame and fsyncs
// the file before returning, so the caller may apply the mutation to
// the MemTable only once this returns successfully (spec invariant 2).
func (w *WAL) Append(r record.Record) error {
	payload := record.Encode(r)

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("wal: append lsn %d: %w", r.LSN, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync after lsn %d: %w", r.LSN, err)
	}
	return nil
}

// Replay reads the log from the beginning, invoking fn with each
// complete record in file order. It stops cleanly at a truncated
// trailer (the length prefix can't be fully read, or the payload is
// shorter than declared) — that is the point of the last crash, not an
// error. A checksum failure inside a complete frame is fatal
// Corruption and returned as ErrCorrupt.
func (w *WAL) Replay(fn func(record.Record) error) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek for replay: %w", err)
	}

	lengthBuf := make([]byte, lengthPrefixSize)
	for {
		n, err := io.ReadFull(w.file, lengthBuf)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			log.Warn("wal: truncated length prefix, stopping replay at last clean record")
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: read length prefix: %w", err)
		}

		payloadLen := binary.LittleEndian.Uint64(lengthBuf)
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(w.file, payload); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				log.Warn("wal: truncated payload, stopping replay at last clean record")
				return nil
			}
			return fmt.Errorf("wal: read payload: %w", err)
		}

		rec, err := record.Decode(payload)
		if err != nil {
			log.WithError(err).Error("wal: corrupt record inside complete frame")
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Sync forces any buffered writes to stable storage. Append already
// syncs per-entry; this is exposed for callers that want an explicit
// barrier (e.g. before reporting a batch durable).
func (w *WAL) Sync() error {
	return w.file.Sync()
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Reset truncates the WAL to empty, used once its contents have been
// durably flushed to an SSTable and no longer need replaying.
func (w *WAL) Reset() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate %s: %w", w.path, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after truncate %s: %w", w.path, err)
	}
	return nil
}

// Path returns the WAL's file path.
func (w *WAL) Path() string {
	return w.path
}
