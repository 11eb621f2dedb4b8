// Package record defines the tagged operation record written to the
// write-ahead log and consumed when rebuilding a MemTable from it.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Tag identifies the kind of operation a Record carries.
type Tag uint8

const (
	// Insert sets key to value.
	Insert Tag = iota + 1
	// Delete marks key as tombstoned.
	Delete
	// StartTxn is reserved; it has no effect on MemTable state in this core.
	StartTxn
	// CommitTxn is reserved; it has no effect on MemTable state in this core.
	CommitTxn
)

func (t Tag) String() string {
	switch t {
	case Insert:
		return "Insert"
	case Delete:
		return "Delete"
	case StartTxn:
		return "StartTxn"
	case CommitTxn:
		return "CommitTxn"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Record is a single WAL entry: an operation tagged with the LSN it was
// assigned at append time, carrying an optional key and value.
type Record struct {
	LSN   uint64
	Tag   Tag
	Key   []byte
	Value []byte
}

// fixed field layout, everything before key/value bytes:
// [lsn:8][tag:1][keyLen:4][valueLen:4]
const headerSize = 8 + 1 + 4 + 4
const checksumSize = 8

// Encode serializes r into its on-disk payload, NOT including the 8-byte
// length prefix the WAL writes ahead of it. The trailing 8 bytes are an
// xxhash64 checksum of everything preceding them, letting a reader
// distinguish a corrupted-but-complete frame from a truncated one.
func Encode(r Record) []byte {
	size := headerSize + len(r.Key) + len(r.Value) + checksumSize
	buf := make([]byte, size)

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], r.LSN)
	offset += 8
	buf[offset] = byte(r.Tag)
	offset++
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(r.Key)))
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(r.Value)))
	offset += 4
	offset += copy(buf[offset:], r.Key)
	offset += copy(buf[offset:], r.Value)

	sum := xxhash.Sum64(buf[:offset])
	binary.LittleEndian.PutUint64(buf[offset:], sum)

	return buf
}

// ErrChecksumMismatch indicates a complete frame whose payload does not
// match its trailing checksum: media corruption, not a mid-write crash.
var ErrChecksumMismatch = fmt.Errorf("record: checksum mismatch")

// Decode parses the payload written by Encode. It returns
// ErrChecksumMismatch if the frame is complete but its checksum does not
// match; callers (the WAL) treat that as fatal Corruption (spec §7),
// distinct from a truncated-trailer short read.
func Decode(payload []byte) (Record, error) {
	if len(payload) < headerSize+checksumSize {
		return Record{}, fmt.Errorf("record: payload too small: %d bytes", len(payload))
	}

	body := payload[:len(payload)-checksumSize]
	wantSum := binary.LittleEndian.Uint64(payload[len(payload)-checksumSize:])
	if gotSum := xxhash.Sum64(body); gotSum != wantSum {
		return Record{}, ErrChecksumMismatch
	}

	offset := 0
	lsn := binary.LittleEndian.Uint64(body[offset:])
	offset += 8
	tag := Tag(body[offset])
	offset++
	keyLen := binary.LittleEndian.Uint32(body[offset:])
	offset += 4
	valueLen := binary.LittleEndian.Uint32(body[offset:])
	offset += 4

	if offset+int(keyLen)+int(valueLen) != len(body) {
		return Record{}, fmt.Errorf("record: declared lengths do not match payload size")
	}

	// An empty field the tag does not carry (Delete's value, both fields
	// of the Txn variants) decodes as nil; an Insert's value and the key
	// of Insert/Delete are always non-nil, even when empty.
	var key, value []byte
	if keyLen > 0 || tag == Insert || tag == Delete {
		key = make([]byte, keyLen)
		copy(key, body[offset:offset+int(keyLen)])
	}
	offset += int(keyLen)

	if valueLen > 0 || tag == Insert {
		value = make([]byte, valueLen)
		copy(value, body[offset:offset+int(valueLen)])
	}

	return Record{LSN: lsn, Tag: tag, Key: key, Value: value}, nil
}
