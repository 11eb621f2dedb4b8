package sstable

import "encoding/binary"

// tombstoneSentinel marks a deleted key in the data file: a value
// length that can never occur for a real value (ordinary values are
// length-limited to 2^32-2, spec §4.4).
const tombstoneSentinel uint32 = 0xFFFFFFFF

func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
