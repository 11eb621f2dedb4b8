package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/record"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cur.wal")

	w, err := Open(path)
	require.NoError(t, err)

	records := []record.Record{
		{LSN: 1, Tag: record.Insert, Key: []byte("a"), Value: []byte("1")},
		{LSN: 2, Tag: record.Insert, Key: []byte("b"), Value: []byte("2")},
		{LSN: 3, Tag: record.Delete, Key: []byte("a")},
	}
	for _, r := range records {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	var replayed []record.Record
	err = w2.Replay(func(r record.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, records, replayed)
}

func TestReplayStopsAtTruncatedTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cur.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(record.Record{LSN: 1, Tag: record.Insert, Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, w.Append(record.Record{LSN: 2, Tag: record.Insert, Key: []byte("b"), Value: []byte("2")}))
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: chop the last few bytes off the file.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	var replayed []record.Record
	err = w2.Replay(func(r record.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err, "a truncated trailer must not be reported as an error")
	require.Len(t, replayed, 1)
	assert.Equal(t, uint64(1), replayed[0].LSN)
}

func TestReplayReportsCorruptionInsideCompleteFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cur.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(record.Record{LSN: 1, Tag: record.Insert, Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, w.Close())

	// Flip a byte inside the payload, after the length prefix, without
	// changing the declared length: a complete frame with a bad checksum.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	err = w2.Replay(func(r record.Record) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cur.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(record.Record{LSN: 1, Tag: record.Insert, Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, w.Reset())

	var replayed []record.Record
	err = w.Replay(func(r record.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, replayed)
}
