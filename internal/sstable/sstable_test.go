package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, dir, basename string, stride int, n int) *Reader {
	t.Helper()
	w, err := NewWriter(dir, basename, stride)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if i%7 == 6 {
			require.NoError(t, w.Add(key, nil, true))
			continue
		}
		value := []byte(fmt.Sprintf("value-%05d", i))
		require.NoError(t, w.Add(key, value, false))
	}

	r, err := w.Finish()
	require.NoError(t, err)
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000001", 4, 50)
	defer r.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value, status, err := r.Get(key)
		require.NoError(t, err)

		if i%7 == 6 {
			assert.Equal(t, Tombstoned, status, "key %s", key)
			continue
		}
		require.Equal(t, Found, status, "key %s", key)
		assert.Equal(t, []byte(fmt.Sprintf("value-%05d", i)), value)
	}
}

func TestGetOutsideRangeSkipsIO(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000002", 8, 20)
	defer r.Close()

	_, status, err := r.Get([]byte("aaa-before-range"))
	require.NoError(t, err)
	assert.Equal(t, NotPresent, status)

	_, status, err = r.Get([]byte("zzz-after-range"))
	require.NoError(t, err)
	assert.Equal(t, NotPresent, status)
}

func TestGetMissingKeyWithinRange(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000003", 5, 30)
	defer r.Close()

	_, status, err := r.Get([]byte("key-00007b"))
	require.NoError(t, err)
	assert.Equal(t, NotPresent, status)
}

func TestSparseIndexBoundsLookupWork(t *testing.T) {
	dir := t.TempDir()
	const stride = 10
	r := buildTable(t, dir, "L0-000004", stride, 1000)
	defer r.Close()

	require.LessOrEqual(t, len(r.sparse), 1000/stride+1)

	value, status, err := r.Get([]byte("key-00500"))
	require.NoError(t, err)
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("value-00500"), value)
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000005", 6, 40)
	minKey, maxKey := append([]byte(nil), r.MinKey()...), append([]byte(nil), r.MaxKey()...)
	require.NoError(t, r.Close())

	reopened, err := Open(dir, "L0-000005", 6)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, minKey, reopened.MinKey())
	assert.Equal(t, maxKey, reopened.MaxKey())

	value, status, err := reopened.Get([]byte("key-00010"))
	require.NoError(t, err)
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("value-00010"), value)
}

func TestScanAllPreservesOrderAndTombstones(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000006", 3, 21)
	defer r.Close()

	entries, err := r.ScanAll()
	require.NoError(t, err)
	require.Len(t, entries, 21)

	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("key-%05d", i), string(e.Key))
		if i%7 == 6 {
			assert.True(t, e.Tombstone)
		} else {
			assert.False(t, e.Tombstone)
			assert.Equal(t, fmt.Sprintf("value-%05d", i), string(e.Value))
		}
	}
}

func TestWriterRejectsUnsortedInput(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "L0-000007", 10)
	require.NoError(t, err)

	require.NoError(t, w.Add([]byte("b"), []byte("1"), false))
	err = w.Add([]byte("a"), []byte("1"), false)
	require.ErrorIs(t, err, ErrUnsortedInput)
	require.NoError(t, w.Abort())
}

func TestWriterRejectsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "L0-000008", 10)
	require.NoError(t, err)

	_, err = w.Finish()
	require.Error(t, err)
}

func TestOverlaps(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, "L0-000009", 10, 30)
	defer r.Close()

	assert.True(t, r.Overlaps([]byte("key-00010"), []byte("key-00020")))
	assert.True(t, r.Overlaps(nil, nil))
	assert.False(t, r.Overlaps([]byte("zzz"), nil))
	assert.False(t, r.Overlaps(nil, []byte("aaa")))
}
