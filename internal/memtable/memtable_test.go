package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	m := New()
	m.Put([]byte("a"), []byte("1"))
	m.Put([]byte("b"), []byte("2"))

	v, status := m.Get([]byte("a"))
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("1"), v)

	v, status = m.Get([]byte("b"))
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("2"), v)

	_, status = m.Get([]byte("c"))
	assert.Equal(t, NotPresent, status)
}

func TestOverwriteWins(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v1"))
	m.Put([]byte("k"), []byte("v2"))

	v, status := m.Get([]byte("k"))
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("v2"), v)
	assert.Equal(t, 1, m.Len())
}

func TestDeleteHides(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v1"))
	m.Delete([]byte("k"))

	_, status := m.Get([]byte("k"))
	assert.Equal(t, Tombstoned, status)
}

func TestPutDeletePutSequence(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v1"))
	m.Put([]byte("k"), []byte("v2"))
	m.Delete([]byte("k"))
	m.Put([]byte("k"), []byte("v3"))

	v, status := m.Get([]byte("k"))
	require.Equal(t, Found, status)
	assert.Equal(t, []byte("v3"), v)
}

func TestSizeAccounting(t *testing.T) {
	m := New()
	m.Put([]byte("ab"), []byte("1234"))
	assert.Equal(t, 6, m.SizeBytes())

	m.Put([]byte("ab"), []byte("12"))
	assert.Equal(t, 4, m.SizeBytes())

	m.Delete([]byte("ab"))
	assert.Equal(t, 2, m.SizeBytes())

	m.Delete([]byte("never-existed"))
	assert.Equal(t, 2+len("never-existed"), m.SizeBytes())
}

func TestAllIsSortedAndIncludesTombstones(t *testing.T) {
	m := New()
	m.Put([]byte("charlie"), []byte("3"))
	m.Put([]byte("alpha"), []byte("1"))
	m.Put([]byte("bravo"), []byte("2"))
	m.Delete([]byte("bravo"))

	entries := m.All()
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("alpha"), entries[0].Key)
	assert.Equal(t, []byte("bravo"), entries[1].Key)
	assert.True(t, entries[1].Tombstone)
	assert.Equal(t, []byte("charlie"), entries[2].Key)
}
