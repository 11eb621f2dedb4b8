package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/config"
)

func openTestEngine(t *testing.T, opts ...config.Option) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func TestScenarioS1BasicPutGet(t *testing.T) {
	e, _ := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, e.Put(ctx, []byte("b"), []byte("2")))

	v, err := e.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = e.Get(ctx, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	_, err = e.Get(ctx, []byte("c"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestScenarioS2OverwriteDeleteOverwrite(t *testing.T) {
	e, _ := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, []byte("k"), []byte("v1")))
	require.NoError(t, e.Put(ctx, []byte("k"), []byte("v2")))
	require.NoError(t, e.Delete(ctx, []byte("k")))
	require.NoError(t, e.Put(ctx, []byte("k"), []byte("v3")))

	v, err := e.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), v)
}

func TestPointReadAfterWriteSurvivesFlush(t *testing.T) {
	e, _ := openTestEngine(t, config.WithMemTableFlushBytes(256))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		require.NoError(t, e.Put(ctx, key, value))
	}

	require.NoError(t, e.Compact())

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		v, err := e.Get(ctx, key)
		require.NoError(t, err, "key %s", key)
		assert.Equal(t, value, v)
	}
}

func TestDeleteHidesAcrossFlushAndCompaction(t *testing.T) {
	e, _ := openTestEngine(t, config.WithMemTableFlushBytes(128), config.WithLevelFileThreshold(2))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e.Put(ctx, key, []byte("v")))
		if i%2 == 0 {
			require.NoError(t, e.Delete(ctx, key))
		}
	}
	require.NoError(t, e.Compact())

	for i := 0; i < 60; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		_, err := e.Get(ctx, key)
		if i%2 == 0 {
			assert.ErrorIs(t, err, ErrKeyNotFound, "key %s", key)
		} else {
			assert.NoError(t, err, "key %s", key)
		}
	}
}

func TestWALDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e1.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, e1.Close())

	e2, err := Open(dir)
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestReopenAfterFlushAndCompactionStillServesData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e1, err := Open(dir, config.WithMemTableFlushBytes(128), config.WithLevelFileThreshold(2))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, e1.Put(ctx, key, []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, e1.Compact())
	require.NoError(t, e1.Close())

	e2, err := Open(dir, config.WithMemTableFlushBytes(128), config.WithLevelFileThreshold(2))
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		v, err := e2.Get(ctx, key)
		require.NoError(t, err, "key %s", key)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestCrashRecoveryTruncatedWALTrailer(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e1.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, e1.Put(ctx, []byte("b"), []byte("2")))
	require.NoError(t, e1.Close())

	walPath := filepath.Join(dir, "wals", "cur.wal")
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, info.Size()-3))

	e2, err := Open(dir)
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = e2.Get(ctx, []byte("b"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCompactionTriggersAtFileCountThreshold(t *testing.T) {
	e, _ := openTestEngine(t, config.WithMemTableFlushBytes(64), config.WithLevelFileThreshold(3))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, e.Put(ctx, key, []byte("v")))
	}

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		_, err := e.Get(ctx, key)
		require.NoError(t, err, "key %s", key)
	}

	require.NoError(t, e.Compact())
	stats := e.Stats()
	assert.Zero(t, stats.FilesPerLevel[0], "Compact should have drained L0 entirely into L1")

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		_, err := e.Get(ctx, key)
		require.NoError(t, err, "key %s", key)
	}
}

func TestLargeRandomWorkload(t *testing.T) {
	e, _ := openTestEngine(t, config.WithMemTableFlushBytes(4096), config.WithLevelFileThreshold(4))
	ctx := context.Background()

	const n = 2000
	values := make(map[string]string, n)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		value := fmt.Sprintf("value-%06d-%d", i, r.Intn(1000))
		values[key] = value
		require.NoError(t, e.Put(ctx, []byte(key), []byte(value)))
	}

	for key, want := range values {
		got, err := e.Get(ctx, []byte(key))
		require.NoError(t, err, "key %s", key)
		assert.Equal(t, want, string(got))
	}

	_, err := e.Get(ctx, []byte("never-inserted"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEmptyKeyRejected(t *testing.T) {
	e, _ := openTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.Put(ctx, nil, []byte("v")), ErrKeyEmpty)
	assert.ErrorIs(t, e.Delete(ctx, []byte{}), ErrKeyEmpty)
	_, err := e.Get(ctx, nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	e, _ := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Put(ctx, []byte("a"), []byte("1")), ErrClosed)
	_, err := e.Get(ctx, []byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
}
