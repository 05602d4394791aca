package blobstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/blobstore"
)

func TestDirStoreFreshness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := blobstore.NewDirStore(t.TempDir())
	local := filepath.Join(t.TempDir(), "head.bin")

	// nothing anywhere
	data, lm, rm, err := store.Download(ctx, "a/b/head.bin.zst", local, false)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.True(t, lm.IsZero())
	assert.True(t, rm.IsZero())

	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Upload(ctx, []byte("v1"), "a/b/head.bin.zst", t1))

	// no local copy: remote wins
	data, _, rm, err = store.Download(ctx, "a/b/head.bin.zst", local, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
	assert.True(t, t1.Equal(rm))

	// local copy with the same mtime: local wins
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o600))
	require.NoError(t, blobstore.TouchMtime(local, t1))
	data, _, _, err = store.Download(ctx, "a/b/head.bin.zst", local, false)
	require.NoError(t, err)
	assert.Nil(t, data)

	// forced
	data, _, _, err = store.Download(ctx, "a/b/head.bin.zst", local, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	// newer remote
	require.NoError(t, store.Upload(ctx, []byte("v2"), "a/b/head.bin.zst", t1.Add(time.Second)))
	data, _, _, err = store.Download(ctx, "a/b/head.bin.zst", local, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx, "a/b/head.bin.zst"))
	require.NoError(t, store.Delete(ctx, "a/b/head.bin.zst"))
}

func TestParseMtime(t *testing.T) {
	t.Parallel()

	fallback := time.Unix(100, 0)
	now := time.Unix(0, 1700000000123456789)
	assert.True(t, now.Equal(blobstore.ParseMtime(blobstore.FormatMtime(now), fallback)))
	assert.Equal(t, fallback, blobstore.ParseMtime("", fallback))
	assert.Equal(t, fallback, blobstore.ParseMtime("x", fallback))
	assert.False(t, blobstore.ShouldFetch(time.Time{}, time.Time{}, true))
}
