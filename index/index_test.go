package index_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/index"
	"github.com/alpacahq/shmstore/utils/io"
)

func records(t *testing.T, ids ...int64) *io.RecordArray {
	t.Helper()
	dsv, err := io.NewSchema([]io.DataShape{
		{Name: "id", Type: io.INT64},
		{Name: "value", Type: io.FLOAT64},
	}, []string{"id"})
	require.NoError(t, err)
	ra := io.NewRecordArray(dsv, make([]byte, len(ids)*io.RecordLength(dsv)))
	for i, id := range ids {
		require.NoError(t, ra.Set(i, 0, id))
	}
	return ra
}

func TestHashIndex(t *testing.T) {
	t.Parallel()
	ra := records(t, 7, 3, 9)
	x := index.NewHashIndex()
	require.NoError(t, x.Rebuild(ra, 3))
	assert.Equal(t, 3, x.Len())

	key, err := ra.EncodeKey(int64(3))
	require.NoError(t, err)
	row, ok := x.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, 1, row)

	key, err = ra.EncodeKey(int64(4))
	require.NoError(t, err)
	_, ok = x.Lookup(key)
	assert.False(t, ok)
	require.NoError(t, x.Insert(key, 3))
	assert.Equal(t, 4, x.Len())

	err = x.Insert(key, 4)
	assert.True(t, errors.Is(err, index.ErrDuplicateKey))
}

func TestHashIndexRebuildRejectsDuplicates(t *testing.T) {
	t.Parallel()
	ra := records(t, 1, 2, 1)
	x := index.NewHashIndex()
	err := x.Rebuild(ra, 3)
	assert.True(t, errors.Is(err, index.ErrDuplicateKey))

	// the duplicate lies beyond count
	require.NoError(t, x.Rebuild(ra, 2))
	assert.Equal(t, 2, x.Len())
}
