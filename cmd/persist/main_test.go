package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/utils/io"
)

func TestPersistTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()
	opts := executor.Options{RootDirectory: t.TempDir(), LockTimeout: 50 * time.Millisecond}
	key, err := catalog.NewTableKey("equity", "1D", "iex", "AAPL")
	require.NoError(t, err)

	tbl, err := executor.Create(ctx, reg, key,
		[]io.DataShape{{Name: "id", Type: io.INT64}}, []string{"id"}, 4, opts)
	require.NoError(t, err)
	defer tbl.Free()
	row, err := tbl.EncodeRow(int64(1), int64(0))
	require.NoError(t, err)
	_, _, err = tbl.Upsert(ctx, row)
	require.NoError(t, err)

	require.NoError(t, PersistTable(ctx, reg, key, opts, 10*time.Millisecond, time.Second))

	loaded, err := tbl.Synchronizer().Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Header.Count)

	// an unmapped table cannot be persisted
	other, err := catalog.NewTableKey("equity", "1D", "iex", "MSFT")
	require.NoError(t, err)
	err = PersistTable(ctx, reg, other, opts, 10*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, executor.ErrSegmentNotFound)
}
