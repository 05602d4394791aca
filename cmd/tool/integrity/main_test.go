package integrity

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/utils/io"
)

func createTable(t *testing.T, reg *shm.Registry, opts executor.Options, name string) catalog.TableKey {
	t.Helper()
	ctx := context.Background()
	key, err := catalog.NewTableKey("equity", "1D", "iex", name)
	require.NoError(t, err)
	tbl, err := executor.Create(ctx, reg, key,
		[]io.DataShape{{Name: "id", Type: io.INT64}, {Name: "close", Type: io.FLOAT64}},
		[]string{"id"}, 4, opts)
	require.NoError(t, err)
	defer tbl.Free()
	for id := int64(1); id <= 3; id++ {
		row, err := tbl.EncodeRow(id, int64(0), float64(id))
		require.NoError(t, err)
		_, _, err = tbl.Upsert(ctx, row)
		require.NoError(t, err)
	}
	_, err = tbl.Persist(ctx)
	require.NoError(t, err)
	return key
}

func TestCheck(t *testing.T) {
	t.Parallel()
	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()
	opts := executor.Options{
		RootDirectory: t.TempDir(),
		LockTimeout:   time.Second,
	}
	good := createTable(t, reg, opts, "AAPL")
	bad := createTable(t, reg, opts, "MSFT")
	dir := catalog.NewDirectory(opts.RootDirectory)

	p := filepath.Join(dir.PathTo(bad), persist.HeadFile)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	b[len(b)-1] ^= 0x01
	require.NoError(t, os.WriteFile(p, b, 0o600))

	keys, err := dir.ListTables("")
	require.NoError(t, err)
	require.Equal(t, []catalog.TableKey{good, bad}, keys)

	for _, parallel := range []bool{false, true} {
		var buf bytes.Buffer
		n := Check(context.Background(), &buf, dir, keys, nil, nil, parallel)
		assert.Equal(t, 1, n)
		out := buf.String()
		assert.Contains(t, out, "ok\tequity/1D/iex/AAPL\t3 rows\n")
		assert.Contains(t, out, "CORRUPT\tequity/1D/iex/MSFT\t")
	}
}
