package show

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/utils/io"
)

func TestPrintHeader(t *testing.T) {
	t.Parallel()
	key, err := catalog.ParseTableKey("equity/1D/iex/AAPL")
	require.NoError(t, err)
	dsv, err := io.NewSchema([]io.DataShape{{Name: "id", Type: io.INT64}}, []string{"id"})
	require.NoError(t, err)
	h := io.NewHeader(dsv, 1024)
	h.Count, h.HeadCount, h.HasTail = 10, 6, true
	h.MinChangedID = 8
	h.ModifiedAt = io.TimeToSeconds(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))

	var buf bytes.Buffer
	PrintHeader(&buf, key, h)
	out := buf.String()
	assert.Contains(t, out, "equity/1D/iex/AAPL")
	assert.Contains(t, out, "[id:int64*, mtime:timestamp]")
	assert.Contains(t, out, "10 of 1024 (160B of 16K)")
	assert.Contains(t, out, "head 6 rows, tail 4 rows")
	assert.Contains(t, out, "row 8")
	assert.Contains(t, out, "2024-02-03 04:05:06.000000 UTC")
}

func TestPrintRows(t *testing.T) {
	t.Parallel()
	cs := io.NewColumnSeries()
	cs.AddColumn("id", io.INT64, []interface{}{int64(1), int64(22)})
	cs.AddColumn("close", io.FLOAT64, []interface{}{1.5, 2.25})

	var buf bytes.Buffer
	require.NoError(t, PrintRows(&buf, cs))
	assert.Equal(t, "id  close\n1   1.5\n22  2.25\n", buf.String())
}
