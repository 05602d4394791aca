package io_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/utils/io"
)

func TestNewSchemaInsertsMtime(t *testing.T) {
	t.Parallel()

	dsv := []io.DataShape{
		{Name: "date", Type: io.TIMESTAMP},
		{Name: "close", Type: io.FLOAT64},
	}
	got, err := io.NewSchema(dsv, []string{"date"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "date", got[0].Name)
	assert.True(t, got[0].Key)
	assert.Equal(t, io.ModifiedAtColumn, got[1].Name)
	assert.Equal(t, "close", got[2].Name)
	assert.Equal(t, 24, io.RecordLength(got))
}

func TestNewSchemaKeepsDeclaredMtime(t *testing.T) {
	t.Parallel()

	dsv := []io.DataShape{
		{Name: "id", Type: io.INT64},
		{Name: "mtime", Type: io.TIMESTAMP},
		{Name: "value", Type: io.FLOAT64},
	}
	got, err := io.NewSchema(dsv, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, "id:int64:k|mtime:timestamp:v|value:float64:v", io.EncodeDescriptor(got))
}

func TestNewSchemaErrors(t *testing.T) {
	t.Parallel()

	dsv := []io.DataShape{
		{Name: "value", Type: io.FLOAT64},
		{Name: "id", Type: io.INT64},
	}
	tests := []struct {
		name string
		dsv  []io.DataShape
		keys []string
	}{
		{"key not leading", dsv, []string{"id"}},
		{"no keys", dsv, nil},
		{"too many keys", dsv[:1], []string{"value", "id"}},
		{"duplicate", []io.DataShape{{Name: "a", Type: io.INT64}, {Name: "a", Type: io.INT64}}, []string{"a"}},
		{"bad name", []io.DataShape{{Name: "a|b", Type: io.INT64}}, []string{"a|b"}},
		{"mtime in key", []io.DataShape{{Name: "id", Type: io.INT64}, {Name: "mtime", Type: io.TIMESTAMP}}, []string{"id", "mtime"}},
		{"mtime not a timestamp", []io.DataShape{{Name: "id", Type: io.INT64}, {Name: "mtime", Type: io.FLOAT64}}, []string{"id"}},
	}
	for _, tt := range tests {
		_, err := io.NewSchema(tt.dsv, tt.keys)
		assert.True(t, errors.Is(err, io.ErrSchema), "%s: err=%v", tt.name, err)
	}
}

func TestValidateSchemaReservedColumn(t *testing.T) {
	t.Parallel()

	// decoded headers go through ValidateSchema without NewSchema
	keyed := []io.DataShape{
		{Name: "id", Type: io.INT64, Key: true},
		{Name: "mtime", Type: io.TIMESTAMP, Key: true},
	}
	assert.True(t, errors.Is(io.ValidateSchema(keyed), io.ErrSchema))

	wrongType := []io.DataShape{
		{Name: "id", Type: io.INT64, Key: true},
		{Name: "mtime", Type: io.INT64},
	}
	assert.True(t, errors.Is(io.ValidateSchema(wrongType), io.ErrSchema))

	ok := []io.DataShape{
		{Name: "id", Type: io.INT64, Key: true},
		{Name: "mtime", Type: io.TIMESTAMP},
	}
	assert.NoError(t, io.ValidateSchema(ok))
}

func TestParseDataShape(t *testing.T) {
	t.Parallel()

	ds, err := io.ParseDataShape("id:int64:k")
	require.NoError(t, err)
	assert.Equal(t, io.DataShape{Name: "id", Type: io.INT64, Key: true}, ds)

	ds, err = io.ParseDataShape("px:Float32")
	require.NoError(t, err)
	assert.Equal(t, io.FLOAT32, ds.Type)

	_, err = io.ParseDataShape("px:decimal")
	assert.Error(t, err)
	_, err = io.ParseDataShape("px")
	assert.Error(t, err)
}

func TestParseDescriptorRejectsTrailingKey(t *testing.T) {
	t.Parallel()

	_, err := io.ParseDescriptor("v:float64:v|id:int64:k|mtime:timestamp:v")
	assert.True(t, errors.Is(err, io.ErrMalformedHeader))
	_, err = io.ParseDescriptor("")
	assert.True(t, errors.Is(err, io.ErrMalformedHeader))
}

func TestRecordArray(t *testing.T) {
	t.Parallel()

	dsv, err := io.NewSchema([]io.DataShape{
		{Name: "date", Type: io.TIMESTAMP},
		{Name: "symbol", Type: io.UINT32},
		{Name: "close", Type: io.FLOAT64},
		{Name: "halted", Type: io.BOOL},
	}, []string{"date", "symbol"})
	require.NoError(t, err)

	size := io.RecordLength(dsv)
	ra := io.NewRecordArray(dsv, make([]byte, size*4))
	assert.Equal(t, 4, ra.Cap())

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	row, err := ra.EncodeRow(ts, uint32(7), ts, 101.5, true)
	require.NoError(t, err)
	copy(ra.Row(2), row)

	vals := ra.DecodeRow(ra.Row(2))
	assert.True(t, ts.Equal(vals[0].(time.Time)))
	assert.Equal(t, uint32(7), vals[1])
	assert.Equal(t, 101.5, vals[3])
	assert.Equal(t, true, vals[4])

	key, err := ra.EncodeKey(ts, 7)
	require.NoError(t, err)
	assert.Equal(t, key, ra.Key(2))
	assert.Len(t, key, 12)

	require.NoError(t, ra.Set(2, 3, 99))
	assert.Equal(t, float64(99), ra.Get(2, 3))

	_, err = ra.EncodeRow(ts)
	assert.Error(t, err)

	cs := ra.ColumnSeries(2, 3)
	assert.Equal(t, 1, cs.Len())
	assert.Equal(t, []string{"date", "symbol", "mtime", "close", "halted"}, cs.GetColumnNames())

	rows, err := cs.ToRows(ra)
	require.NoError(t, err)
	assert.Equal(t, ra.Row(2), rows[0])
}

func TestCompareKeys(t *testing.T) {
	t.Parallel()

	dsv, err := io.NewSchema([]io.DataShape{
		{Name: "date", Type: io.TIMESTAMP},
		{Name: "seq", Type: io.INT32},
		{Name: "close", Type: io.FLOAT64},
	}, []string{"date", "seq"})
	require.NoError(t, err)
	ra := io.NewRecordArray(dsv, nil)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	key := func(d time.Time, seq int32) []byte {
		k, err := ra.EncodeKey(d, seq)
		require.NoError(t, err)
		return k
	}
	tests := map[string]struct {
		a, b []byte
		want int
	}{
		"equal":             {key(day, 1), key(day, 1), 0},
		"first column":      {key(day, 5), key(day.Add(time.Second), 1), -1},
		"second column":     {key(day, 2), key(day, 1), 1},
		"negative is lower": {key(day, -1), key(day, 1), -1},
		"before epoch":      {key(time.Unix(-10, 0), 0), key(time.Unix(10, 0), 0), -1},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ra.CompareKeys(tt.a, tt.b))
		})
	}

	// full rows compare by their key prefix only
	r1, err := ra.EncodeRow(day, 1, day, 9.0)
	require.NoError(t, err)
	r2, err := ra.EncodeRow(day, 1, day.Add(time.Hour), 1.0)
	require.NoError(t, err)
	assert.Equal(t, 0, ra.CompareKeys(r1, r2))
}
