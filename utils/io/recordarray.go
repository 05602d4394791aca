package io

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// RecordArray is a typed view over fixed-width rows stored back to back in a
// byte slice, usually the data region of a shared segment. It does not track
// the logical row count; that lives in the header.
type RecordArray struct {
	shapes   []DataShape
	offsets  []int
	keyWidth int
	itemSize int
	data     []byte
}

func NewRecordArray(dsv []DataShape, data []byte) *RecordArray {
	ra := &RecordArray{
		shapes:   dsv,
		offsets:  make([]int, len(dsv)),
		itemSize: RecordLength(dsv),
		data:     data,
	}
	off := 0
	for i, ds := range dsv {
		ra.offsets[i] = off
		off += ds.Len()
		if ds.Key {
			ra.keyWidth = off
		}
	}
	return ra
}

func (ra *RecordArray) DataShapes() []DataShape { return ra.shapes }

func (ra *RecordArray) ItemSize() int { return ra.itemSize }

// Cap is the number of rows the backing slice can hold.
func (ra *RecordArray) Cap() int {
	if ra.itemSize == 0 {
		return 0
	}
	return len(ra.data) / ra.itemSize
}

// Bytes returns rows [start, end) as one slice aliasing the backing store.
func (ra *RecordArray) Bytes(start, end int) []byte {
	return ra.data[start*ra.itemSize : end*ra.itemSize]
}

// Row returns row i aliasing the backing store.
func (ra *RecordArray) Row(i int) []byte {
	return ra.data[i*ra.itemSize : (i+1)*ra.itemSize]
}

// Key returns the primary key bytes of row i.
func (ra *RecordArray) Key(i int) []byte {
	return ra.Row(i)[:ra.keyWidth]
}

// RowKey returns the primary key bytes of an encoded row.
func (ra *RecordArray) RowKey(row []byte) []byte {
	return row[:ra.keyWidth]
}

func (ra *RecordArray) Get(i, col int) interface{} {
	return ra.field(ra.Row(i), col)
}

func (ra *RecordArray) Set(i, col int, v interface{}) error {
	return ra.putField(ra.Row(i), col, v)
}

// Column returns the raw bytes of a column of an encoded row.
func (ra *RecordArray) Column(row []byte, col int) []byte {
	off := ra.offsets[col]
	return row[off : off+ra.shapes[col].Len()]
}

func (ra *RecordArray) field(row []byte, col int) interface{} {
	return ra.shapes[col].Type.Get(ra.Column(row, col))
}

func (ra *RecordArray) putField(row []byte, col int, v interface{}) error {
	if err := ra.shapes[col].Type.Put(ra.Column(row, col), v); err != nil {
		return errors.Wrapf(err, "column %s", ra.shapes[col].Name)
	}
	return nil
}

// EncodeRow builds a row from one value per column, in schema order.
func (ra *RecordArray) EncodeRow(values ...interface{}) ([]byte, error) {
	if len(values) != len(ra.shapes) {
		return nil, fmt.Errorf("got %d values for %d columns", len(values), len(ra.shapes))
	}
	row := make([]byte, ra.itemSize)
	for col, v := range values {
		if err := ra.putField(row, col, v); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// EncodeKey builds the key prefix of a row from the key column values.
func (ra *RecordArray) EncodeKey(values ...interface{}) ([]byte, error) {
	keys := KeyColumns(ra.shapes)
	if len(values) != len(keys) {
		return nil, fmt.Errorf("got %d key values for %d key columns", len(values), len(keys))
	}
	key := make([]byte, ra.keyWidth)
	for col, v := range values {
		if err := ra.putField(key, col, v); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// DecodeRow returns one value per column.
func (ra *RecordArray) DecodeRow(row []byte) []interface{} {
	out := make([]interface{}, len(ra.shapes))
	for col := range ra.shapes {
		out[col] = ra.field(row, col)
	}
	return out
}

// Preallocate writes every page of the backing store once so a fresh
// segment is faulted in up front instead of during the first inserts.
func (ra *RecordArray) Preallocate() {
	page := os.Getpagesize()
	for off := 0; off < len(ra.data); off += page {
		ra.data[off] = 0
	}
}

// ColumnSeries copies rows [start, end) into column form.
func (ra *RecordArray) ColumnSeries(start, end int) *ColumnSeries {
	cs := NewColumnSeries()
	for col, ds := range ra.shapes {
		values := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			values = append(values, ra.Get(i, col))
		}
		cs.AddColumn(ds.Name, ds.Type, values)
	}
	return cs
}

// CompareKeys orders two encoded rows (or keys) by their key columns,
// comparing typed values column by column. It returns -1, 0 or 1.
func (ra *RecordArray) CompareKeys(a, b []byte) int {
	for col, ds := range ra.shapes {
		if !ds.Key {
			break
		}
		if c := compareValues(ds.Type.Get(ra.Column(a, col)), ds.Type.Get(ra.Column(b, col))); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(x, y interface{}) int {
	switch xv := x.(type) {
	case time.Time:
		return compareInt64(xv.UnixNano(), y.(time.Time).UnixNano())
	case bool:
		yv := y.(bool)
		switch {
		case xv == yv:
			return 0
		case !xv:
			return -1
		}
		return 1
	case float32:
		return compareFloat64(float64(xv), float64(y.(float32)))
	case float64:
		return compareFloat64(xv, y.(float64))
	case uint8, uint16, uint32, uint64:
		a, _ := toUint64(x)
		b, _ := toUint64(y)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	a, _ := toInt64(x)
	b, _ := toInt64(y)
	return compareInt64(a, b)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	return 0, false
}
