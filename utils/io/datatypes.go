package io

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

type EnumElementType byte

/*
NOTE: The ordering of this enum is part of the file format. The byte value is
never written to disk (the descriptor carries the name), but it is used to
size and index the attribute table below, so only append.

We define our own types here instead of using the Go type system because the
rows live in shared memory and on disk and need a stable, fixed-width
representation that every process agrees on.
*/
const (
	NONE EnumElementType = iota
	INT8
	INT16
	INT32
	INT64
	UINT8
	UINT16
	UINT32
	UINT64
	FLOAT32
	FLOAT64
	BOOL
	TIMESTAMP
)

var attributeMap = map[EnumElementType]struct {
	name string
	size int
}{
	NONE:      {"none", 0},
	INT8:      {"int8", 1},
	INT16:     {"int16", 2},
	INT32:     {"int32", 4},
	INT64:     {"int64", 8},
	UINT8:     {"uint8", 1},
	UINT16:    {"uint16", 2},
	UINT32:    {"uint32", 4},
	UINT64:    {"uint64", 8},
	FLOAT32:   {"float32", 4},
	FLOAT64:   {"float64", 8},
	BOOL:      {"bool", 1},
	TIMESTAMP: {"timestamp", 8},
}

func EnumElementTypeFromName(name string) EnumElementType {
	for key, el := range attributeMap {
		if key != NONE && strings.EqualFold(name, el.name) {
			return key
		}
	}
	return NONE
}

func (e EnumElementType) Size() int {
	return attributeMap[e].size
}

func (e EnumElementType) String() string {
	if a, ok := attributeMap[e]; ok {
		return a.name
	}
	return fmt.Sprintf("EnumElementType(%d)", byte(e))
}

// IsTime reports whether values of this type are time instants.
func (e EnumElementType) IsTime() bool {
	return e == TIMESTAMP
}

// Put encodes v into b, which must be at least e.Size() bytes. Numeric
// values are converted to the column type; time.Time is accepted for
// TIMESTAMP columns.
func (e EnumElementType) Put(b []byte, v interface{}) error {
	switch e {
	case FLOAT32:
		f, ok := toFloat64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
	case FLOAT64:
		f, ok := toFloat64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	case BOOL:
		bv, ok := v.(bool)
		if !ok {
			return typeMismatch(e, v)
		}
		b[0] = 0
		if bv {
			b[0] = 1
		}
	case TIMESTAMP:
		var ns int64
		switch t := v.(type) {
		case time.Time:
			ns = t.UnixNano()
		default:
			i, ok := toInt64(v)
			if !ok {
				return typeMismatch(e, v)
			}
			ns = i
		}
		binary.LittleEndian.PutUint64(b, uint64(ns))
	case INT8, UINT8:
		i, ok := toInt64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		b[0] = byte(i)
	case INT16, UINT16:
		i, ok := toInt64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		binary.LittleEndian.PutUint16(b, uint16(i))
	case INT32, UINT32:
		i, ok := toInt64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		binary.LittleEndian.PutUint32(b, uint32(i))
	case INT64, UINT64:
		i, ok := toInt64(v)
		if !ok {
			return typeMismatch(e, v)
		}
		binary.LittleEndian.PutUint64(b, uint64(i))
	default:
		return fmt.Errorf("unsupported element type %v", e)
	}
	return nil
}

// Get decodes the value held in b. TIMESTAMP values are returned as
// time.Time in UTC.
func (e EnumElementType) Get(b []byte) interface{} {
	switch e {
	case INT8:
		return int8(b[0])
	case INT16:
		return int16(binary.LittleEndian.Uint16(b))
	case INT32:
		return int32(binary.LittleEndian.Uint32(b))
	case INT64:
		return int64(binary.LittleEndian.Uint64(b))
	case UINT8:
		return b[0]
	case UINT16:
		return binary.LittleEndian.Uint16(b)
	case UINT32:
		return binary.LittleEndian.Uint32(b)
	case UINT64:
		return binary.LittleEndian.Uint64(b)
	case FLOAT32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case FLOAT64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case BOOL:
		return b[0] != 0
	case TIMESTAMP:
		return time.Unix(0, int64(binary.LittleEndian.Uint64(b))).UTC()
	}
	return nil
}

func typeMismatch(e EnumElementType, v interface{}) error {
	return fmt.Errorf("cannot store %T in a %v column", v, e)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	i, ok := toInt64(v)
	return float64(i), ok
}
