package io

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ModifiedAtColumn is the per-row modification time column. It is added
// right after the key columns when a schema does not declare it.
const ModifiedAtColumn = "mtime"

// ErrSchema reports an invalid column layout.
var ErrSchema = errors.New("schema error")

type DataShape struct {
	Name string
	Type EnumElementType
	Key  bool
}

func NewDataShapeVector(names []string, etypes []EnumElementType) (dsv []DataShape) {
	for i, name := range names {
		dsv = append(dsv, DataShape{Name: name, Type: etypes[i]})
	}
	return dsv
}

func (ds *DataShape) Len() (out int) {
	return ds.Type.Size()
}

func (ds *DataShape) String() (st string) {
	return ds.Name + ":" + ds.Type.String()
}

// ParseDataShape parses "name:type" or "name:type:k" (key column).
func ParseDataShape(s string) (DataShape, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return DataShape{}, errors.Wrapf(ErrSchema, "bad column %q, want name:type[:k]", s)
	}
	typ := EnumElementTypeFromName(parts[1])
	if typ == NONE {
		return DataShape{}, errors.Wrapf(ErrSchema, "unknown type %q for column %s", parts[1], parts[0])
	}
	ds := DataShape{Name: parts[0], Type: typ}
	if len(parts) == 3 {
		switch parts[2] {
		case "k", "key":
			ds.Key = true
		case "v", "":
		default:
			return DataShape{}, errors.Wrapf(ErrSchema, "bad column role %q", parts[2])
		}
	}
	return ds, nil
}

// NewSchema orders the columns so the primary key comes first, validates the
// layout and inserts the mtime column when absent. keys lists the key
// column names in order; it must equal the leading columns of dsv.
func NewSchema(dsv []DataShape, keys []string) ([]DataShape, error) {
	if len(keys) == 0 {
		return nil, errors.Wrap(ErrSchema, "at least one primary key column is required")
	}
	if len(keys) > len(dsv) {
		return nil, errors.Wrapf(ErrSchema, "%d key columns declared but only %d columns", len(keys), len(dsv))
	}
	out := make([]DataShape, 0, len(dsv)+1)
	for i, name := range keys {
		if dsv[i].Name != name {
			return nil, errors.Wrapf(ErrSchema,
				"leading column %d is %q, expected primary key column %q", i, dsv[i].Name, name)
		}
		ds := dsv[i]
		ds.Key = true
		out = append(out, ds)
	}
	rest := dsv[len(keys):]
	hasMtime := false
	for _, ds := range dsv {
		if ds.Name == ModifiedAtColumn {
			hasMtime = true
		}
	}
	if !hasMtime {
		out = append(out, DataShape{Name: ModifiedAtColumn, Type: TIMESTAMP})
	}
	for _, ds := range rest {
		ds.Key = false
		out = append(out, ds)
	}
	if err := ValidateSchema(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateSchema checks a complete, already ordered schema.
func ValidateSchema(dsv []DataShape) error {
	if len(dsv) == 0 {
		return errors.Wrap(ErrSchema, "empty schema")
	}
	seen := make(map[string]bool, len(dsv))
	inKey := true
	nkeys := 0
	for i, ds := range dsv {
		if ds.Name == "" || strings.ContainsAny(ds.Name, "|:") {
			return errors.Wrapf(ErrSchema, "invalid column name %q", ds.Name)
		}
		if seen[ds.Name] {
			return errors.Wrapf(ErrSchema, "duplicate column %q", ds.Name)
		}
		seen[ds.Name] = true
		if ds.Type.Size() == 0 {
			return errors.Wrapf(ErrSchema, "column %q has no fixed width type", ds.Name)
		}
		if ds.Name == ModifiedAtColumn {
			if ds.Type != TIMESTAMP {
				return errors.Wrapf(ErrSchema, "column %s must be a timestamp, not %v", ModifiedAtColumn, ds.Type)
			}
			if ds.Key {
				return errors.Wrapf(ErrSchema, "column %s cannot be part of the primary key", ModifiedAtColumn)
			}
		}
		if ds.Key {
			if !inKey {
				return errors.Wrapf(ErrSchema, "key column %q at position %d follows a value column", ds.Name, i)
			}
			nkeys++
		} else {
			inKey = false
		}
	}
	if nkeys == 0 {
		return errors.Wrap(ErrSchema, "no primary key column")
	}
	if !seen[ModifiedAtColumn] {
		return errors.Wrapf(ErrSchema, "missing %s column", ModifiedAtColumn)
	}
	return nil
}

// KeyColumns returns the leading key columns.
func KeyColumns(dsv []DataShape) []DataShape {
	for i, ds := range dsv {
		if !ds.Key {
			return dsv[:i]
		}
	}
	return dsv
}

// RecordLength is the padded byte width of one row.
func RecordLength(dsv []DataShape) int {
	n := 0
	for _, ds := range dsv {
		n += ds.Len()
	}
	return AlignedSize(n)
}

// AlignedSize rounds up to the 8 byte word.
func AlignedSize(unalignedSize int) (alignedSize int) {
	const wordSize = 8
	remainder := unalignedSize % wordSize
	if remainder == 0 {
		return unalignedSize
	}
	return unalignedSize + wordSize - remainder
}

// ColumnIndex returns the position of the named column or -1.
func ColumnIndex(dsv []DataShape, name string) int {
	for i, ds := range dsv {
		if ds.Name == name {
			return i
		}
	}
	return -1
}

func SchemaString(dsv []DataShape) string {
	parts := make([]string, len(dsv))
	for i := range dsv {
		parts[i] = dsv[i].String()
		if dsv[i].Key {
			parts[i] += "*"
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}
