package io

import (
	"fmt"
)

/*
ColumnSeries holds rows in column form:
	cs.GetByName("value") = []interface{}{1.5, 2.5, ...}
It is the exchange format between a table and callers that think in columns,
e.g. schema inference from a sample batch and the show command.
*/
type ColumnSeries struct {
	columns      map[string][]interface{}
	types        map[string]EnumElementType
	orderedNames []string
}

func NewColumnSeries() *ColumnSeries {
	return &ColumnSeries{
		columns: make(map[string][]interface{}),
		types:   make(map[string]EnumElementType),
	}
}

// AddColumn appends a column, replacing any column of the same name.
func (cs *ColumnSeries) AddColumn(name string, typ EnumElementType, values []interface{}) {
	if _, ok := cs.columns[name]; !ok {
		cs.orderedNames = append(cs.orderedNames, name)
	}
	cs.columns[name] = values
	cs.types[name] = typ
}

func (cs *ColumnSeries) GetByName(name string) []interface{} {
	return cs.columns[name]
}

func (cs *ColumnSeries) GetColumnNames() []string {
	return cs.orderedNames
}

func (cs *ColumnSeries) GetDataShapes() (dsv []DataShape) {
	for _, name := range cs.orderedNames {
		dsv = append(dsv, DataShape{Name: name, Type: cs.types[name]})
	}
	return dsv
}

func (cs *ColumnSeries) Len() int {
	if len(cs.orderedNames) == 0 {
		return 0
	}
	return len(cs.columns[cs.orderedNames[0]])
}

// Validate checks that all columns have the same length.
func (cs *ColumnSeries) Validate() error {
	n := cs.Len()
	for _, name := range cs.orderedNames {
		if len(cs.columns[name]) != n {
			return fmt.Errorf("column %s has %d values, expected %d", name, len(cs.columns[name]), n)
		}
	}
	return nil
}

// Row returns the values of row i in column order.
func (cs *ColumnSeries) Row(i int) []interface{} {
	out := make([]interface{}, len(cs.orderedNames))
	for c, name := range cs.orderedNames {
		out[c] = cs.columns[name][i]
	}
	return out
}

// ToRows encodes every row with ra's schema. Columns are matched by name;
// columns missing from the series are left zero.
func (cs *ColumnSeries) ToRows(ra *RecordArray) ([][]byte, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	rows := make([][]byte, cs.Len())
	for i := range rows {
		rows[i] = make([]byte, ra.ItemSize())
	}
	for col, ds := range ra.DataShapes() {
		values, ok := cs.columns[ds.Name]
		if !ok {
			continue
		}
		for i, v := range values {
			if err := ra.putField(rows[i], col, v); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// GetElementType infers the element type of a Go value.
func GetElementType(v interface{}) EnumElementType {
	switch v.(type) {
	case int8:
		return INT8
	case int16:
		return INT16
	case int32:
		return INT32
	case int64, int:
		return INT64
	case uint8:
		return UINT8
	case uint16:
		return UINT16
	case uint32:
		return UINT32
	case uint64:
		return UINT64
	case float32:
		return FLOAT32
	case float64:
		return FLOAT64
	case bool:
		return BOOL
	}
	if _, ok := v.(interface{ UnixNano() int64 }); ok {
		return TIMESTAMP
	}
	return NONE
}
