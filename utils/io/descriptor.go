package io

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	columnDelimiter = "|"
	fieldDelimiter  = ":"
	roleKey         = "k"
	roleValue       = "v"
)

// EncodeDescriptor renders a schema as "name:type:role|name:type:role...".
func EncodeDescriptor(dsv []DataShape) string {
	var sb strings.Builder
	for i, ds := range dsv {
		if i > 0 {
			sb.WriteString(columnDelimiter)
		}
		role := roleValue
		if ds.Key {
			role = roleKey
		}
		sb.WriteString(ds.Name)
		sb.WriteString(fieldDelimiter)
		sb.WriteString(ds.Type.String())
		sb.WriteString(fieldDelimiter)
		sb.WriteString(role)
	}
	return sb.String()
}

// ParseDescriptor is the inverse of EncodeDescriptor. Any inconsistency is
// reported as ErrMalformedHeader since the descriptor only ever comes from a
// header.
func ParseDescriptor(desc string) ([]DataShape, error) {
	if desc == "" {
		return nil, errors.Wrap(ErrMalformedHeader, "empty descriptor")
	}
	cols := strings.Split(desc, columnDelimiter)
	dsv := make([]DataShape, 0, len(cols))
	for _, col := range cols {
		f := strings.Split(col, fieldDelimiter)
		if len(f) != 3 {
			return nil, errors.Wrapf(ErrMalformedHeader, "descriptor column %q", col)
		}
		typ := EnumElementTypeFromName(f[1])
		if typ == NONE {
			return nil, errors.Wrapf(ErrMalformedHeader, "descriptor type %q", f[1])
		}
		var key bool
		switch f[2] {
		case roleKey:
			key = true
		case roleValue:
		default:
			return nil, errors.Wrapf(ErrMalformedHeader, "descriptor role %q", f[2])
		}
		dsv = append(dsv, DataShape{Name: f[0], Type: typ, Key: key})
	}
	if err := ValidateSchema(dsv); err != nil {
		return nil, errors.Wrap(ErrMalformedHeader, err.Error())
	}
	return dsv, nil
}
