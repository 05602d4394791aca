// Package index maps encoded primary keys to row positions.
package index

import (
	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/utils/io"
)

// ErrDuplicateKey is returned when a key is inserted twice.
var ErrDuplicateKey = errors.New("duplicate primary key")

// Index locates rows by their primary key bytes.
type Index interface {
	Lookup(key []byte) (int, bool)
	Insert(key []byte, row int) error
	// Rebuild discards the index and loads the first count rows of ra.
	Rebuild(ra *io.RecordArray, count int) error
	Len() int
}

// HashIndex is an in-process Index. It is not shared between processes;
// every handle rebuilds its own from the segment.
type HashIndex struct {
	rows map[string]int
}

func NewHashIndex() *HashIndex {
	return &HashIndex{rows: make(map[string]int)}
}

func (x *HashIndex) Lookup(key []byte) (int, bool) {
	i, ok := x.rows[string(key)]
	return i, ok
}

func (x *HashIndex) Insert(key []byte, row int) error {
	k := string(key)
	if prev, ok := x.rows[k]; ok {
		return errors.Wrapf(ErrDuplicateKey, "rows %d and %d", prev, row)
	}
	x.rows[k] = row
	return nil
}

func (x *HashIndex) Rebuild(ra *io.RecordArray, count int) error {
	x.rows = make(map[string]int, count)
	for i := 0; i < count; i++ {
		if err := x.Insert(ra.Key(i), i); err != nil {
			return err
		}
	}
	return nil
}

func (x *HashIndex) Len() int { return len(x.rows) }
