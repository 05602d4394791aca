package executor

import (
	"context"
	"sort"

	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

// ByPrimaryKey sorts the first n rows of a record array by their key
// columns, comparing typed values.
type ByPrimaryKey struct {
	ra  *io.RecordArray
	n   int
	tmp []byte
}

func NewByPrimaryKey(ra *io.RecordArray, n int) sort.Interface {
	return &ByPrimaryKey{ra: ra, n: n, tmp: make([]byte, ra.ItemSize())}
}

func (b *ByPrimaryKey) Len() int { return b.n }

// Less reports whether the element with
// index i should sort before the element with index j.
func (b *ByPrimaryKey) Less(i, j int) bool {
	return b.ra.CompareKeys(b.ra.Row(i), b.ra.Row(j)) < 0
}

// Swap swaps the elements with indexes i and j.
func (b *ByPrimaryKey) Swap(i, j int) {
	ri, rj := b.ra.Row(i), b.ra.Row(j)
	copy(b.tmp, ri)
	copy(ri, rj)
	copy(rj, b.tmp)
}

// Sort reorders the rows by primary key. Every row may move, so the whole
// table is marked changed for the next persist.
func (t *Table) Sort(ctx context.Context) error {
	return t.locked(ctx, func() error {
		count := int(t.view.Count())
		s := NewByPrimaryKey(t.ra, count)
		if sort.IsSorted(s) {
			return nil
		}
		sort.Sort(s)
		t.view.SetMinChangedID(0)
		t.view.SetModifiedAt(io.TimeToSeconds(t.now()))
		log.Debug("sorted %d rows of %s", count, t.key)
		return t.rebuildIndex()
	})
}
