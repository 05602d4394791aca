package executor

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

// growthFactor is the minimum relative capacity increase of a reallocation
// and the slack given to a table rehydrated from storage.
const growthFactor = 1.25

func grownCapacity(n int64) int64 {
	c := int64(math.Ceil(float64(n) * growthFactor))
	if c < n+1 {
		c = n + 1
	}
	return c
}

// Upsert writes encoded rows. A row whose key exists replaces that row in
// place; any other row is appended, growing the segment when it is full.
// A zero mtime column is stamped with the current time. On error the
// counts are zero; rows written before the failure stay in the table.
func (t *Table) Upsert(ctx context.Context, rows ...[]byte) (inserted, updated int, err error) {
	for _, r := range rows {
		if len(r) != t.rowSize {
			return 0, 0, errors.Wrapf(ErrSchema, "%s: %v", t.key, RowLengthError{Got: len(r), Want: t.rowSize})
		}
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	var stored [][]byte
	err = t.locked(ctx, func() error {
		if err := t.syncIndex(); err != nil {
			return err
		}
		count := t.view.Count()
		if need := count + t.newKeys(rows); need > t.view.Capacity() {
			if err := t.grow(need); err != nil {
				return err
			}
		}

		now := t.now()
		minChanged := t.view.MinChangedID()
		if t.opts.Publisher != nil {
			stored = make([][]byte, 0, len(rows))
		}
		for _, r := range rows {
			key := t.ra.RowKey(r)
			i, ok, err := t.lookup(key)
			if err != nil {
				return err
			}
			if ok {
				updated++
			} else {
				i = int(count)
				if err = t.idx.Insert(key, i); err != nil {
					return err
				}
				count++
				t.indexed = int(count)
				inserted++
			}
			dst := t.ra.Row(i)
			copy(dst, r)
			if t.mtimeCol >= 0 && isZero(t.ra.Column(dst, t.mtimeCol)) {
				if err = t.ra.Set(i, t.mtimeCol, now); err != nil {
					return err
				}
			}
			if stored != nil {
				stored = append(stored, append([]byte(nil), dst...))
			}
			if int64(i) < minChanged {
				minChanged = int64(i)
			}
			// publish each append so unguarded readers never see
			// a count beyond the rows written
			t.view.SetCount(count)
		}
		t.view.SetMinChangedID(minChanged)
		t.view.SetModifiedAt(io.TimeToSeconds(now))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	metrics.RowsUpsertedTotal.WithLabelValues("insert").Add(float64(inserted))
	metrics.RowsUpsertedTotal.WithLabelValues("update").Add(float64(updated))
	if stored != nil {
		t.opts.Publisher.Push(t.key.String(), stored)
	}
	return inserted, updated, nil
}

// newKeys counts the distinct keys of rows that are not in the table.
func (t *Table) newKeys(rows [][]byte) int64 {
	seen := make(map[string]struct{}, len(rows))
	var n int64
	for _, r := range rows {
		k := t.ra.RowKey(r)
		if _, ok := t.idx.Lookup(k); ok {
			continue
		}
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		n++
	}
	return n
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// grow moves the table to a new segment holding at least need rows. The
// guard is held: the new segment is published with its lock word held,
// and the old one is retired so processes waiting on it remap.
func (t *Table) grow(need int64) error {
	h, err := io.DecodeHeader(t.view.Bytes())
	if err != nil {
		return err
	}
	oldCap := h.Capacity
	h.Capacity = grownCapacity(oldCap)
	if need > h.Capacity {
		h.Capacity = need
	}
	h.Semaphore = shm.StateHeld

	seg, err := newSegment(t.reg, t.key.SegmentName(), h, t.ra.Bytes(0, int(h.Count)))
	if err != nil {
		return err
	}
	if err = t.reg.Publish(seg); err != nil {
		_ = seg.Discard()
		return err
	}
	old, oldGuard := t.seg, t.guard
	if err = t.attach(seg); err != nil {
		// the published segment is complete, so others can still use it
		_ = seg.Free()
		return err
	}
	if err = oldGuard.Retire(); err != nil {
		log.Error("retire old segment of %s: %v", t.key, err)
	}
	if err = old.Free(); err != nil {
		log.Warn("free old segment of %s: %v", t.key, err)
	}
	metrics.SegmentGrowthsTotal.Inc()
	log.Info("grew %s from %d to %d rows", t.key, oldCap, h.Capacity)
	return nil
}

// newSegment allocates an unpublished segment for h and copies rows in.
func newSegment(reg *shm.Registry, name string, h *io.Header, rows []byte) (*shm.Segment, error) {
	hb := io.EncodeHeader(h)
	seg, err := reg.CreateTemp(name, len(hb)+int(h.Capacity*h.ItemSize))
	if err != nil {
		return nil, err
	}
	data := seg.Bytes()
	io.NewRecordArray(h.Shapes, data[len(hb):]).Preallocate()
	copy(data, hb)
	copy(data[len(hb):], rows)
	return seg, nil
}
