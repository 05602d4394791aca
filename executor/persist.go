package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/executor/partition"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

// Persist re-partitions the table and writes the partitions that changed
// since the last persist. The guard is held for the whole write, so other
// writers wait for the upload to finish.
func (t *Table) Persist(ctx context.Context) (w persist.Written, err error) {
	err = t.locked(ctx, func() error {
		w, err = t.persist(ctx)
		return err
	})
	return w, err
}

// persist does the work of Persist; the caller owns the segment.
func (t *Table) persist(ctx context.Context) (persist.Written, error) {
	start := time.Now()
	count := t.view.Count()
	prev := partition.Previous{
		HeadCount: t.view.HeadCount(),
		HasTail:   t.view.HasTail(),
		Persisted: t.persisted(),
	}
	boundary, ok := t.opts.Partition.Boundary(t.now())
	column := -1
	if ok {
		column = partition.TimeColumn(t.shapes)
	}
	next := partition.Split(t.ra, count, column, boundary)
	plan := partition.MakePlan(prev, next, t.view.MinChangedID())

	if plan.Empty() {
		t.view.SetMinChangedID(count)
		log.Debug("persist %s: nothing changed", t.key)
		return persist.Written{}, nil
	}

	t.view.SetHeadCount(next.HeadCount)
	t.view.SetHasTail(next.HasTail)
	h, err := io.DecodeHeader(t.view.Bytes())
	if err != nil {
		return persist.Written{}, err
	}
	// the fields that only matter in memory are normalized so a file
	// depends on the rows it holds and nothing else
	h.Capacity = count
	h.MinChangedID = count

	w, err := t.sync.Write(ctx, persist.Snapshot{
		Header: h,
		Rows:   t.ra.Bytes(0, int(count)),
		Plan:   plan,
	})
	if err != nil {
		// leave the split as it was so the next attempt plans the same writes
		t.view.SetHeadCount(prev.HeadCount)
		t.view.SetHasTail(prev.HasTail)
		return w, errors.Wrapf(err, "persist %s", t.key)
	}
	if w.Head {
		t.view.SetHash(w.HeadHash)
	}
	t.view.SetMinChangedID(count)
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	log.Info("persisted %s: head=%v (%d rows) tail=%v (%d rows) tail removed=%v",
		t.key, w.Head, next.HeadCount, w.Tail, next.TailCount(), w.TailRemoved)
	return w, nil
}
