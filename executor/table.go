package executor

import (
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/index"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/replication"
	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

// Table is one process's handle on a shared table. A handle is safe for
// concurrent use by goroutines; processes coordinate through the guard in
// the segment header.
//
// Reads (Len, Get, Rows) do not take the guard and may observe a writer's
// rows mid-update.
type Table struct {
	key    catalog.TableKey
	reg    *shm.Registry
	opts   Options
	sync   *persist.Synchronizer
	shapes []io.DataShape
	// mtimeCol is the per-row modification time column.
	mtimeCol int
	// rowSize is the encoded row width, fixed by shapes.
	rowSize int

	mu    sync.Mutex
	seg   *shm.Segment
	view  io.HeaderView
	guard *shm.Guard
	ra    *io.RecordArray
	idx   *index.HashIndex
	// indexed is the number of leading rows idx covers.
	indexed int

	subMu     sync.Mutex
	sub       *replication.Subscriber
	subCancel context.CancelFunc
	subDone   chan struct{}
}

func newTable(reg *shm.Registry, key catalog.TableKey, dsv []io.DataShape, opts Options) *Table {
	return &Table{
		key:      key,
		reg:      reg,
		opts:     opts,
		sync:     persist.NewSynchronizer(key.Dir(opts.RootDirectory), key.String(), opts.Remote, opts.Codec),
		shapes:   dsv,
		mtimeCol: io.ColumnIndex(dsv, io.ModifiedAtColumn),
		rowSize:  io.RecordLength(dsv),
		idx:      index.NewHashIndex(),
	}
}

// attach points the handle at seg. The caller frees the previous segment.
func (t *Table) attach(seg *shm.Segment) error {
	v, err := io.NewHeaderView(seg.Bytes())
	if err != nil {
		return err
	}
	g, err := seg.Guard(v.SemaphoreOffset())
	if err != nil {
		return err
	}
	t.seg, t.view, t.guard = seg, v, g
	t.ra = io.NewRecordArray(t.shapes, seg.Bytes()[v.Size():])
	return nil
}

func (t *Table) Key() catalog.TableKey { return t.key }

func (t *Table) DataShapes() []io.DataShape { return t.shapes }

// Synchronizer is the persistence target of the table.
func (t *Table) Synchronizer() *persist.Synchronizer { return t.sync }

func (t *Table) now() time.Time { return t.opts.Clock() }

// Len is the number of rows currently visible.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refresh() != nil {
		return 0
	}
	return int(t.view.Count())
}

// Cap is the row capacity of the mapped segment.
func (t *Table) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refresh() != nil {
		return 0
	}
	return int(t.view.Capacity())
}

// Header returns a decoded copy of the shared header.
func (t *Table) Header() (*io.Header, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(); err != nil {
		return nil, err
	}
	return io.DecodeHeader(t.view.Bytes())
}

// Get returns the row whose key columns hold keyValues.
func (t *Table) Get(keyValues ...interface{}) ([]interface{}, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(); err != nil {
		return nil, false, err
	}
	key, err := t.ra.EncodeKey(keyValues...)
	if err != nil {
		return nil, false, errors.Wrap(ErrSchema, err.Error())
	}
	count := int(t.view.Count())
	if i, ok := t.idx.Lookup(key); ok && i < count && bytes.Equal(t.ra.Key(i), key) {
		return t.ra.DecodeRow(t.ra.Row(i)), true, nil
	}
	// the index only covers what this handle wrote or rebuilt
	for i := 0; i < count; i++ {
		if bytes.Equal(t.ra.Key(i), key) {
			return t.ra.DecodeRow(t.ra.Row(i)), true, nil
		}
	}
	return nil, false, nil
}

// Rows returns a copy of every row in storage order.
func (t *Table) Rows() ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(); err != nil {
		return nil, err
	}
	count := int(t.view.Count())
	out := make([][]byte, count)
	for i := range out {
		out[i] = append([]byte(nil), t.ra.Row(i)...)
	}
	return out, nil
}

// ColumnSeries returns rows [start, end) in column form, clamped to the
// row count.
func (t *Table) ColumnSeries(start, end int) (*io.ColumnSeries, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(); err != nil {
		return nil, err
	}
	count := int(t.view.Count())
	if end < 0 || end > count {
		end = count
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	return t.ra.ColumnSeries(start, end), nil
}

// EncodeRow builds a row for this table from one value per column.
func (t *Table) EncodeRow(values ...interface{}) ([]byte, error) {
	row, err := io.NewRecordArray(t.shapes, nil).EncodeRow(values...)
	if err != nil {
		return nil, errors.Wrap(ErrSchema, err.Error())
	}
	return row, nil
}

// refresh remaps when another process replaced the segment. t.mu is held.
func (t *Table) refresh() error {
	if t.seg == nil {
		return ErrClosed
	}
	if t.guard.State() == shm.StateRetired {
		return t.remap()
	}
	return nil
}

// remap maps the segment currently published under the table's name.
func (t *Table) remap() error {
	seg, h, err := t.reg.Open(t.key.SegmentName())
	if err != nil {
		return err
	}
	if io.EncodeDescriptor(h.Shapes) != io.EncodeDescriptor(t.shapes) {
		_ = seg.Free()
		return errors.Wrapf(ErrSchema, "segment %s changed schema to %s", t.key, io.SchemaString(h.Shapes))
	}
	old := t.seg
	if err = t.attach(seg); err != nil {
		_ = seg.Free()
		return err
	}
	log.Debug("remapped %s at capacity %d", t.key, h.Capacity)
	return old.Free()
}

// locked runs fn holding both the handle mutex and the segment guard.
// fn may replace the segment; the guard released is the current one.
func (t *Table) locked(ctx context.Context, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return ErrClosed
	}
	for {
		start := time.Now()
		err := t.guard.Acquire(ctx, t.opts.LockTimeout)
		metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
		if errors.Is(err, shm.ErrSegmentRetired) {
			if err = t.remap(); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, shm.ErrLockTimeout) {
			metrics.LockTimeoutsTotal.Inc()
		}
		if err != nil {
			return errors.Wrapf(err, "table %s", t.key)
		}
		break
	}
	ferr := fn()
	if err := t.guard.Release(); err != nil {
		log.Error("release %s: %v", t.key, err)
		if ferr == nil {
			ferr = err
		}
	}
	return ferr
}

// syncIndex extends the index over rows appended since it was last
// updated, possibly by other processes. The guard is held.
func (t *Table) syncIndex() error {
	count := int(t.view.Count())
	if count < t.indexed {
		return t.rebuildIndex()
	}
	for i := t.indexed; i < count; i++ {
		if err := t.idx.Insert(t.ra.Key(i), i); err != nil {
			// rows were reordered elsewhere
			return t.rebuildIndex()
		}
	}
	t.indexed = count
	return nil
}

func (t *Table) rebuildIndex() error {
	count := int(t.view.Count())
	if err := t.idx.Rebuild(t.ra, count); err != nil {
		t.indexed = 0
		return errors.Wrapf(ErrCorruption, "table %s: %v", t.key, err)
	}
	t.indexed = count
	return nil
}

// lookup finds key, rebuilding the index when the hit is stale.
func (t *Table) lookup(key []byte) (int, bool, error) {
	i, ok := t.idx.Lookup(key)
	if !ok || bytes.Equal(t.ra.Key(i), key) {
		return i, ok, nil
	}
	if err := t.rebuildIndex(); err != nil {
		return 0, false, err
	}
	i, ok = t.idx.Lookup(key)
	return i, ok, nil
}

// Subscribe streams rows for this table from the publisher at host:port
// until the table is freed. A handle subscribes at most once.
func (t *Table) Subscribe(ctx context.Context, host string, port int) error {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.sub != nil {
		log.Warn("table %s is already subscribed to %s", t.key, t.sub.URL())
		return errors.Wrapf(ErrDuplicateSubscription, "%s", t.key)
	}
	t.sub = replication.NewSubscriber(host, port, t.key.String(), t)
	ctx, t.subCancel = context.WithCancel(ctx)
	t.subDone = make(chan struct{})
	go func(sub *replication.Subscriber, done chan struct{}) {
		defer close(done)
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("subscription of %s ended: %v", t.key, err)
		}
	}(t.sub, t.subDone)
	return nil
}

func (t *Table) stopSubscription() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.subCancel != nil {
		t.subCancel()
		<-t.subDone
		t.subCancel = nil
	}
}

// Free stops any subscription and unmaps the segment. Persisted copies and
// the shared segment itself stay in place. Free is idempotent.
func (t *Table) Free() error {
	t.stopSubscription()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	err := t.seg.Free()
	t.seg = nil
	return err
}

// Remove frees the handle and unlinks the shared segment from the host, so
// the next Open rehydrates from storage.
func (t *Table) Remove() error {
	err := t.Free()
	if uerr := t.reg.Unlink(t.key.SegmentName()); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// persisted reports whether a head partition exists locally.
func (t *Table) persisted() bool {
	_, err := os.Stat(t.sync.LocalPath(persist.HeadFile))
	return err == nil
}
