package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

// Open returns a handle on the table named by key. It maps the shared
// segment when one exists on the host and rehydrates it from persisted
// storage otherwise.
func Open(ctx context.Context, reg *shm.Registry, key catalog.TableKey, opts Options) (*Table, error) {
	if reg.Exists(key.SegmentName()) {
		t, err := Map(reg, key, opts)
		// lost a race with Remove
		if !errors.Is(err, ErrSegmentNotFound) {
			return t, err
		}
	}
	return Read(ctx, reg, key, opts)
}

// Map attaches to an existing shared segment without touching storage.
func Map(reg *shm.Registry, key catalog.TableKey, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	seg, h, err := reg.Open(key.SegmentName())
	if err != nil {
		return nil, err
	}
	if err = io.ValidateSchema(h.Shapes); err != nil {
		_ = seg.Free()
		return nil, err
	}
	t := newTable(reg, key, h.Shapes, opts)
	if err = t.attach(seg); err != nil {
		_ = seg.Free()
		return nil, err
	}
	metrics.TablesOpenedTotal.WithLabelValues("map").Inc()
	log.Debug("mapped table %s (%d/%d rows)", key, h.Count, h.Capacity)
	return t, nil
}

// Read rehydrates a table from its persisted partitions into a new shared
// segment with room to grow.
func Read(ctx context.Context, reg *shm.Registry, key catalog.TableKey, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	start := time.Now()
	t := newTable(reg, key, nil, opts)
	loaded, err := t.sync.Read(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", key)
	}
	h := loaded.Header
	if err = io.ValidateSchema(h.Shapes); err != nil {
		return nil, errors.Wrapf(ErrCorruption, "table %s: %v", key, err)
	}
	t = newTable(reg, key, h.Shapes, opts)
	h.Capacity = grownCapacity(h.Count)
	if h.Count == 0 {
		h.Capacity = 1
	}
	seg, err := newSegment(reg, key.SegmentName(), h, loaded.Rows)
	if err != nil {
		return nil, err
	}
	if err = t.attach(seg); err != nil {
		_ = seg.Discard()
		return nil, err
	}
	if err = t.rebuildIndex(); err != nil {
		_ = seg.Discard()
		return nil, err
	}
	if err = reg.PublishNew(seg); err != nil {
		_ = seg.Discard()
		if errors.Is(err, ErrSegmentExists) {
			// another process rehydrated it first
			return Map(reg, key, opts)
		}
		return nil, err
	}
	metrics.ReadDuration.Observe(time.Since(start).Seconds())
	metrics.TablesOpenedTotal.WithLabelValues("read").Inc()
	source := "local"
	if loaded.Remote {
		source = "remote"
	}
	log.Info("read table %s from %s storage (%d rows, capacity %d)", key, source, h.Count, h.Capacity)
	return t, nil
}

// Create makes a new empty table. dsv lists the columns with the key columns
// named by keys first, in order; an mtime column is added when missing. The
// empty table is persisted before the segment is published.
func Create(ctx context.Context, reg *shm.Registry, key catalog.TableKey, dsv []io.DataShape, keys []string, capacity int64, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	schema, err := io.NewSchema(dsv, keys)
	if err != nil {
		return nil, err
	}
	if capacity < 1 {
		capacity = 1
	}
	name := key.SegmentName()
	if reg.Exists(name) {
		return nil, errors.Wrap(ErrSegmentExists, key.String())
	}
	if catalog.NewDirectory(opts.RootDirectory).Exists(key) {
		return nil, errors.Wrap(ErrTableExists, key.String())
	}

	h := io.NewHeader(schema, capacity)
	h.ModifiedAt = io.TimeToSeconds(opts.Clock())
	seg, err := newSegment(reg, name, h, nil)
	if err != nil {
		return nil, err
	}
	t := newTable(reg, key, schema, opts)
	if err = t.attach(seg); err != nil {
		_ = seg.Discard()
		return nil, err
	}
	if _, err = t.persist(ctx); err != nil {
		_ = seg.Discard()
		return nil, err
	}
	if err = reg.PublishNew(seg); err != nil {
		_ = seg.Discard()
		return nil, err
	}
	metrics.TablesOpenedTotal.WithLabelValues("create").Inc()
	log.Info("created table %s %s with capacity %d", key, io.SchemaString(schema), capacity)
	return t, nil
}

// CreateFromRows creates a table whose schema is taken from the columns of
// cs and inserts its rows. keys name the primary key columns; they are
// moved to the front of the schema.
func CreateFromRows(ctx context.Context, reg *shm.Registry, key catalog.TableKey, cs *io.ColumnSeries, keys []string, opts Options) (*Table, error) {
	if err := cs.Validate(); err != nil {
		return nil, errors.Wrap(ErrSchema, err.Error())
	}
	all := cs.GetDataShapes()
	dsv := make([]io.DataShape, 0, len(all))
	for _, k := range keys {
		i := io.ColumnIndex(all, k)
		if i < 0 {
			return nil, errors.Wrapf(ErrSchema, "key column %q not in batch", k)
		}
		dsv = append(dsv, all[i])
	}
	for _, ds := range all {
		if !contains(keys, ds.Name) {
			dsv = append(dsv, ds)
		}
	}
	capacity := int64(cs.Len())
	if capacity < 1 {
		capacity = 1
	}
	t, err := Create(ctx, reg, key, dsv, keys, capacity, opts)
	if err != nil {
		return nil, err
	}
	rows, err := cs.ToRows(t.ra)
	if err != nil {
		err = errors.Wrapf(ErrSchema, "encode rows for %s: %v", key, err)
	} else {
		_, _, err = t.Upsert(ctx, rows...)
	}
	if err != nil {
		_ = t.Remove()
		if rerr := catalog.NewDirectory(t.opts.RootDirectory).RemoveTable(key); rerr != nil {
			log.Warn("remove partial table %s: %v", key, rerr)
		}
		return nil, err
	}
	return t, nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
