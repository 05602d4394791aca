package shm_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/utils/io"
)

func newSegment(t *testing.T, reg *shm.Registry, name string, capacity int64) (*shm.Segment, io.HeaderView) {
	t.Helper()

	dsv, err := io.NewSchema([]io.DataShape{
		{Name: "id", Type: io.INT64},
		{Name: "value", Type: io.FLOAT64},
	}, []string{"id"})
	require.NoError(t, err)

	hb := io.EncodeHeader(io.NewHeader(dsv, capacity))
	seg, err := reg.Create(name, len(hb)+int(capacity)*io.RecordLength(dsv))
	require.NoError(t, err)
	copy(seg.Bytes(), hb)
	hv, err := io.NewHeaderView(seg.Bytes())
	require.NoError(t, err)
	return seg, hv
}

func TestRegistryCreateOpen(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	seg, hv := newSegment(t, reg, "ns.p.src.tbl", 10)
	hv.SetCount(3)
	seg.Bytes()[hv.Size()] = 0xAB

	assert.True(t, reg.Exists("ns.p.src.tbl"))
	_, err = reg.Create("ns.p.src.tbl", 64)
	assert.True(t, errors.Is(err, shm.ErrSegmentExists))

	other, h, err := reg.Open("ns.p.src.tbl")
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.Count)
	assert.Equal(t, int64(10), h.Capacity)
	assert.Equal(t, seg.Size(), other.Size())
	// both mappings share the same memory
	assert.Equal(t, byte(0xAB), other.Bytes()[hv.Size()])
	seg.Bytes()[hv.Size()+1] = 0xCD
	assert.Equal(t, byte(0xCD), other.Bytes()[hv.Size()+1])

	require.NoError(t, other.Free())
	require.NoError(t, other.Free())
	require.NoError(t, reg.Unlink("ns.p.src.tbl"))
	assert.False(t, reg.Exists("ns.p.src.tbl"))
}

func TestRegistryOpenMissing(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	_, _, err = reg.Open("nope")
	assert.True(t, errors.Is(err, shm.ErrSegmentNotFound))
}

func TestRegistryPublish(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	_, _ = newSegment(t, reg, "grow", 2)
	tmp, err := reg.CreateTemp("grow", 4096)
	require.NoError(t, err)
	tmp.Bytes()[0] = 'x'
	require.NoError(t, reg.Publish(tmp))
	assert.Equal(t, reg.Path("grow"), tmp.Path())

	assert.True(t, reg.Exists("grow"))
}

func TestGuardMutualExclusion(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	seg, hv := newSegment(t, reg, "lock", 1)
	// a second mapping plays the role of another process
	other, _, err := reg.Open("lock")
	require.NoError(t, err)

	g1, err := seg.Guard(hv.SemaphoreOffset())
	require.NoError(t, err)
	g2, err := other.Guard(hv.SemaphoreOffset())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, g1.Acquire(ctx, time.Second))
	assert.Equal(t, uint32(1), hv.Semaphore())

	err = g2.Acquire(ctx, 20*time.Millisecond)
	assert.True(t, errors.Is(err, shm.ErrLockTimeout), "err=%v", err)

	require.NoError(t, g1.Release())
	require.NoError(t, g2.Acquire(ctx, time.Second))
	require.NoError(t, g2.Release())
	assert.Equal(t, uint32(0), hv.Semaphore())
}

func TestGuardContention(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	seg, hv := newSegment(t, reg, "contended", 1)
	guards := make([]*shm.Guard, 4)
	for i := range guards {
		s := seg
		if i > 0 {
			s, _, err = reg.Open("contended")
			require.NoError(t, err)
		}
		guards[i], err = s.Guard(hv.SemaphoreOffset())
		require.NoError(t, err)
	}

	var inside, overlaps, total int32
	var wg sync.WaitGroup
	for _, g := range guards {
		wg.Add(1)
		go func(g *shm.Guard) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := g.Acquire(context.Background(), 10*time.Second); err != nil {
					t.Error(err)
					return
				}
				if atomic.AddInt32(&inside, 1) != 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				atomic.AddInt32(&total, 1)
				atomic.AddInt32(&inside, -1)
				if err := g.Release(); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, int32(0), overlaps)
	assert.Equal(t, int32(200), total)
}

func TestGuardProtocol(t *testing.T) {
	t.Parallel()

	reg, err := shm.NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	seg, hv := newSegment(t, reg, "proto", 1)
	g, err := seg.Guard(hv.SemaphoreOffset())
	require.NoError(t, err)

	err = g.Release()
	assert.True(t, errors.Is(err, shm.ErrProtocolViolation))

	require.NoError(t, g.Acquire(context.Background(), time.Second))
	require.NoError(t, g.Retire())
	_, err = g.TryAcquire()
	assert.True(t, errors.Is(err, shm.ErrSegmentRetired))
	err = g.Acquire(context.Background(), time.Second)
	assert.True(t, errors.Is(err, shm.ErrSegmentRetired))

	_, err = seg.Guard(hv.SemaphoreOffset() + 1)
	assert.Error(t, err)

	require.NoError(t, seg.Free())
	_, err = g.TryAcquire()
	assert.True(t, errors.Is(err, shm.ErrClosed))
}
