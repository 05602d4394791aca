package shm

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

// Lock word states.
const (
	StateFree    uint32 = 0
	StateHeld    uint32 = 1
	StateRetired uint32 = 2
)

var (
	// ErrLockTimeout is returned when the guard was not acquired in time.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrProtocolViolation is returned when releasing a guard that is not
	// held. It always indicates a bug in the caller.
	ErrProtocolViolation = errors.New("lock protocol violation")
	// ErrSegmentRetired is returned by Acquire when the segment has been
	// replaced by a larger one; the caller must remap by name.
	ErrSegmentRetired = errors.New("segment retired")
)

const (
	DefaultPollInterval = 100 * time.Microsecond
	maxPollInterval     = 5 * time.Millisecond
)

// Guard is a cross-process mutex over a 4-byte word inside a shared
// mapping. Every state change is a compare-and-swap, so two processes can
// never both observe a successful Acquire.
//
// The word is read and written through a *uint32 derived from the mapping.
// This is sound because the mapping is page aligned, the offset is checked
// for 4-byte alignment, and the mapping outlives the Guard (the Guard keeps
// a reference to its Segment and refuses to operate once it is freed).
type Guard struct {
	seg  *Segment
	word *uint32

	PollInterval time.Duration
}

// Guard returns a guard over the word at byte offset off.
func (s *Segment) Guard(off int) (*Guard, error) {
	if off < 0 || off+4 > len(s.data) {
		return nil, errors.Errorf("shm: guard offset %d outside segment of %d bytes", off, len(s.data))
	}
	p := unsafe.Pointer(&s.data[off])
	if uintptr(p)%4 != 0 {
		return nil, errors.Errorf("shm: guard offset %d is not 4-byte aligned", off)
	}
	return &Guard{seg: s, word: (*uint32)(p), PollInterval: DefaultPollInterval}, nil
}

func (g *Guard) live() error {
	g.seg.mu.Lock()
	defer g.seg.mu.Unlock()
	if g.seg.freed {
		return ErrClosed
	}
	return nil
}

// State returns the current value of the lock word.
func (g *Guard) State() uint32 {
	return atomic.LoadUint32(g.word)
}

// TryAcquire makes a single attempt.
func (g *Guard) TryAcquire() (bool, error) {
	if err := g.live(); err != nil {
		return false, err
	}
	if atomic.CompareAndSwapUint32(g.word, StateFree, StateHeld) {
		return true, nil
	}
	if atomic.LoadUint32(g.word) == StateRetired {
		return false, ErrSegmentRetired
	}
	return false, nil
}

// Acquire polls until the guard is taken, the timeout elapses or ctx is
// done. The poll interval doubles up to 5ms while the guard is contended.
func (g *Guard) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := g.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		ok, err := g.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errors.Wrapf(ErrLockTimeout, "segment %s after %v", g.seg.name, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if interval < maxPollInterval {
			interval *= 2
		}
	}
}

// Release frees a held guard.
func (g *Guard) Release() error {
	if err := g.live(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(g.word, StateHeld, StateFree) {
		return errors.Wrapf(ErrProtocolViolation, "release of segment %s in state %d",
			g.seg.name, atomic.LoadUint32(g.word))
	}
	return nil
}

// Retire marks a held guard as permanently unavailable. Waiters in other
// processes get ErrSegmentRetired and remap.
func (g *Guard) Retire() error {
	if err := g.live(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(g.word, StateHeld, StateRetired) {
		return errors.Wrapf(ErrProtocolViolation, "retire of segment %s in state %d",
			g.seg.name, atomic.LoadUint32(g.word))
	}
	return nil
}
