package io

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// FormatVersion is bumped on any change to the header layout.
const FormatVersion = uint16(1)

var headerMagic = [4]byte{'S', 'H', 'M', 'T'}

// ErrMalformedHeader is returned when header bytes cannot be decoded into a
// consistent Header.
var ErrMalformedHeader = errors.New("malformed header")

type HeaderKind uint16

const (
	// MainHeader prefixes a shared segment and head.bin.
	MainHeader HeaderKind = 1
	// TailHeader prefixes tail.bin.
	TailHeader HeaderKind = 2
)

/*
Header layout, little endian. P is the end of the padded descriptor.

	0    magic "SHMT"
	4    version          uint16
	6    kind             uint16
	8    header size      uint32
	12   descriptor len   uint32
	16   descriptor, zero padded to 8 bytes
	P+0  semaphore        uint32
	P+4  reserved         uint32
	P+8  integrity hash   [16]byte
	P+24 modified at      float64, seconds
	P+32 item size        int64
	P+40 capacity         int64
	P+48 count            int64
	P+56 head count       int64
	P+64 min changed id   int64
	P+72 has tail         uint8, 7 bytes pad
*/
const (
	prefixSize     = 16
	fixedBlockSize = 80

	offSemaphore    = 0
	offHash         = 8
	offModifiedAt   = 24
	offItemSize     = 32
	offCapacity     = 40
	offCount        = 48
	offHeadCount    = 56
	offMinChangedID = 64
	offHasTail      = 72
)

// Header is the decoded form of the segment/file header.
type Header struct {
	Kind         HeaderKind
	Shapes       []DataShape
	Semaphore    uint32
	Hash         [16]byte
	ModifiedAt   float64
	ItemSize     int64
	Capacity     int64
	Count        int64
	HeadCount    int64
	MinChangedID int64
	HasTail      bool
}

// NewHeader returns a main header for an empty segment of the given capacity.
func NewHeader(dsv []DataShape, capacity int64) *Header {
	return &Header{
		Kind:     MainHeader,
		Shapes:   dsv,
		ItemSize: int64(RecordLength(dsv)),
		Capacity: capacity,
	}
}

// HeaderSize returns the encoded size of a header carrying the descriptor.
func HeaderSize(descriptor string) int {
	return prefixSize + AlignedSize(len(descriptor)) + fixedBlockSize
}

// Size is the encoded width of h.
func (h *Header) Size() int {
	return HeaderSize(EncodeDescriptor(h.Shapes))
}

// TailHeader derives the header written in front of tail.bin.
func (h *Header) TailHeader(tailCount int64) *Header {
	return &Header{
		Kind:       TailHeader,
		Shapes:     h.Shapes,
		ModifiedAt: h.ModifiedAt,
		ItemSize:   h.ItemSize,
		Capacity:   tailCount,
		Count:      tailCount,
	}
}

// ModTime converts ModifiedAt into a time.Time.
func (h *Header) ModTime() time.Time {
	return SecondsToTime(h.ModifiedAt)
}

func SecondsToTime(s float64) time.Time {
	us := int64(math.Round(s * 1e6))
	return time.UnixMicro(us).UTC()
}

// TimeToSeconds converts t to fractional seconds at microsecond precision so
// the value survives a round trip through file modification times.
func TimeToSeconds(t time.Time) float64 {
	us := t.UnixNano() / int64(time.Microsecond)
	return float64(us) / 1e6
}

// EncodeHeader serializes h. The result is exactly h.Size() bytes.
func EncodeHeader(h *Header) []byte {
	desc := EncodeDescriptor(h.Shapes)
	size := HeaderSize(desc)
	b := make([]byte, size)
	copy(b[0:4], headerMagic[:])
	binary.LittleEndian.PutUint16(b[4:], FormatVersion)
	binary.LittleEndian.PutUint16(b[6:], uint16(h.Kind))
	binary.LittleEndian.PutUint32(b[8:], uint32(size))
	binary.LittleEndian.PutUint32(b[12:], uint32(len(desc)))
	copy(b[prefixSize:], desc)

	v := HeaderView{b: b, p: size - fixedBlockSize}
	v.SetSemaphore(h.Semaphore)
	v.SetHash(h.Hash)
	v.SetModifiedAt(h.ModifiedAt)
	binary.LittleEndian.PutUint64(b[v.p+offItemSize:], uint64(h.ItemSize))
	binary.LittleEndian.PutUint64(b[v.p+offCapacity:], uint64(h.Capacity))
	v.SetCount(h.Count)
	v.SetHeadCount(h.HeadCount)
	v.SetMinChangedID(h.MinChangedID)
	v.SetHasTail(h.HasTail)
	return b
}

// PeekHeaderSize reads the fixed prefix and returns the full header size.
func PeekHeaderSize(b []byte) (int, error) {
	if len(b) < prefixSize {
		return 0, errors.Wrapf(ErrMalformedHeader, "need %d prefix bytes, have %d", prefixSize, len(b))
	}
	if !bytes.Equal(b[0:4], headerMagic[:]) {
		return 0, errors.Wrapf(ErrMalformedHeader, "bad magic %q", b[0:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != FormatVersion {
		return 0, errors.Wrapf(ErrMalformedHeader, "unsupported version %d", v)
	}
	size := int(binary.LittleEndian.Uint32(b[8:]))
	descLen := int(binary.LittleEndian.Uint32(b[12:]))
	if want := prefixSize + AlignedSize(descLen) + fixedBlockSize; size != want {
		return 0, errors.Wrapf(ErrMalformedHeader, "header size %d disagrees with descriptor length %d", size, descLen)
	}
	return size, nil
}

// DecodeHeader parses a header from the front of b.
func DecodeHeader(b []byte) (*Header, error) {
	size, err := PeekHeaderSize(b)
	if err != nil {
		return nil, err
	}
	if len(b) < size {
		return nil, errors.Wrapf(ErrMalformedHeader, "header needs %d bytes, have %d", size, len(b))
	}
	kind := HeaderKind(binary.LittleEndian.Uint16(b[6:]))
	if kind != MainHeader && kind != TailHeader {
		return nil, errors.Wrapf(ErrMalformedHeader, "unknown header kind %d", kind)
	}
	descLen := int(binary.LittleEndian.Uint32(b[12:]))
	pad := b[prefixSize+descLen : size-fixedBlockSize]
	for _, c := range pad {
		if c != 0 {
			return nil, errors.Wrap(ErrMalformedHeader, "non zero descriptor padding")
		}
	}
	dsv, err := ParseDescriptor(string(b[prefixSize : prefixSize+descLen]))
	if err != nil {
		return nil, err
	}
	v := HeaderView{b: b[:size], p: size - fixedBlockSize}
	h := &Header{
		Kind:         kind,
		Shapes:       dsv,
		Semaphore:    v.Semaphore(),
		Hash:         v.Hash(),
		ModifiedAt:   v.ModifiedAt(),
		ItemSize:     v.ItemSize(),
		Capacity:     v.Capacity(),
		Count:        v.Count(),
		HeadCount:    v.HeadCount(),
		MinChangedID: v.MinChangedID(),
		HasTail:      v.HasTail(),
	}
	if want := int64(RecordLength(dsv)); h.ItemSize != want {
		return nil, errors.Wrapf(ErrMalformedHeader, "item size %d disagrees with descriptor (%d)", h.ItemSize, want)
	}
	if h.Count < 0 || h.Capacity < h.Count || h.HeadCount < 0 || h.HeadCount > h.Count {
		return nil, errors.Wrapf(ErrMalformedHeader, "inconsistent counts capacity=%d count=%d head=%d",
			h.Capacity, h.Count, h.HeadCount)
	}
	return h, nil
}

// HeaderView reads and writes the mutable header fields in place, e.g. in a
// shared memory mapping.
type HeaderView struct {
	b []byte
	p int
}

// NewHeaderView wraps encoded header bytes. b must hold at least the full
// header.
func NewHeaderView(b []byte) (HeaderView, error) {
	size, err := PeekHeaderSize(b)
	if err != nil {
		return HeaderView{}, err
	}
	if len(b) < size {
		return HeaderView{}, errors.Wrapf(ErrMalformedHeader, "header needs %d bytes, have %d", size, len(b))
	}
	return HeaderView{b: b[:size], p: size - fixedBlockSize}, nil
}

func (v HeaderView) Size() int { return len(v.b) }

// Bytes returns the header bytes backing the view.
func (v HeaderView) Bytes() []byte { return v.b }

// SemaphoreOffset is the byte offset of the 4-byte lock word.
func (v HeaderView) SemaphoreOffset() int { return v.p + offSemaphore }

func (v HeaderView) u64(off int) uint64 { return binary.LittleEndian.Uint64(v.b[v.p+off:]) }

func (v HeaderView) put64(off int, x uint64) { binary.LittleEndian.PutUint64(v.b[v.p+off:], x) }

func (v HeaderView) Semaphore() uint32 {
	return binary.LittleEndian.Uint32(v.b[v.p+offSemaphore:])
}

func (v HeaderView) SetSemaphore(s uint32) {
	binary.LittleEndian.PutUint32(v.b[v.p+offSemaphore:], s)
}

func (v HeaderView) Hash() (h [16]byte) {
	copy(h[:], v.b[v.p+offHash:v.p+offHash+16])
	return h
}

func (v HeaderView) SetHash(h [16]byte) { copy(v.b[v.p+offHash:], h[:]) }

func (v HeaderView) ModifiedAt() float64 { return math.Float64frombits(v.u64(offModifiedAt)) }

func (v HeaderView) SetModifiedAt(s float64) { v.put64(offModifiedAt, math.Float64bits(s)) }

func (v HeaderView) ItemSize() int64 { return int64(v.u64(offItemSize)) }

func (v HeaderView) Capacity() int64 { return int64(v.u64(offCapacity)) }

func (v HeaderView) Count() int64 { return int64(v.u64(offCount)) }

func (v HeaderView) SetCount(n int64) { v.put64(offCount, uint64(n)) }

func (v HeaderView) HeadCount() int64 { return int64(v.u64(offHeadCount)) }

func (v HeaderView) SetHeadCount(n int64) { v.put64(offHeadCount, uint64(n)) }

func (v HeaderView) MinChangedID() int64 { return int64(v.u64(offMinChangedID)) }

func (v HeaderView) SetMinChangedID(n int64) { v.put64(offMinChangedID, uint64(n)) }

func (v HeaderView) HasTail() bool { return v.b[v.p+offHasTail] != 0 }

func (v HeaderView) SetHasTail(t bool) {
	v.b[v.p+offHasTail] = 0
	if t {
		v.b[v.p+offHasTail] = 1
	}
}

// HashableCopy returns a copy of the header with the lock word and the hash
// zeroed; it is the header part of the integrity hash input.
func (v HeaderView) HashableCopy() []byte {
	c := make([]byte, len(v.b))
	copy(c, v.b)
	cv := HeaderView{b: c, p: v.p}
	cv.SetSemaphore(0)
	cv.SetHash([16]byte{})
	return c
}
