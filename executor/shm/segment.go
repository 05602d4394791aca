package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

var (
	// ErrSegmentNotFound is returned when mapping a name nobody created.
	ErrSegmentNotFound = errors.New("shared segment not found")
	// ErrSegmentExists is returned when creating a name that is in use.
	ErrSegmentExists = errors.New("shared segment already exists")
	// ErrClosed is returned by a freed segment or a closed registry.
	ErrClosed = errors.New("shm: closed")
)

const segmentPrefix = "shmstore."

// Registry hands out and tracks the segments mapped by this process.
type Registry struct {
	dir string

	mu       sync.Mutex
	segments map[*Segment]struct{}
	closed   bool
}

// NewRegistry returns a registry rooted at dir, or DefaultDir when dir is
// empty.
func NewRegistry(dir string) (*Registry, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, errors.Wrapf(err, "create segment directory %s", dir)
	}
	return &Registry{dir: dir, segments: make(map[*Segment]struct{})}, nil
}

func (r *Registry) Dir() string { return r.dir }

// Path is the file backing the named segment.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.dir, segmentPrefix+name)
}

// Exists reports whether a segment of this name is present on the host.
func (r *Registry) Exists(name string) bool {
	_, err := os.Stat(r.Path(name))
	return err == nil
}

// Create allocates a new zero filled segment of size bytes. It fails with
// ErrSegmentExists when the name is taken.
func (r *Registry) Create(name string, size int) (*Segment, error) {
	return r.create(name, r.Path(name), size)
}

// CreateTemp allocates an unpublished segment that replaces name once it is
// passed to Publish.
func (r *Registry) CreateTemp(name string, size int) (*Segment, error) {
	return r.create(name, fmt.Sprintf("%s.%d.tmp", r.Path(name), os.Getpid()), size)
}

func (r *Registry) create(name, path string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid segment size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o660)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(ErrSegmentExists, name)
		}
		return nil, errors.Wrapf(err, "create segment %s", name)
	}
	defer f.Close()
	if err = f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "size segment %s", name)
	}
	data, err := osMap(f, size)
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "map segment %s", name)
	}
	return r.track(&Segment{name: name, path: path, data: data, reg: r})
}

// Open maps an existing segment. Only the header is read through the file;
// the mapping size comes from the capacity recorded in the header.
func (r *Registry) Open(name string) (*Segment, *io.Header, error) {
	path := r.Path(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(ErrSegmentNotFound, name)
		}
		return nil, nil, errors.Wrapf(err, "open segment %s", name)
	}
	defer f.Close()

	var prefix [16]byte
	if _, err = f.ReadAt(prefix[:], 0); err != nil {
		return nil, nil, errors.Wrapf(err, "read segment prefix %s", name)
	}
	hsize, err := io.PeekHeaderSize(prefix[:])
	if err != nil {
		return nil, nil, err
	}
	hb := make([]byte, hsize)
	if _, err = f.ReadAt(hb, 0); err != nil {
		return nil, nil, errors.Wrapf(err, "read segment header %s", name)
	}
	h, err := io.DecodeHeader(hb)
	if err != nil {
		return nil, nil, err
	}
	size := hsize + int(h.Capacity*h.ItemSize)
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if fi.Size() < int64(size) {
		return nil, nil, errors.Wrapf(io.ErrMalformedHeader,
			"segment %s is %d bytes, header requires %d", name, fi.Size(), size)
	}
	data, err := osMap(f, size)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "map segment %s", name)
	}
	seg, err := r.track(&Segment{name: name, path: path, data: data, reg: r})
	return seg, h, err
}

// Publish atomically renames a segment made by CreateTemp over its name.
// Processes that mapped the previous segment keep their mapping until they
// remap.
func (r *Registry) Publish(s *Segment) error {
	dst := r.Path(s.name)
	if s.path == dst {
		return nil
	}
	if err := os.Rename(s.path, dst); err != nil {
		return errors.Wrapf(err, "publish segment %s", s.name)
	}
	s.path = dst
	return nil
}

// PublishNew is Publish for a segment that must not replace an existing
// one; it fails with ErrSegmentExists when the name is taken.
func (r *Registry) PublishNew(s *Segment) error {
	dst := r.Path(s.name)
	if s.path == dst {
		return nil
	}
	if err := os.Link(s.path, dst); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(ErrSegmentExists, s.name)
		}
		return errors.Wrapf(err, "publish segment %s", s.name)
	}
	_ = os.Remove(s.path)
	s.path = dst
	return nil
}

// Unlink removes the named segment from the host. Existing mappings stay
// valid until freed.
func (r *Registry) Unlink(name string) error {
	err := os.Remove(r.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unlink segment %s", name)
	}
	return nil
}

// Close frees every segment still mapped through this registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	segs := make([]*Segment, 0, len(r.segments))
	for s := range r.segments {
		segs = append(segs, s)
	}
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, s := range segs {
		if err := s.Free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) track(s *Segment) (*Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = osUnmap(s.data)
		return nil, ErrClosed
	}
	r.segments[s] = struct{}{}
	log.Debug("mapped segment %s (%d bytes)", s.name, len(s.data))
	return s, nil
}

func (r *Registry) untrack(s *Segment) {
	r.mu.Lock()
	delete(r.segments, s)
	r.mu.Unlock()
}

// Segment is one mapping of a shared segment.
type Segment struct {
	name string
	path string
	data []byte
	reg  *Registry

	mu    sync.Mutex
	freed bool
}

func (s *Segment) Name() string { return s.name }

func (s *Segment) Path() string { return s.path }

// Bytes returns the mapping. It must not be used after Free.
func (s *Segment) Bytes() []byte { return s.data }

func (s *Segment) Size() int { return len(s.data) }

// Free unmaps the segment. The backing file is left in place.
func (s *Segment) Free() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		return nil
	}
	s.freed = true
	s.reg.untrack(s)
	err := osUnmap(s.data)
	s.data = nil
	if err != nil {
		return errors.Wrapf(err, "unmap segment %s", s.name)
	}
	return nil
}

// Discard frees the segment and removes its backing file. It is used to
// roll back a segment that was never handed to a caller.
func (s *Segment) Discard() error {
	err := s.Free()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
