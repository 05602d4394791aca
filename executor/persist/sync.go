package persist

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/alpacahq/shmstore/blobstore"
	"github.com/alpacahq/shmstore/executor/partition"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/utils/io"
	"github.com/alpacahq/shmstore/utils/log"
)

var (
	// ErrSync wraps storage and network failures. It is not retried here.
	ErrSync = errors.New("sync error")
	// ErrCorruption is returned when a partition fails verification.
	ErrCorruption = errors.New("corruption detected")
	// ErrTableNotFound is returned when neither a local nor a remote head
	// exists.
	ErrTableNotFound = errors.New("table not found")
)

const (
	HeadFile = "head.bin"
	TailFile = "tail.bin"
)

// Synchronizer moves the head and tail partitions of one table between a
// local directory and an optional remote store.
type Synchronizer struct {
	dir       string
	remoteDir string
	remote    blobstore.Remote
	codec     Codec
}

// NewSynchronizer returns a synchronizer for the table stored in localDir
// and, when remote is not nil, under remoteDir in remote. A nil codec means
// zstd.
func NewSynchronizer(localDir, remoteDir string, remote blobstore.Remote, codec Codec) *Synchronizer {
	if codec == nil {
		codec = zstdCodec{}
	}
	return &Synchronizer{dir: localDir, remoteDir: remoteDir, remote: remote, codec: codec}
}

func (s *Synchronizer) Dir() string { return s.dir }

func (s *Synchronizer) LocalPath(name string) string { return filepath.Join(s.dir, name) }

func (s *Synchronizer) RemoteKey(name string) string {
	return path.Join(s.remoteDir, name) + s.codec.Ext()
}

// Snapshot is a copy of a table taken under its guard. Header carries the
// split to persist: Count, HeadCount and HasTail must describe Rows.
type Snapshot struct {
	Header *io.Header
	Rows   []byte
	Plan   partition.Plan
}

// Written reports what a Write call did.
type Written struct {
	Head, Tail    bool
	TailRemoved   bool
	HeadHash      [16]byte
	TailHash      [16]byte
	BytesWritten  int64
	BytesUploaded int64
}

// Write persists the partitions named by the snapshot's plan. The tail is
// written before the head so that a head on disk never announces a tail
// that was not written yet.
func (s *Synchronizer) Write(ctx context.Context, snap Snapshot) (Written, error) {
	var w Written
	h := *snap.Header
	h.Kind = io.MainHeader
	h.Semaphore = 0
	h.Hash = [16]byte{}
	if h.HeadCount > h.Count || int64(len(snap.Rows)) < h.Count*h.ItemSize {
		return w, errors.Errorf("snapshot of %d bytes does not hold %d rows (head %d)",
			len(snap.Rows), h.Count, h.HeadCount)
	}
	split := h.HeadCount * h.ItemSize
	mtime := h.ModTime()

	if err := os.MkdirAll(s.dir, 0o770); err != nil {
		return w, errors.Wrapf(ErrSync, "create %s: %v", s.dir, err)
	}

	if snap.Plan.WriteTail {
		th := h.TailHeader(h.Count - h.HeadCount)
		file, sum, err := seal(th, snap.Rows[split:h.Count*h.ItemSize])
		if err != nil {
			return w, err
		}
		up, err := s.put(ctx, TailFile, file, mtime)
		if err != nil {
			return w, err
		}
		w.Tail, w.TailHash = true, sum
		w.BytesWritten += int64(len(file))
		w.BytesUploaded += up
	}
	if snap.Plan.WriteHead {
		file, sum, err := seal(&h, snap.Rows[:split])
		if err != nil {
			return w, err
		}
		up, err := s.put(ctx, HeadFile, file, mtime)
		if err != nil {
			return w, err
		}
		w.Head, w.HeadHash = true, sum
		w.BytesWritten += int64(len(file))
		w.BytesUploaded += up
	}
	if snap.Plan.RemoveTail {
		if err := s.remove(ctx, TailFile); err != nil {
			return w, err
		}
		w.TailRemoved = true
	}
	return w, nil
}

// seal encodes h in front of rows and stores the integrity hash in it.
func seal(h *io.Header, rows []byte) ([]byte, [16]byte, error) {
	hb := io.EncodeHeader(h)
	v, err := io.NewHeaderView(hb)
	if err != nil {
		return nil, [16]byte{}, err
	}
	sum := Hash(v.HashableCopy(), rows)
	v.SetHash(sum)
	file := make([]byte, 0, len(hb)+len(rows))
	file = append(file, hb...)
	file = append(file, rows...)
	return file, sum, nil
}

func (s *Synchronizer) put(ctx context.Context, name string, file []byte, mtime time.Time) (int64, error) {
	local := s.LocalPath(name)
	if err := writeLocal(local, file, mtime); err != nil {
		return 0, errors.Wrapf(ErrSync, "write %s: %v", local, err)
	}
	metrics.PartitionBytesWrittenTotal.WithLabelValues(partitionLabel(name)).Add(float64(len(file)))
	log.Debug("wrote %s (%d bytes)", local, len(file))
	if s.remote == nil {
		return 0, nil
	}
	packed, err := s.codec.Compress(file)
	if err != nil {
		return 0, errors.Wrapf(ErrSync, "compress %s: %v", name, err)
	}
	key := s.RemoteKey(name)
	if err = s.remote.Upload(ctx, packed, key, mtime); err != nil {
		return 0, errors.Wrapf(ErrSync, "upload %s: %v", key, err)
	}
	log.Debug("uploaded %s (%d bytes %s)", key, len(packed), s.codec.Name())
	return int64(len(packed)), nil
}

func writeLocal(dst string, data []byte, mtime time.Time) error {
	tmp := fmt.Sprintf("%s.%d.tmp", dst, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o660); err != nil {
		return err
	}
	if err := blobstore.TouchMtime(tmp, mtime); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *Synchronizer) remove(ctx context.Context, name string) error {
	local := s.LocalPath(name)
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(ErrSync, "remove %s: %v", local, err)
	}
	if d, ok := s.remote.(blobstore.Deleter); ok {
		key := s.RemoteKey(name)
		if err := d.Delete(ctx, key); err != nil {
			return errors.Wrapf(ErrSync, "delete %s: %v", key, err)
		}
	}
	return nil
}

// Loaded is a verified table read back from storage.
type Loaded struct {
	// Header is the assembled main header: Count is head plus tail rows,
	// MinChangedID equals Count and Capacity equals Count.
	Header *io.Header
	Rows   []byte
	// Remote is true when at least one partition came from the remote.
	Remote bool
}

type fetched struct {
	name        string
	data        []byte
	remoteMtime time.Time
	fromRemote  bool
}

// Read fetches head and tail concurrently, preferring whichever copy of
// each is newer, and verifies both. Remote copies are written to the local
// directory only after they verified.
func (s *Synchronizer) Read(ctx context.Context) (*Loaded, error) {
	return s.read(ctx, true)
}

// Verify is Read without storing remote copies locally.
func (s *Synchronizer) Verify(ctx context.Context) (*Loaded, error) {
	return s.read(ctx, false)
}

func (s *Synchronizer) read(ctx context.Context, cache bool) (*Loaded, error) {
	var head, tail fetched
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		head, err = s.fetch(gctx, HeadFile)
		return err
	})
	g.Go(func() (err error) {
		tail, err = s.fetch(gctx, TailFile)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if head.data == nil {
		return nil, errors.Wrapf(ErrTableNotFound, "no %s under %s", HeadFile, s.dir)
	}

	h, headRows, err := verify(head, io.MainHeader)
	if err != nil {
		return nil, err
	}
	out := *h
	out.Count = h.HeadCount
	rows := headRows
	fromRemote := head.fromRemote
	if h.HasTail {
		if tail.data == nil {
			metrics.CorruptionsTotal.WithLabelValues("tail").Inc()
			return nil, errors.Wrapf(ErrCorruption, "%s announces a tail but %s is missing", HeadFile, TailFile)
		}
		th, tailRows, err := verify(tail, io.TailHeader)
		if err != nil {
			return nil, err
		}
		if io.EncodeDescriptor(th.Shapes) != io.EncodeDescriptor(h.Shapes) {
			metrics.CorruptionsTotal.WithLabelValues("tail").Inc()
			return nil, errors.Wrap(ErrCorruption, "tail schema differs from head schema")
		}
		out.Count += th.Count
		if th.ModifiedAt > out.ModifiedAt {
			out.ModifiedAt = th.ModifiedAt
		}
		rows = make([]byte, 0, len(headRows)+len(tailRows))
		rows = append(rows, headRows...)
		rows = append(rows, tailRows...)
		fromRemote = fromRemote || tail.fromRemote
		if cache {
			s.cache(tail)
		}
	}
	if cache {
		s.cache(head)
	}

	out.Semaphore = 0
	out.Capacity = out.Count
	out.MinChangedID = out.Count
	return &Loaded{Header: &out, Rows: rows, Remote: fromRemote}, nil
}

func (s *Synchronizer) fetch(ctx context.Context, name string) (fetched, error) {
	f := fetched{name: name}
	local := s.LocalPath(name)
	if s.remote != nil {
		key := s.RemoteKey(name)
		data, _, remoteMtime, err := s.remote.Download(ctx, key, local, false)
		if err != nil {
			return f, errors.Wrapf(ErrSync, "download %s: %v", key, err)
		}
		if data != nil {
			raw, err := s.codec.Decompress(data)
			if err != nil {
				metrics.CorruptionsTotal.WithLabelValues(partitionLabel(name)).Inc()
				return f, errors.Wrapf(ErrCorruption, "decompress %s: %v", key, err)
			}
			log.Info("fetched %s from remote (%d bytes)", key, len(raw))
			f.data, f.remoteMtime, f.fromRemote = raw, remoteMtime, true
			return f, nil
		}
	}
	data, err := os.ReadFile(local)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, errors.Wrapf(ErrSync, "read %s: %v", local, err)
	}
	f.data = data
	return f, nil
}

// verify decodes a partition file and checks its integrity hash. Any
// failure, including an undecodable header, is corruption.
func verify(f fetched, kind io.HeaderKind) (*io.Header, []byte, error) {
	corrupt := func(format string, args ...interface{}) error {
		metrics.CorruptionsTotal.WithLabelValues(partitionLabel(f.name)).Inc()
		return errors.Wrapf(ErrCorruption, "%s: "+format, append([]interface{}{f.name}, args...)...)
	}
	h, err := io.DecodeHeader(f.data)
	if err != nil {
		return nil, nil, corrupt("%v", err)
	}
	if h.Kind != kind {
		return nil, nil, corrupt("header kind %d, want %d", h.Kind, kind)
	}
	// A persisted file is never written while held.
	if h.Semaphore != 0 {
		return nil, nil, corrupt("lock word is %d", h.Semaphore)
	}
	n := h.Count
	if kind == io.MainHeader {
		n = h.HeadCount
	}
	hsize := h.Size()
	rows := f.data[hsize:]
	if want := n * h.ItemSize; int64(len(rows)) != want {
		return nil, nil, corrupt("%d row bytes, header requires %d", len(rows), want)
	}
	v, err := io.NewHeaderView(f.data)
	if err != nil {
		return nil, nil, corrupt("%v", err)
	}
	if sum := Hash(v.HashableCopy(), rows); !bytes.Equal(sum[:], h.Hash[:]) {
		return nil, nil, corrupt("hash mismatch")
	}
	return h, rows, nil
}

// cache stores a verified remote partition locally with the remote mtime,
// so the next read finds them equally fresh. Failures only cost latency.
func (s *Synchronizer) cache(f fetched) {
	if !f.fromRemote {
		return
	}
	if err := os.MkdirAll(s.dir, 0o770); err != nil {
		log.Warn("cache %s: %v", f.name, err)
		return
	}
	if err := writeLocal(s.LocalPath(f.name), f.data, f.remoteMtime); err != nil {
		log.Warn("cache %s: %v", f.name, err)
	}
}

func partitionLabel(name string) string {
	if name == TailFile {
		return "tail"
	}
	return "head"
}
