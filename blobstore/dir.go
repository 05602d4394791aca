package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DirStore implements Remote on a directory tree, typically a network
// mount shared by several hosts. Blob modification times are the file
// modification times.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at the given directory.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *DirStore) Download(ctx context.Context, remoteKey, localPath string, force bool) ([]byte, time.Time, time.Time, error) {
	localMtime, err := LocalMtime(localPath)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	if err = ctx.Err(); err != nil {
		return nil, localMtime, time.Time{}, err
	}
	remoteMtime, err := LocalMtime(s.path(remoteKey))
	if err != nil {
		return nil, localMtime, time.Time{}, err
	}
	if !ShouldFetch(localMtime, remoteMtime, force) {
		return nil, localMtime, remoteMtime, nil
	}
	data, err := os.ReadFile(s.path(remoteKey))
	if err != nil {
		return nil, localMtime, remoteMtime, err
	}
	return data, localMtime, remoteMtime, nil
}

func (s *DirStore) Upload(ctx context.Context, data []byte, remoteKey string, mtime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.path(remoteKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o770); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", dst, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o660); err != nil {
		return err
	}
	if err := TouchMtime(tmp, mtime); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Delete removes a blob; a missing blob is not an error.
func (s *DirStore) Delete(_ context.Context, remoteKey string) error {
	err := os.Remove(s.path(remoteKey))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
