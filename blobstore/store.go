package blobstore

import (
	"context"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = os.ErrNotExist

// MetadataKey is the user metadata key carrying a blob's modification time
// as unix nanoseconds.
const MetadataKey = "mtime"

// Remote is a blob store that keeps a modification time per blob.
type Remote interface {
	// Download returns the blob at remoteKey when it is newer than the file
	// at localPath, or when force is set. It returns nil data when the local
	// file is at least as new or when the blob does not exist (remoteMtime
	// is zero in that case). localMtime is zero when the local file is
	// absent.
	Download(ctx context.Context, remoteKey, localPath string, force bool) (data []byte, localMtime, remoteMtime time.Time, err error)
	// Upload stores data under remoteKey with the given modification time.
	Upload(ctx context.Context, data []byte, remoteKey string, mtime time.Time) error
}

// TouchMtime sets both access and modification time of path.
func TouchMtime(path string, mtime time.Time) error {
	return os.Chtimes(path, mtime, mtime)
}

// LocalMtime returns the modification time of path, or zero when it does not
// exist.
func LocalMtime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// ShouldFetch decides whether a remote copy replaces the local one.
func ShouldFetch(localMtime, remoteMtime time.Time, force bool) bool {
	if remoteMtime.IsZero() {
		return false
	}
	return force || localMtime.IsZero() || remoteMtime.After(localMtime)
}

// FormatMtime renders mtime for MetadataKey.
func FormatMtime(mtime time.Time) string {
	return strconv.FormatInt(mtime.UnixNano(), 10)
}

// ParseMtime parses a MetadataKey value, returning fallback when it is
// missing or invalid.
func ParseMtime(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(0, ns)
}

// Deleter is implemented by remotes that can remove blobs. The engine uses
// it to drop a tail that no longer exists; stale blobs are otherwise
// harmless because the head header says whether a tail is expected.
type Deleter interface {
	Delete(ctx context.Context, remoteKey string) error
}
