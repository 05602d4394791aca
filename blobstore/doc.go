// Package blobstore is the remote side of table persistence.
//
// A Remote holds the compressed head and tail files of every table under a
// key and records a modification time with each blob. The engine compares
// that time with the local copy's file modification time to decide which
// copy is authoritative:
//
//	data, localMtime, remoteMtime, err := remote.Download(ctx, key, localPath, false)
//	// data == nil: the local file is at least as new (or the blob is absent)
//
// Built-in implementations:
//
//   - DirStore: another directory, e.g. a network mount; used in tests
//   - minio.Store: MinIO and S3 compatible servers
//   - s3.Store: Amazon S3 through aws-sdk-go-v2
package blobstore
