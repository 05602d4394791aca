package minio

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/alpacahq/shmstore/blobstore"
)

// Store implements blobstore.Remote for MinIO and S3-compatible storage.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO blob store.
// rootPrefix is prepended to all keys (e.g. "tables/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

// Dial builds a client for endpoint with static credentials.
func Dial(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
}

// objectMtime prefers the mtime user metadata over the server's
// LastModified, which is the upload time rather than the data's time.
func objectMtime(info minio.ObjectInfo) time.Time {
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, blobstore.MetadataKey) {
			return blobstore.ParseMtime(v, info.LastModified)
		}
	}
	return info.LastModified
}

func (s *Store) Download(ctx context.Context, remoteKey, localPath string, force bool) ([]byte, time.Time, time.Time, error) {
	localMtime, err := blobstore.LocalMtime(localPath)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	key := s.key(remoteKey)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, localMtime, time.Time{}, nil
		}
		return nil, localMtime, time.Time{}, err
	}
	remoteMtime := objectMtime(info)
	if !blobstore.ShouldFetch(localMtime, remoteMtime, force) {
		return nil, localMtime, remoteMtime, nil
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, localMtime, remoteMtime, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, localMtime, remoteMtime, err
	}
	return data, localMtime, remoteMtime, nil
}

func (s *Store) Upload(ctx context.Context, data []byte, remoteKey string, mtime time.Time) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(remoteKey), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{blobstore.MetadataKey: blobstore.FormatMtime(mtime)},
		})
	return err
}

func (s *Store) Delete(ctx context.Context, remoteKey string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(remoteKey), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
