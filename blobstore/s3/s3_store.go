package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alpacahq/shmstore/blobstore"
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements blobstore.Remote for S3.
type Store struct {
	client Client
	bucket string
	prefix string
}

// NewStore creates a new S3 blob store.
// rootPrefix is prepended to all keys (e.g. "tables/").
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func (s *Store) Download(ctx context.Context, remoteKey, localPath string, force bool) ([]byte, time.Time, time.Time, error) {
	localMtime, err := blobstore.LocalMtime(localPath)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	key := s.key(remoteKey)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, localMtime, time.Time{}, nil
		}
		return nil, localMtime, time.Time{}, err
	}
	var lastModified time.Time
	if head.LastModified != nil {
		lastModified = *head.LastModified
	}
	remoteMtime := blobstore.ParseMtime(head.Metadata[blobstore.MetadataKey], lastModified)
	if !blobstore.ShouldFetch(localMtime, remoteMtime, force) {
		return nil, localMtime, remoteMtime, nil
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, localMtime, remoteMtime, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, localMtime, remoteMtime, err
	}
	return data, localMtime, remoteMtime, nil
}

func (s *Store) Upload(ctx context.Context, data []byte, remoteKey string, mtime time.Time) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(remoteKey)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{blobstore.MetadataKey: blobstore.FormatMtime(mtime)},
	})
	return err
}

func (s *Store) Delete(ctx context.Context, remoteKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(remoteKey)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
