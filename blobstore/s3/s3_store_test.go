package s3

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/blobstore"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.HeadObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockS3Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.DeleteObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func keyIs(key string) interface{} {
	return mock.MatchedBy(func(in interface{}) bool {
		switch v := in.(type) {
		case *s3.HeadObjectInput:
			return *v.Key == key
		case *s3.GetObjectInput:
			return *v.Key == key
		case *s3.PutObjectInput:
			return *v.Key == key
		case *s3.DeleteObjectInput:
			return *v.Key == key
		}
		return false
	})
}

func TestDownloadMissing(t *testing.T) {
	t.Parallel()

	client := new(MockS3Client)
	store := NewStore(client, "bucket", "prefix")
	client.On("HeadObject", mock.Anything, keyIs("prefix/t/head.bin.zst")).Return(nil, &types.NotFound{}).Once()

	data, local, remote, err := store.Download(context.Background(), "t/head.bin.zst", filepath.Join(t.TempDir(), "head.bin"), false)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.True(t, local.IsZero())
	assert.True(t, remote.IsZero())
	client.AssertExpectations(t)
}

func TestDownloadNewerRemote(t *testing.T) {
	t.Parallel()

	localPath := filepath.Join(t.TempDir(), "head.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("old"), 0o600))
	localTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, blobstore.TouchMtime(localPath, localTime))

	client := new(MockS3Client)
	store := NewStore(client, "bucket", "")
	remoteTime := localTime.Add(time.Minute)
	client.On("HeadObject", mock.Anything, keyIs("k")).Return(&s3.HeadObjectOutput{
		LastModified: aws.Time(remoteTime.Add(time.Hour)),
		Metadata:     map[string]string{"mtime": blobstore.FormatMtime(remoteTime)},
	}, nil).Once()
	client.On("GetObject", mock.Anything, keyIs("k")).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("new")),
	}, nil).Once()

	data, local, remote, err := store.Download(context.Background(), "k", localPath, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
	assert.True(t, localTime.Equal(local))
	assert.True(t, remoteTime.Equal(remote))
	client.AssertExpectations(t)
}

func TestDownloadLocalUpToDate(t *testing.T) {
	t.Parallel()

	localPath := filepath.Join(t.TempDir(), "tail.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("x"), 0o600))
	mtime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, blobstore.TouchMtime(localPath, mtime))

	client := new(MockS3Client)
	store := NewStore(client, "bucket", "")
	client.On("HeadObject", mock.Anything, keyIs("k")).Return(&s3.HeadObjectOutput{
		Metadata: map[string]string{"mtime": blobstore.FormatMtime(mtime)},
	}, nil).Once()

	data, _, _, err := store.Download(context.Background(), "k", localPath, false)
	require.NoError(t, err)
	assert.Nil(t, data)
	client.AssertNotCalled(t, "GetObject", mock.Anything, mock.Anything)
}

func TestUploadCarriesMtime(t *testing.T) {
	t.Parallel()

	client := new(MockS3Client)
	store := NewStore(client, "bucket", "root")
	mtime := time.Date(2026, 5, 5, 5, 5, 5, 5, time.UTC)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "root/t/tail.bin.zst" && in.Metadata["mtime"] == blobstore.FormatMtime(mtime)
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("DeleteObject", mock.Anything, keyIs("root/gone")).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, store.Upload(context.Background(), []byte("abc"), "t/tail.bin.zst", mtime))
	require.NoError(t, store.Delete(context.Background(), "gone"))
	client.AssertExpectations(t)
}
