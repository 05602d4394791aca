package di

import (
	"context"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/blobstore"
	"github.com/alpacahq/shmstore/blobstore/minio"
	"github.com/alpacahq/shmstore/blobstore/s3"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/executor/partition"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/utils/log"
)

// GetRemote connects the configured remote store, or returns nil when none
// is configured.
func (c *Container) GetRemote(ctx context.Context) (blobstore.Remote, error) {
	r := c.config.Remote
	if r == nil {
		return nil, nil
	}
	switch r.Type {
	case "dir":
		log.Debug("mirroring partitions to %s", r.Path)
		return blobstore.NewDirStore(r.Path), nil
	case "minio":
		client, err := minio.Dial(r.Endpoint, r.AccessKey, r.SecretKey, r.UseSSL)
		if err != nil {
			return nil, errors.Wrapf(err, "connect to minio at %s", r.Endpoint)
		}
		log.Debug("mirroring partitions to minio bucket %s", r.Bucket)
		return minio.NewStore(client, r.Bucket, r.Prefix), nil
	case "s3":
		client, err := s3.Dial(ctx, r.Region, r.Endpoint, r.AccessKey, r.SecretKey)
		if err != nil {
			return nil, errors.Wrap(err, "load aws configuration")
		}
		log.Debug("mirroring partitions to s3 bucket %s", r.Bucket)
		return s3.NewStore(client, r.Bucket, r.Prefix), nil
	}
	return nil, errors.Errorf("unknown remote type %q", r.Type)
}

// GetOptions turns the configuration into table options.
func (c *Container) GetOptions(ctx context.Context) (executor.Options, error) {
	var opts executor.Options
	codec, err := persist.CodecByName(c.config.Compression)
	if err != nil {
		return opts, err
	}
	policy, err := partition.ParsePolicy(c.config.Partition, c.config.Timezone)
	if err != nil {
		return opts, err
	}
	remote, err := c.GetRemote(ctx)
	if err != nil {
		return opts, err
	}
	pub, err := c.GetPublisher()
	if err != nil {
		return opts, err
	}
	return executor.Options{
		RootDirectory: c.GetAbsRootDir(),
		Remote:        remote,
		Codec:         codec,
		Partition:     policy,
		LockTimeout:   c.config.LockTimeout,
		Publisher:     pub,
	}, nil
}
