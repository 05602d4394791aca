package executor

import (
	"time"

	"github.com/alpacahq/shmstore/blobstore"
	"github.com/alpacahq/shmstore/executor/partition"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/replication"
)

const (
	DefaultRootDirectory = "data"
	DefaultLockTimeout   = 5 * time.Second
)

// Options are shared by every table a process opens.
type Options struct {
	// RootDirectory holds the persisted partitions, laid out by catalog.
	RootDirectory string
	// Remote, when set, receives a compressed copy of every partition
	// written and is consulted for newer copies on read.
	Remote blobstore.Remote
	Codec  persist.Codec
	// Partition decides the head/tail boundary; nil means calendar years
	// in UTC.
	Partition   partition.Policy
	LockTimeout time.Duration
	// Clock stamps modification times; nil means time.Now.
	Clock func() time.Time
	// Publisher, when set, is handed every batch a handle upserts so
	// replicas can follow the table.
	Publisher *replication.Publisher
}

func (o Options) withDefaults() Options {
	if o.RootDirectory == "" {
		o.RootDirectory = DefaultRootDirectory
	}
	if o.Codec == nil {
		o.Codec, _ = persist.CodecByName("")
	}
	if o.Partition == nil {
		o.Partition = partition.Calendar{Location: time.UTC}
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
