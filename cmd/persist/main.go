// Package persist writes the changed partitions of tables to storage.
package persist

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/replication"
	"github.com/alpacahq/shmstore/utils/log"
)

const (
	usage   = "persist <namespace/period/source/name | glob>..."
	short   = "Persists tables"
	long    = "This command writes the partitions of each table changed since its last persist, retrying while writers hold the table"
	example = "shmstore persist 'equity/1D/*/*'"

	retriesDesc   = "retry interval on lock timeouts; doubles after each attempt"
	deadlineDesc  = "give up on a table after this long"
	defaultRetry  = 100 * time.Millisecond
	defaultExpiry = time.Minute
)

var (
	// Cmd is the persist command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"save", "flush", "sync"},
		Example:    example,
		Args:       cobra.MinimumNArgs(1),
		RunE:       executePersist,
	}

	configFilePath string
	retryInterval  time.Duration
	deadline       time.Duration
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
	Cmd.Flags().DurationVar(&retryInterval, "retry", defaultRetry, retriesDesc)
	Cmd.Flags().DurationVar(&deadline, "deadline", defaultExpiry, deadlineDesc)
}

func executePersist(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cmd.SilenceUsage = true

	c, err := setup.Load(configFilePath)
	if err != nil {
		return err
	}
	defer c.Close()
	reg, err := c.GetRegistry()
	if err != nil {
		return err
	}
	opts, err := c.GetOptions(ctx)
	if err != nil {
		return err
	}

	var keys []catalog.TableKey
	for _, pattern := range args {
		matched, err := c.GetCatalogDir().ListTables(pattern)
		if err != nil {
			return err
		}
		keys = append(keys, matched...)
	}
	if len(keys) == 0 {
		return catalog.NotFoundError(fmt.Sprint(args))
	}

	var failed int
	for _, key := range keys {
		if !reg.Exists(key.SegmentName()) {
			// nothing in memory can differ from storage
			log.Debug("%s is not mapped on this host, skipping", key)
			continue
		}
		if err := PersistTable(ctx, reg, key, opts, retryInterval, deadline); err != nil {
			log.Error("persist %s: %v", key, err)
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d tables failed to persist", failed, len(keys))
	}
	return nil
}

// PersistTable maps key and persists it, retrying lock timeouts until
// deadline passes.
func PersistTable(ctx context.Context, reg *shm.Registry, key catalog.TableKey, opts executor.Options,
	interval, deadline time.Duration,
) error {
	t, err := executor.Map(reg, key, opts)
	if err != nil {
		return err
	}
	defer t.Free()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return replication.NewRetryer(func(ctx context.Context) error {
		w, err := t.Persist(ctx)
		if errors.Is(err, executor.ErrLockTimeout) {
			return errors.Wrap(replication.ErrRetryable, err.Error())
		}
		if err != nil {
			return err
		}
		if w.Head || w.Tail || w.TailRemoved {
			fmt.Printf("%s: head=%v tail=%v tail removed=%v, %s written, %s uploaded\n", key,
				w.Head, w.Tail, w.TailRemoved,
				bytefmt.ByteSize(uint64(w.BytesWritten)), bytefmt.ByteSize(uint64(w.BytesUploaded)))
		} else {
			fmt.Printf("%s: up to date\n", key)
		}
		return nil
	}, interval, 2).Run(ctx)
}
