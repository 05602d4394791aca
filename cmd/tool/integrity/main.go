package integrity

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/blobstore"
	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/utils/log"
)

const (
	usage   = "integrity [namespace/period/source/name | glob]..."
	short   = "Verify the integrity hashes of persisted tables"
	long    = "This command reads the head and tail partitions of tables and checks their integrity hashes"
	example = "shmstore tool integrity --dir <path> --parallel 'equity/*/*/*'"

	// Flag descriptions.
	rootDirPathDesc = "set filesystem path of the root directory holding the tables, overriding the configuration"
	allDesc         = "check every table under the root directory"
	parallelDesc    = "run evaluation in parallel, default is false"
	remoteDesc      = "prefer newer remote copies, as a read would"
)

var (
	// Available flags.
	configFilePath string
	rootDirPath    string
	all            bool
	parallel       bool
	useRemote      bool

	// Cmd is the integrity command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"ic", "integritycheck"},
		Example: example,
		RunE:    executeIntegrity,
	}
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	Cmd.Flags().BoolVar(&all, "all", false, allDesc)
	Cmd.Flags().BoolVar(&parallel, "parallel", false, parallelDesc)
	Cmd.Flags().BoolVar(&useRemote, "remote", false, remoteDesc)
}

// executeIntegrity implements the integrity tool.
func executeIntegrity(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if !all && len(args) == 0 {
		return errors.New("name tables to check or pass --all")
	}
	cmd.SilenceUsage = true

	c, err := setup.Load(configFilePath)
	if err != nil {
		return err
	}
	defer c.Close()
	dir := c.GetCatalogDir()
	if rootDirPath != "" {
		dir = catalog.NewDirectory(rootDirPath)
	}
	log.Info("Root directory: %v", dir.Root())

	var remote blobstore.Remote
	if useRemote {
		if remote, err = c.GetRemote(ctx); err != nil {
			return err
		}
	}
	codec, err := persist.CodecByName(c.Config().Compression)
	if err != nil {
		return err
	}

	if all {
		args = []string{"*/*/*/*"}
	}
	var keys []catalog.TableKey
	for _, pattern := range args {
		matched, err := dir.ListTables(pattern)
		if err != nil {
			return err
		}
		keys = append(keys, matched...)
	}

	bad := Check(ctx, os.Stdout, dir, keys, remote, codec, parallel)
	if bad > 0 {
		return errors.Errorf("%d of %d tables failed verification", bad, len(keys))
	}
	return nil
}

// Check verifies each table and reports one line per table to w. It
// returns the number of tables that failed.
func Check(ctx context.Context, w io.Writer, dir *catalog.Directory, keys []catalog.TableKey,
	remote blobstore.Remote, codec persist.Codec, parallel bool,
) int {
	results := make([]error, len(keys))
	rows := make([]int64, len(keys))
	check := func(i int) {
		s := persist.NewSynchronizer(dir.PathTo(keys[i]), keys[i].String(), remote, codec)
		loaded, err := s.Verify(ctx)
		if err == nil {
			rows[i] = loaded.Header.Count
		}
		results[i] = err
	}

	if parallel {
		var wg sync.WaitGroup
		for i := range keys {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				check(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range keys {
			check(i)
		}
	}

	bad := 0
	for i, key := range keys {
		switch err := results[i]; {
		case err == nil:
			fmt.Fprintf(w, "ok\t%s\t%d rows\n", key, rows[i])
		case errors.Is(err, persist.ErrCorruption):
			bad++
			fmt.Fprintf(w, "CORRUPT\t%s\t%v\n", key, err)
		default:
			bad++
			fmt.Fprintf(w, "ERROR\t%s\t%v\n", key, err)
		}
	}
	return bad
}
