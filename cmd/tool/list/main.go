package list

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/executor/shm"
)

const (
	usage   = "list [glob]"
	short   = "List persisted tables"
	long    = "This command lists the tables under the root directory whose key matches the glob, with their partition sizes"
	example = "shmstore tool list 'equity/1D/*/*'"

	defaultPattern = "*/*/*/*"
)

var (
	configFilePath string

	// Cmd is the list command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"ls"},
		Example: example,
		Args:    cobra.MaximumNArgs(1),
		RunE:    executeList,
	}
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
}

func executeList(cmd *cobra.Command, args []string) error {
	pattern := defaultPattern
	if len(args) == 1 {
		pattern = args[0]
	}
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
	return List(os.Stdout, c.GetCatalogDir(), reg, pattern)
}

// List writes one line per table matching pattern: its key, whether its
// segment is mapped on this host and the size of each partition.
func List(w io.Writer, dir *catalog.Directory, reg *shm.Registry, pattern string) error {
	keys, err := dir.ListTables(pattern)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tMAPPED\tHEAD\tTAIL")
	for _, key := range keys {
		mapped := "no"
		if reg.Exists(key.SegmentName()) {
			mapped = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key, mapped,
			fileSize(dir, key, persist.HeadFile), fileSize(dir, key, persist.TailFile))
	}
	return tw.Flush()
}

func fileSize(dir *catalog.Directory, key catalog.TableKey, name string) string {
	fi, err := os.Stat(filepath.Join(dir.PathTo(key), name))
	if err != nil {
		return "-"
	}
	return bytefmt.ByteSize(uint64(fi.Size()))
}
