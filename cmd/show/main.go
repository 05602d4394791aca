// Package show prints the header and rows of a table.
package show

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor"
	sio "github.com/alpacahq/shmstore/utils/io"
)

const (
	usage   = "show <namespace/period/source/name>"
	short   = "Prints a table"
	long    = "This command maps or reads a table and prints its header and the last rows"
	example = "shmstore show equity/1D/iex/AAPL --limit 20"

	limitDesc    = "number of rows to print from the end of the table, 0 for none"
	defaultLimit = 10
)

var (
	// Cmd is the show command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"cat"},
		Example: example,
		Args:    cobra.ExactArgs(1),
		RunE:    executeShow,
	}

	configFilePath string
	limit          int
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
	Cmd.Flags().IntVarP(&limit, "limit", "n", defaultLimit, limitDesc)
}

func executeShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	key, err := catalog.ParseTableKey(args[0])
	if err != nil {
		return err
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
	opts, err := c.GetOptions(ctx)
	if err != nil {
		return err
	}
	t, err := executor.Open(ctx, reg, key, opts)
	if err != nil {
		return err
	}
	defer t.Free()

	h, err := t.Header()
	if err != nil {
		return err
	}
	PrintHeader(os.Stdout, key, h)
	if limit <= 0 {
		return nil
	}
	cs, err := t.ColumnSeries(int(h.Count)-limit, int(h.Count))
	if err != nil {
		return err
	}
	return PrintRows(os.Stdout, cs)
}

// PrintHeader writes a human readable summary of h.
func PrintHeader(w io.Writer, key catalog.TableKey, h *sio.Header) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "table\t%s\n", key)
	fmt.Fprintf(tw, "schema\t%s\n", sio.SchemaString(h.Shapes))
	fmt.Fprintf(tw, "rows\t%d of %d (%s of %s)\n", h.Count, h.Capacity,
		bytefmt.ByteSize(uint64(h.Count*h.ItemSize)), bytefmt.ByteSize(uint64(h.Capacity*h.ItemSize)))
	tail := "none"
	if h.HasTail {
		tail = fmt.Sprintf("%d rows", h.Count-h.HeadCount)
	}
	fmt.Fprintf(tw, "partitions\thead %d rows, tail %s\n", h.HeadCount, tail)
	fmt.Fprintf(tw, "unpersisted from\trow %d\n", h.MinChangedID)
	fmt.Fprintf(tw, "modified\t%s\n", h.ModTime().Format("2006-01-02 15:04:05.000000 MST"))
	_ = tw.Flush()
}

// PrintRows writes cs as an aligned table.
func PrintRows(w io.Writer, cs *sio.ColumnSeries) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	names := cs.GetColumnNames()
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	for i := 0; i < cs.Len(); i++ {
		row := cs.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
