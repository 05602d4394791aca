// Package create makes new tables.
package create

import (
	"context"
	"fmt"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/utils/io"
)

const (
	usage   = "create <namespace/period/source/name>"
	short   = "Creates a new table"
	long    = "This command creates an empty table, persists it and publishes its shared segment"
	example = "shmstore create equity/1D/iex/AAPL --columns ts:timestamp:k,close:float64 --capacity 4096"

	columnsDesc  = "comma separated name:type[:k] columns; key columns first"
	capacityDesc = "initial row capacity of the shared segment"

	defaultCapacity = 1024
)

var (
	// Cmd is the create command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"new", "init"},
		Example:    example,
		Args:       cobra.ExactArgs(1),
		RunE:       executeCreate,
	}

	configFilePath string
	columns        string
	capacity       int64
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
	Cmd.Flags().StringVar(&columns, "columns", "", columnsDesc)
	Cmd.Flags().Int64Var(&capacity, "capacity", defaultCapacity, capacityDesc)
	_ = Cmd.MarkFlagRequired("columns")
}

// ParseColumns parses the --columns value into a schema and its key names.
func ParseColumns(s string) ([]io.DataShape, []string, error) {
	var (
		dsv  []io.DataShape
		keys []string
	)
	for _, part := range strings.Split(s, ",") {
		ds, err := io.ParseDataShape(strings.TrimSpace(part))
		if err != nil {
			return nil, nil, err
		}
		if ds.Key {
			keys = append(keys, ds.Name)
		}
		dsv = append(dsv, ds)
	}
	return dsv, keys, nil
}

func executeCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	key, err := catalog.ParseTableKey(args[0])
	if err != nil {
		return err
	}
	dsv, keys, err := ParseColumns(columns)
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

	t, err := executor.Create(ctx, reg, key, dsv, keys, capacity, opts)
	if err != nil {
		return err
	}
	defer t.Free()
	rowSize := io.RecordLength(t.DataShapes())
	fmt.Printf("created %s %s, %d rows of %s (%s reserved)\n", key, io.SchemaString(t.DataShapes()),
		t.Cap(), bytefmt.ByteSize(uint64(rowSize)), bytefmt.ByteSize(uint64(rowSize*t.Cap())))
	return nil
}
