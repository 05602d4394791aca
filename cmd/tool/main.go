package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/cmd/tool/integrity"
	"github.com/alpacahq/shmstore/cmd/tool/list"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified maintenance tool against persisted tables"
	toolExample   = "shmstore tool integrity --all"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		SuggestFor: []string{"list", "integrity"},
		Example:    toolExample,
	}
)

func init() {
	Cmd.AddCommand(integrity.Cmd)
	Cmd.AddCommand(list.Cmd)
}
