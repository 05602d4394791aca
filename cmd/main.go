package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/cmd/create"
	"github.com/alpacahq/shmstore/cmd/persist"
	"github.com/alpacahq/shmstore/cmd/show"
	"github.com/alpacahq/shmstore/cmd/subscribe"
	"github.com/alpacahq/shmstore/cmd/tool"
	"github.com/alpacahq/shmstore/utils"
	"github.com/alpacahq/shmstore/utils/log"
)

// flagPrintVersion set flag to show current shmstore version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use: "shmstore",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %+v", utils.Tag)
				log.Info("commit hash: %+v", utils.GitHash)
				log.Info("utc build time: %+v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}
	defer log.Sync()

	// Adds subcommands and version flag.
	c.AddCommand(create.Cmd)
	c.AddCommand(show.Cmd)
	c.AddCommand(persist.Cmd)
	c.AddCommand(subscribe.Cmd)
	c.AddCommand(tool.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
