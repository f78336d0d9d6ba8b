package storage

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "storage",
		Short: "Object storage maintenance",
	}
	cmd.AddCommand(newPruneCommand())
	return cmd
}
