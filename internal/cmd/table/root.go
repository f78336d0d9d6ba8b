package table

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "table",
		Short: "Offline spreadsheet utilities",
	}
	cmd.AddCommand(newMergeCommand())
	cmd.AddCommand(newCheckCommand())
	return cmd
}
