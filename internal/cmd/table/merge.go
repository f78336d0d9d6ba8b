package table

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turbolytics/pixelator/pkg/table"
)

func readFile(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// parseMappings reads "from" or "from=to" column mappings.
func parseMappings(args []string) []table.ColumnMapping {
	out := make([]table.ColumnMapping, 0, len(args))
	for _, s := range args {
		from, to, ok := strings.Cut(s, "=")
		if !ok {
			to = from
		}
		out = append(out, table.ColumnMapping{From: strings.TrimSpace(from), To: strings.TrimSpace(to)})
	}
	return out
}

func newMergeCommand() *cobra.Command {
	var mainPath, otherPath, output string
	var columns []string
	opts := table.MergeOptions{}

	var cmd = &cobra.Command{
		Use:   "merge",
		Short: "Copies columns from a secondary CSV onto a main CSV by record id",
		RunE: func(cmd *cobra.Command, args []string) error {
			main, err := readFile(mainPath)
			if err != nil {
				return err
			}
			other, err := readFile(otherPath)
			if err != nil {
				return err
			}

			opts.Columns = parseMappings(columns)
			merged, err := table.Merge(main, other, opts)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return table.WriteCSV(w, merged)
		},
	}

	cmd.Flags().StringVar(&mainPath, "main", "", "Main CSV")
	cmd.Flags().StringVar(&otherPath, "other", "", "CSV the columns are copied from")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty")
	cmd.Flags().StringVar(&opts.MainKey, "main-key", "Record ID - Company", "Join column of the main CSV")
	cmd.Flags().StringVar(&opts.OtherKey, "other-key", "Record ID", "Join column of the other CSV")
	cmd.Flags().StringSliceVar(&columns, "column", []string{"Favicon url", "competitor url"}, "Column to copy, as name or from=to")
	cmd.MarkFlagRequired("main")
	cmd.MarkFlagRequired("other")
	return cmd
}
