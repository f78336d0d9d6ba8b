package table

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func readIDs(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, sc.Err()
}

func newCheckCommand() *cobra.Command {
	var input, idsPath, column string

	var cmd = &cobra.Command{
		Use:   "check",
		Short: "Counts the rows of a CSV whose id appears in an id list",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readFile(input)
			if err != nil {
				return err
			}
			if !t.HasColumn(column) {
				return fmt.Errorf("%s has no %q column", input, column)
			}
			ids, err := readIDs(idsPath)
			if err != nil {
				return err
			}

			matched := 0
			for _, r := range t.Rows() {
				if _, ok := ids[r.Get(column)]; ok {
					matched++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Number of matched entries: %d\n", matched)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV to check")
	cmd.Flags().StringVar(&idsPath, "ids", "", "File with one record id per line")
	cmd.Flags().StringVar(&column, "column", "Record ID - Contact", "Id column of the CSV")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("ids")
	return cmd
}
