package fixtures

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/turbolytics/pixelator/pkg/table"
)

var firstNames = []string{"Ada", "Grace", "Alan", "Barbara", "Dennis", "Frances", "Ken", "Margaret", "Linus", "Radia"}
var lastNames = []string{"Lovelace", "Hopper", "Turing", "Liskov", "Ritchie", "Allen", "Thompson", "Hamilton", "Torvalds", "Perlman"}

var Columns = []string{
	"Record ID - Contact",
	"First Name",
	"Last Name",
	"linkedinUrl",
	"profilepicture",
	"Character Img Mario",
	"Placeholder Img Mario",
	"No Background Character Img Mario",
}

// Options shape a generated contact sheet.
type Options struct {
	Records int
	Seed    int64
	// InvalidEvery drops the profile picture of every nth row. 0 disables.
	InvalidEvery int
	// WithCharacters fills the character image column, as a sheet that
	// already went through pixel art generation would have it.
	WithCharacters bool
	ImageBaseURL   string
}

// Generate builds a synthetic contact sheet.
func Generate(opts Options) *table.Table {
	r := rand.New(rand.NewSource(opts.Seed))
	t := table.New(Columns)

	for i := 1; i <= opts.Records; i++ {
		first := firstNames[r.Intn(len(firstNames))]
		last := lastNames[r.Intn(len(lastNames))]
		id := fmt.Sprintf("%d", 100000+i)
		slug := fmt.Sprintf("%s-%s-%d", first, last, i)

		picture := fmt.Sprintf("%s/%s/400/400", opts.ImageBaseURL, slug)
		if opts.InvalidEvery > 0 && i%opts.InvalidEvery == 0 {
			picture = ""
		}
		character := ""
		if opts.WithCharacters {
			character = fmt.Sprintf("%s/%s-character/512/512", opts.ImageBaseURL, slug)
		}

		t.Append([]string{
			id,
			first,
			last,
			"https://www.linkedin.com/in/" + slug,
			picture,
			character,
			"",
			"",
		})
	}
	return t
}

func newGenerateCommand() *cobra.Command {
	var output string
	opts := Options{}

	var cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generates a synthetic contact CSV for local runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Records < 0 {
				return fmt.Errorf("records must not be negative")
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			if err := table.WriteCSV(w, Generate(opts)); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d records to %s\n", opts.Records, output)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Records, "records", "r", 10, "Number of records to generate")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&opts.InvalidEvery, "invalid-every", 0, "Leave the profile picture of every nth row empty")
	cmd.Flags().BoolVar(&opts.WithCharacters, "with-characters", false, "Fill the character image column")
	cmd.Flags().StringVar(&opts.ImageBaseURL, "image-base-url", "https://picsum.photos/seed", "Base URL of generated image links")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty")
	return cmd
}
