package pipelines

import (
	"regexp"
	"strings"

	"github.com/turbolytics/pixelator/pkg/batch"
	"github.com/turbolytics/pixelator/pkg/table"
)

const (
	ColumnRecordID    = "Record ID - Contact"
	ColumnLinkedinURL = "linkedinUrl"
	ColumnFirstName   = "First Name"
	ColumnLastName    = "Last Name"
)

var profileURLRe = regexp.MustCompile(`(?i)linkedin\.com/in/[^/?#\s]+`)

// RowValidator accepts contact rows that carry an id, a usable source image
// and no existing output.
type RowValidator struct {
	SourceColumn string
	// SkipColumn marks rows already processed. Empty disables the check.
	SkipColumn string
	// SkipNone makes any non-blank SkipColumn value, NONE included, count as
	// processed. Otherwise NONE reads as empty.
	SkipNone bool
}

func (v RowValidator) Validate(index int, row *table.Row) (batch.Record, error) {
	reject := func(reason string) (batch.Record, error) {
		return batch.Record{}, &batch.ValidationError{Row: index, Reason: reason}
	}

	id := row.Get(ColumnRecordID)
	if id == "" {
		return reject("missing record id")
	}

	profile := row.Get(ColumnLinkedinURL)
	if profile != "" && !profileURLRe.MatchString(profile) {
		return reject("not a linkedin profile url: " + profile)
	}

	if !row.Populated(v.SourceColumn) {
		return reject("missing " + v.SourceColumn)
	}

	if v.SkipColumn != "" && v.done(row) {
		return reject(v.SkipColumn + " already set")
	}

	return batch.Record{
		ID:           id,
		ReferenceURL: profile,
		DisplayName:  strings.TrimSpace(row.Get(ColumnFirstName) + " " + row.Get(ColumnLastName)),
		SourceImage:  row.Get(v.SourceColumn),
	}, nil
}

func (v RowValidator) done(row *table.Row) bool {
	if v.SkipNone {
		return row.Get(v.SkipColumn) != ""
	}
	return row.Populated(v.SkipColumn)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Label turns a display name into the label sent with generation requests.
func Label(name string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(name), "_")
}
