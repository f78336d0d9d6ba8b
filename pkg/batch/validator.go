package batch

import (
	"context"

	"github.com/turbolytics/pixelator/pkg/table"
)

// Validator turns a raw input row into a Record or rejects it with a
// *ValidationError. Implementations must be pure.
type Validator interface {
	Validate(index int, row *table.Row) (Record, error)
}

type ValidatorFunc func(index int, row *table.Row) (Record, error)

func (f ValidatorFunc) Validate(index int, row *table.Row) (Record, error) {
	return f(index, row)
}

// WorkAdapter performs the external work for a record. It may be slow and is
// invoked concurrently. Retries, if any, are the adapter's concern.
type WorkAdapter interface {
	Process(ctx context.Context, r Record) (Artifacts, error)
}

type AdapterFunc func(ctx context.Context, r Record) (Artifacts, error)

func (f AdapterFunc) Process(ctx context.Context, r Record) (Artifacts, error) {
	return f(ctx, r)
}

// ValidateTable runs v over every row of t, returning the accepted records in
// input order and the rejections.
func ValidateTable(v Validator, t *table.Table) ([]Record, []*ValidationError) {
	var records []Record
	var rejected []*ValidationError
	for i, row := range t.Rows() {
		rec, err := v.Validate(i, row)
		if err != nil {
			ve, ok := err.(*ValidationError)
			if !ok {
				ve = &ValidationError{Row: i, Reason: err.Error()}
			}
			rejected = append(rejected, ve)
			continue
		}
		rec.Index = i
		records = append(records, rec)
	}
	return records, rejected
}
