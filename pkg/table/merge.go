package table

import "fmt"

// MergeOptions describes how a secondary table is joined onto a main table.
type MergeOptions struct {
	// MainKey is the join column in the main table.
	MainKey string
	// OtherKey is the join column in the other table.
	OtherKey string
	// Columns copied from the other table, in output order.
	Columns []ColumnMapping
}

// ColumnMapping copies the From column of the other table into the To column
// of the main table.
type ColumnMapping struct {
	From string
	To   string
}

// Merge returns a copy of main where every mapped column is filled from the
// row of other sharing the join key. Rows without a match get empty values,
// matching how the sheets were merged by hand.
func Merge(main, other *Table, opts MergeOptions) (*Table, error) {
	if !main.HasColumn(opts.MainKey) {
		return nil, fmt.Errorf("main table has no %q column", opts.MainKey)
	}
	if !other.HasColumn(opts.OtherKey) {
		return nil, fmt.Errorf("other table has no %q column", opts.OtherKey)
	}

	byKey := make(map[string]*Row, other.Len())
	for _, r := range other.rows {
		byKey[r.Get(opts.OtherKey)] = r
	}

	out := main.Clone()
	for _, c := range opts.Columns {
		out.EnsureColumn(c.To)
	}
	for _, r := range out.rows {
		match := byKey[r.Get(opts.MainKey)]
		for _, c := range opts.Columns {
			v := ""
			if match != nil {
				v = match.Get(c.From)
			}
			r.Set(c.To, v)
		}
	}
	return out, nil
}
