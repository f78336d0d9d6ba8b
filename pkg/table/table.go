// Package table holds the tabular model shared by the readers, the batch
// engine and the writers: an ordered header and rows of raw string values.
package table

// Table is an ordered collection of rows sharing one header.
type Table struct {
	header *Header
	rows   []*Row
}

// New creates an empty table with the given columns.
func New(columns []string) *Table {
	return &Table{header: newHeader(columns)}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.header.names...)
}

// HasColumn reports whether a column exists (case and whitespace insensitive).
func (t *Table) HasColumn(name string) bool {
	_, ok := t.header.lookup(name)
	return ok
}

// EnsureColumn appends the column when it is missing. Existing rows read the
// new column as empty.
func (t *Table) EnsureColumn(name string) {
	if t.HasColumn(name) {
		return
	}
	t.header.add(name)
}

// Append adds a row. Values beyond the header width are dropped so columns
// added later never alias them; short rows are padded on write.
func (t *Table) Append(values []string) *Row {
	if len(values) > len(t.header.names) {
		values = values[:len(t.header.names)]
	}
	r := &Row{header: t.header, values: append([]string(nil), values...)}
	t.rows = append(t.rows, r)
	return r
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the row at index i.
func (t *Table) Row(i int) *Row {
	return t.rows[i]
}

// Rows returns the rows in input order.
func (t *Table) Rows() []*Row {
	return t.rows
}

// Clone deep copies the table so it can be modified without touching the
// original.
func (t *Table) Clone() *Table {
	c := &Table{
		header: t.header.clone(),
		rows:   make([]*Row, len(t.rows)),
	}
	for i, r := range t.rows {
		c.rows[i] = &Row{header: c.header, values: append([]string(nil), r.values...)}
	}
	return c
}
