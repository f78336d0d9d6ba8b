package table

import "strings"

// NoneValue is the sentinel some exports write into empty image columns.
const NoneValue = "NONE"

// Header is the ordered set of column names shared by every row of a table.
// Column order is kept exactly as read so the table can be written back out
// without reordering anything.
type Header struct {
	names []string
	index map[string]int
}

// NormalizeName is the form used to match column names: trimmed and lower cased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newHeader(names []string) *Header {
	h := &Header{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, n := range names {
		h.add(n)
	}
	return h
}

func (h *Header) add(name string) int {
	h.names = append(h.names, name)
	key := NormalizeName(name)
	// the first occurrence wins for lookups when an export repeats a column
	if _, ok := h.index[key]; !ok {
		h.index[key] = len(h.names) - 1
	}
	return len(h.names) - 1
}

func (h *Header) lookup(name string) (int, bool) {
	i, ok := h.index[NormalizeName(name)]
	return i, ok
}

func (h *Header) clone() *Header {
	c := &Header{
		names: append([]string(nil), h.names...),
		index: make(map[string]int, len(h.index)),
	}
	for k, v := range h.index {
		c.index[k] = v
	}
	return c
}

// Row is a single line of a table. Values are kept raw; Get trims.
type Row struct {
	header *Header
	values []string
}

// Len returns the number of columns in the row's table.
func (r *Row) Len() int {
	return len(r.header.names)
}

// Get returns the trimmed value for a column, matched case and whitespace
// insensitively. Missing columns read as empty.
func (r *Row) Get(column string) string {
	return strings.TrimSpace(r.Raw(column))
}

// Raw returns the untrimmed value of a column.
func (r *Row) Raw(column string) string {
	i, ok := r.header.lookup(column)
	if !ok || i >= len(r.values) {
		return ""
	}
	return r.values[i]
}

// Populated reports whether a column holds a value other than blank or NONE.
func (r *Row) Populated(column string) bool {
	v := r.Get(column)
	return v != "" && v != NoneValue
}

// Set writes a value into an existing column. It reports false when the
// column is not part of the table.
func (r *Row) Set(column, value string) bool {
	i, ok := r.header.lookup(column)
	if !ok {
		return false
	}
	r.pad()
	r.values[i] = value
	return true
}

// Values returns the row padded to the header width.
func (r *Row) Values() []string {
	out := make([]string, len(r.header.names))
	copy(out, r.values)
	return out
}

func (r *Row) pad() {
	if len(r.values) < len(r.header.names) {
		r.values = append(r.values, make([]string, len(r.header.names)-len(r.values))...)
	}
}
