package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\ufeff"

// ErrNoHeader is returned when the input does not contain a header line.
var ErrNoHeader = errors.New("table has no header row")

// ReadCSV parses a headered CSV document. Rows may be ragged; blank lines are
// skipped by the csv reader.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	t := New(header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", t.Len()+1, err)
		}
		t.Append(rec)
	}
	return t, nil
}

// WriteCSV writes the header followed by every row padded to the header width.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return err
	}
	for _, r := range t.rows {
		if err := cw.Write(r.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVEncoder writes tables as CSV documents.
type CSVEncoder struct{}

func (CSVEncoder) Encode(w io.Writer, t *Table) error {
	return WriteCSV(w, t)
}

func (CSVEncoder) Extension() string {
	return "csv"
}

func (CSVEncoder) ContentType() string {
	return "text/csv"
}
