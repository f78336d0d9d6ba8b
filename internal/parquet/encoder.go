package parquet

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/turbolytics/pixelator/pkg/table"
)

// Encoder writes tables as parquet files with one optional UTF8 column per
// header. Empty cells are written as nulls.
type Encoder struct {
	Parallelism int64
}

func (e Encoder) Extension() string {
	return "parquet"
}

func (e Encoder) ContentType() string {
	return "application/vnd.apache.parquet"
}

func (e Encoder) Encode(w io.Writer, t *table.Table) error {
	np := e.Parallelism
	if np < 1 {
		np = 1
	}

	schema := StringSchema(t.Columns())
	pw, err := writer.NewCSVWriter(schema.ToGoParquetSchema(), writerfile.NewWriterFile(w), np)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, row := range t.Rows() {
		values := row.Values()
		rec := make([]*string, len(schema))
		for j := range rec {
			if j < len(values) && values[j] != "" {
				v := values[j]
				rec[j] = &v
			}
		}
		if err := pw.WriteString(rec); err != nil {
			return fmt.Errorf("parquet row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet flush: %w", err)
	}
	return nil
}
