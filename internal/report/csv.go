package report

import (
	"bytes"
	"context"
	"encoding/csv"
)

type CSVRenderer struct{}

func NewCSV() *CSVRenderer { return &CSVRenderer{} }

func (CSVRenderer) Format() Format { return FormatCSV }

// Render writes the header row and data rows. Meta and summary fields follow
// as two column label,value rows after a blank line.
func (CSVRenderer) Render(ctx context.Context, table Table, _ Options) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c.Header
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return nil, err
	}

	fields := append(append([]Field{}, table.Meta...), table.Summary...)
	if len(fields) > 0 {
		if err := w.Write([]string{""}); err != nil {
			return nil, err
		}
		for _, f := range fields {
			if err := w.Write([]string{f.Label, f.Value}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
