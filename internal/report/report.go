// Package report renders tabular exports. Renderers only format data handed
// to them; they never read billing state.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported_export_format")

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatPDF, FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/pdf"
	}
}

type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

type Column struct {
	Header string
	Align  Align
	// Numeric cells hold plain decimal strings and are written as numbers where the format allows.
	Numeric bool
}

// Table is one exported document: a heading block, rows and a summary.
type Table struct {
	Title   string
	Meta    []Field
	Columns []Column
	Rows    [][]string
	Summary []Field
}

type Field struct {
	Label string
	Value string
}

type Options struct {
	Author    string
	SheetName string
}

type Renderer interface {
	Format() Format
	Render(ctx context.Context, table Table, opts Options) ([]byte, error)
}

// Registry picks a renderer by format.
type Registry struct {
	renderers map[Format]Renderer
}

func NewRegistry(renderers ...Renderer) *Registry {
	r := &Registry{renderers: make(map[Format]Renderer, len(renderers))}
	for _, renderer := range renderers {
		r.renderers[renderer.Format()] = renderer
	}
	return r
}

// Default carries every built-in renderer.
func Default() *Registry {
	return NewRegistry(NewPDF(), NewCSV(), NewXLSX())
}

func (r *Registry) For(format Format) (Renderer, error) {
	renderer, ok := r.renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return renderer, nil
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return errors.New("report table has no columns")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("report row %d has %d cells, want %d", i+1, len(row), len(t.Columns))
		}
	}
	return nil
}
