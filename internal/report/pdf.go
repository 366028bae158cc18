package report

import (
	"context"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const gridColumns = 12

type PDFRenderer struct{}

func NewPDF() *PDFRenderer { return &PDFRenderer{} }

func (PDFRenderer) Format() Format { return FormatPDF }

func (PDFRenderer) Render(ctx context.Context, table Table, opts Options) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}

	builder := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		})
	if opts.Author != "" {
		builder = builder.WithAuthor(opts.Author, true)
	}
	m := maroto.New(builder.Build())

	if table.Title != "" {
		m.AddRow(12, text.NewCol(gridColumns, table.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}))
	}
	for _, field := range table.Meta {
		m.AddRow(6,
			text.NewCol(4, field.Label, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(8, field.Value, props.Text{Size: 9}),
		)
	}
	m.AddRow(6, col.New(gridColumns))

	widths := columnWidths(len(table.Columns))
	header := make([]core.Col, 0, len(table.Columns))
	for i, c := range table.Columns {
		header = append(header, text.NewCol(widths[i], c.Header, props.Text{
			Size: 9, Style: fontstyle.Bold, Align: textAlign(c.Align),
		}))
	}
	m.AddRow(8, header...)

	for _, cells := range table.Rows {
		row := make([]core.Col, 0, len(cells))
		for i, value := range cells {
			row = append(row, text.NewCol(widths[i], value, props.Text{
				Size: 9, Align: textAlign(table.Columns[i].Align),
			}))
		}
		m.AddRow(8, row...)
	}

	for _, field := range table.Summary {
		m.AddRow(7,
			col.New(6),
			text.NewCol(3, field.Label, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(3, field.Value, props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// columnWidths spreads the 12 column grid, giving the remainder to the first column.
func columnWidths(n int) []int {
	widths := make([]int, n)
	if n == 0 {
		return widths
	}
	base := gridColumns / n
	if base == 0 {
		base = 1
	}
	for i := range widths {
		widths[i] = base
	}
	if rest := gridColumns - base*n; rest > 0 {
		widths[0] += rest
	}
	return widths
}

func textAlign(a Align) align.Type {
	if a == AlignRight {
		return align.Right
	}
	return align.Left
}
