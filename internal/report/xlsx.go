package report

import (
	"context"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

type XLSXRenderer struct{}

func NewXLSX() *XLSXRenderer { return &XLSXRenderer{} }

func (XLSXRenderer) Format() Format { return FormatXLSX }

func (XLSXRenderer) Render(ctx context.Context, table Table, opts Options) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(opts.SheetName, table.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	if opts.Author != "" {
		if err := f.SetDocProps(&excelize.DocProperties{Creator: opts.Author, Title: table.Title}); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	row := 1
	if table.Title != "" {
		if err := f.SetCellValue(sheet, "A1", table.Title); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, "A1", "A1", bold); err != nil {
			return nil, err
		}
		row = 2
	}
	for _, field := range table.Meta {
		if err := setRow(f, sheet, row, []string{field.Label, field.Value}, nil); err != nil {
			return nil, err
		}
		row++
	}
	if row > 1 {
		row++
	}

	header := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c.Header
	}
	if err := setRow(f, sheet, row, header, nil); err != nil {
		return nil, err
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(header), row)
	if err := f.SetCellStyle(sheet, first, last, bold); err != nil {
		return nil, err
	}
	row++

	for _, cells := range table.Rows {
		if err := setRow(f, sheet, row, cells, table.Columns); err != nil {
			return nil, err
		}
		row++
	}

	if len(table.Summary) > 0 {
		row++
		for _, field := range table.Summary {
			if err := setRow(f, sheet, row, []string{field.Label, field.Value}, nil); err != nil {
				return nil, err
			}
			row++
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(table.Columns))
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, cells []string, columns []Column) error {
	for i, value := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if columns != nil && columns[i].Numeric {
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				if err := f.SetCellFloat(sheet, cell, n, 2, 64); err != nil {
					return err
				}
				continue
			}
		}
		if err := f.SetCellStr(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}

func sheetName(names ...string) string {
	for _, name := range names {
		name = strings.Map(func(r rune) rune {
			if strings.ContainsRune(`[]:*?/\`, r) {
				return '-'
			}
			return r
		}, strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if len([]rune(name)) > maxSheetName {
			name = string([]rune(name)[:maxSheetName])
		}
		return name
	}
	return "Report"
}
