package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTable() Table {
	return Table{
		Title: "Invoice INV-000007",
		Meta:  []Field{{Label: "Status", Value: "SENT"}},
		Columns: []Column{
			{Header: "Description"},
			{Header: "Quantity", Align: AlignRight, Numeric: true},
			{Header: "Amount", Align: AlignRight, Numeric: true},
		},
		Rows: [][]string{
			{"Design, round 1", "3", "300.00"},
			{"Build", "5", "500.00"},
		},
		Summary: []Field{{Label: "Total USD", Value: "800.00"}},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCSV(t *testing.T) {
	data, err := NewCSV().Render(context.Background(), sampleTable(), Options{})
	require.NoError(t, err)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"Description", "Quantity", "Amount"}, records[0])
	assert.Equal(t, []string{"Design, round 1", "3", "300.00"}, records[1])
	assert.Equal(t, []string{"Total USD", "800.00"}, records[len(records)-1])
}

func TestRejectsRaggedRows(t *testing.T) {
	table := sampleTable()
	table.Rows = append(table.Rows, []string{"only one"})

	for _, renderer := range []Renderer{NewCSV(), NewXLSX(), NewPDF()} {
		_, err := renderer.Render(context.Background(), table, Options{})
		assert.Error(t, err, renderer.Format())
	}
}

func TestXLSX(t *testing.T) {
	data, err := NewXLSX().Render(context.Background(), sampleTable(), Options{Author: "tally", SheetName: "Invoice INV-000007"})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	assert.Equal(t, "Invoice INV-000007", sheet)

	title, err := f.GetCellValue(sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice INV-000007", title)

	header, err := f.GetCellValue(sheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Description", header)

	first, err := f.GetCellValue(sheet, "A5")
	require.NoError(t, err)
	assert.Equal(t, "Design, round 1", first)
}

func TestPDF(t *testing.T) {
	data, err := NewPDF().Render(context.Background(), sampleTable(), Options{Author: "tally"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestSheetNameIsSanitized(t *testing.T) {
	assert.Equal(t, "a-b", sheetName("a/b"))
	assert.Equal(t, "Report", sheetName("", "  "))
	assert.Len(t, []rune(sheetName("Profitability of a project with a very long name")), maxSheetName)
}

func TestColumnWidthsFillGrid(t *testing.T) {
	assert.Equal(t, []int{6, 6}, columnWidths(2))
	assert.Equal(t, []int{4, 4, 4}, columnWidths(3))
	assert.Equal(t, []int{5, 2, 2, 2}, columnWidths(4))
}
