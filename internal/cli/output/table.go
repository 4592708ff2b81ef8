package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by result types that render as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data to w as a borderless left-aligned table with
// upper-cased headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := plainTable(w, "")
	table.SetHeader(data.Headers())
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// SimpleTable writes key-value pairs to w as two aligned columns
// separated by a colon.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := plainTable(w, ":")
	for _, pair := range pairs {
		table.Append(pair[:])
	}
	table.Render()
	return nil
}

// plainTable configures a writer for terminal output: no borders, no
// separator lines, two-space column padding.
func plainTable(w io.Writer, colSep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(colSep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
