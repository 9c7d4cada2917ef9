package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Data is a titled grid of cells shared by the table, CSV and markdown
// writers.
type Data struct {
	Title   string
	Headers []string
	Rows    [][]string
	// Numeric marks columns that are right-aligned on screen.
	Numeric []bool
}

// Table renders d as a console table, preceded by its title.
func Table(w io.Writer, d Data) error {
	if d.Title != "" {
		if _, err := fmt.Fprintf(w, "\n%s\n", d.Title); err != nil {
			return err
		}
	}

	config := tablewriter.Config{}
	if len(d.Numeric) > 0 {
		align := make([]tw.Align, len(d.Headers))
		for i := range align {
			align[i] = tw.AlignLeft
			if i < len(d.Numeric) && d.Numeric[i] {
				align[i] = tw.AlignRight
			}
		}
		config.Row.Alignment = tw.CellAlignment{PerColumn: align}
	}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	headers := make([]any, len(d.Headers))
	for i, h := range d.Headers {
		headers[i] = h
	}
	table.Header(headers...)

	for _, row := range d.Rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

// Tables renders each grid in turn.
func Tables(w io.Writer, ds ...Data) error {
	for _, d := range ds {
		if err := Table(w, d); err != nil {
			return err
		}
	}
	return nil
}
