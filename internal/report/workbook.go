package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

// WriteWorkbook saves the comparison as an XLSX workbook: a summary sheet
// followed by one sheet per cohort with its ranked builders and top agents.
func WriteWorkbook(path string, c *Comparison) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if err := writeRows(f, summarySheet, 1, gridRows(c.SummaryData(Plain))); err != nil {
		return err
	}
	next := len(c.SummaryData(Plain).Rows) + 3
	meta := [][]any{
		{"Generated at", c.GeneratedAt},
		{"Total public agents", c.TotalPublic},
		{"Paid traffic agents", c.PaidTraffic},
		{"Paid, non-grant agents", c.PaidNonGrant},
	}
	if err := writeRows(f, summarySheet, next, meta); err != nil {
		return err
	}

	for _, r := range c.Cohorts {
		sheet := r.Summary.Name
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("adding sheet %s: %w", sheet, err)
		}

		rows := [][]any{{r.Summary.Label}, {"Rank", "User Token", "Name", "Agents", "Executions", "Reviews", "Avg Rating"}}
		for _, b := range r.Builders {
			rows = append(rows, []any{b.Rank, b.BuilderID, b.Name, b.Agents, b.Executions, b.Reviews, cell(b.Rating)})
		}
		rows = append(rows, nil, []any{"Rank", "Agent ID", "Name", "Executions", "Reviews", "Avg Rating"})
		for _, a := range r.TopAgents {
			rows = append(rows, []any{a.Rank, a.AgentID, a.Name, a.Executions, a.Reviews, cell(a.Rating)})
		}
		if err := writeRows(f, sheet, 1, rows); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, start int, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		addr, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, start+i, err)
		}
	}
	return nil
}

func gridRows(d Data) [][]any {
	rows := make([][]any, 0, len(d.Rows)+1)
	header := make([]any, len(d.Headers))
	for i, h := range d.Headers {
		header[i] = h
	}
	rows = append(rows, header)
	for _, r := range d.Rows {
		row := make([]any, len(r))
		for i, v := range r {
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows
}

func cell(r *float64) any {
	if r == nil {
		return ""
	}
	return *r
}
