package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable renders a listing table (devices, ledger entries, journal
// history) with left-aligned columns. Short rows are padded so ragged input
// never shifts columns.
func renderTable(headers []string, rows [][]string) string {
	columns := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		columns[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
	}
	return render(headers, rows, columns)
}

// renderSummaryTable renders a two-column name/value table with the value
// column right-aligned, used for cycle and daemon summaries.
func renderSummaryTable(label string, rows [][]string) string {
	return render([]string{label, "Value"}, rows, []table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
}

func render(headers []string, rows [][]string, columns []table.ColumnConfig) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	tw.SetColumnConfigs(columns)
	return tw.Render()
}
