package commands

import (
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

func printSummary(w io.Writer, r *scrollReport) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(summaryRows(r))
	table.Render()
	return nil
}

func summaryRows(r *scrollReport) [][]string {
	rows := [][]string{
		{"rows read", strconv.Itoa(r.Rows)},
		{"reached end", strconv.FormatBool(r.Ended)},
		{"refreshed", strconv.FormatBool(r.Refreshed)},
		{"generations", strconv.Itoa(r.Generations)},
		{"stored items", strconv.Itoa(r.Stored)},
		{"rows inserted", strconv.Itoa(r.Inserted)},
		{"rows removed", strconv.Itoa(r.Removed)},
		{"events dropped", strconv.FormatUint(r.Dropped, 10)},
	}

	names := make([]string, 0, len(r.Counters))
	for name := range r.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatFloat(r.Counters[name], 'f', -1, 64)})
	}
	return rows
}
