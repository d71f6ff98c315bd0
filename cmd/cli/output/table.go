package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderTable prints a pretty table to w
func RenderTable(w io.Writer, headers []string, rows [][]interface{}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := table.Row{}
	for _, h := range headers {
		headerRow = append(headerRow, h)
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}

	t.Render()
}

// RenderFields prints one record as a two-column name/value table.
func RenderFields(w io.Writer, names []string, value func(string) string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Colors: text.Colors{text.Bold}}})
	for _, n := range names {
		t.AppendRow(table.Row{n, value(n)})
	}
	t.Render()
}

// PrintJSON writes v indented.
func PrintJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// RenderViolations lists validation problems by row and field.
func RenderViolations(w io.Writer, vs validation.Violations) {
	rows := make([][]interface{}, len(vs))
	for i, v := range vs {
		row := ""
		if v.Row > 0 {
			row = fmt.Sprint(v.Row)
		}
		rows[i] = []interface{}{row, v.Field, v.Code, v.Message}
	}
	RenderTable(w, []string{"Row", "Field", "Code", "Problem"}, rows)
}

// Truncate shortens s to n runes for table cells.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
