// Package sheet reads and writes equipment spreadsheets: one row per record,
// one column per editable field, header on row 1. Both xlsx and csv are
// supported and an exported file imports back to the same records.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/validation"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// SheetName is the worksheet written on export. Import reads the first worksheet whatever its name.
const SheetName = "Equipment"

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrMissingHeader   = errors.New("file has no header row")
	ErrNoDataRows      = errors.New("file contains no data rows")
	ErrInvalidEncoding = errors.New("file is not valid UTF-8")
	ErrUnknownFormat   = errors.New("unknown spreadsheet format, use xlsx or csv")
)

// Row is one data row keyed by field name. Line is the spreadsheet row number,
// counting the header as row 1.
type Row struct {
	Line   int
	Values map[string]string
}

// Headers returns the header row written on export.
func Headers() []string {
	return append([]string(nil), models.EditableFields...)
}

// ParseFormat accepts "xlsx", "excel", "csv" in any case.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatXLSX, "excel", "xls":
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromName guesses the format from a file name, defaulting to xlsx.
func FormatFromName(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return FormatCSV
	}
	return FormatXLSX
}

// ContentType is the MIME type served for an export.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Write exports list in the given format.
func Write(w io.Writer, format string, list []models.Equipment) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, list)
	case FormatXLSX:
		return writeXLSX(w, list)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Read parses a spreadsheet into data rows, skipping rows where every cell is
// blank. Header cells are matched case-insensitively and spaces count as
// underscores, so "Serial Number" maps to serial_number. Columns that are not
// equipment fields are returned as a row-1 unknown_field violation.
func Read(r io.Reader, format string) ([]Row, validation.Violations, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX:
		records, err = readXLSX(r)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, nil, err
	}
	return toRows(records)
}

func toRows(records [][]string) ([]Row, validation.Violations, error) {
	if len(records) == 0 {
		return nil, nil, ErrMissingHeader
	}

	var vs validation.Violations
	header := make([]string, len(records[0]))
	seen := make(map[string]bool, len(header))
	for i, h := range records[0] {
		name := normalizeHeader(h)
		if name == "" {
			continue
		}
		if !models.IsEditableField(name) {
			vs = append(vs, validation.Violation{
				Row:     1,
				Field:   strings.TrimSpace(h),
				Code:    validation.CodeUnknownField,
				Message: "is not an equipment field",
			})
			continue
		}
		if seen[name] {
			vs = append(vs, validation.Violation{
				Row:     1,
				Field:   name,
				Code:    validation.CodeInvalidValue,
				Message: "column appears more than once",
			})
			continue
		}
		seen[name] = true
		header[i] = name
	}
	for _, name := range models.RequiredFields {
		if !seen[name] {
			vs = append(vs, validation.Violation{
				Row:     1,
				Field:   name,
				Code:    validation.CodeRequired,
				Message: "column is required",
			})
		}
	}
	if len(vs) > 0 {
		return nil, vs, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := Row{Line: i + 2, Values: make(map[string]string, len(seen))}
		blank := true
		for col, name := range header {
			if name == "" {
				continue
			}
			v := ""
			if col < len(rec) {
				v = strings.TrimSpace(rec[col])
			}
			if v != "" {
				blank = false
			}
			row.Values[name] = v
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, nil, ErrNoDataRows
	}
	return rows, nil, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), "_")
}

// Columns returns the fields present in the header of rows, in export order.
// An import updates only these fields on records that already exist.
func Columns(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}
	var cols []string
	for _, f := range models.EditableFields {
		if _, ok := rows[0].Values[f]; ok {
			cols = append(cols, f)
		}
	}
	return cols
}

// Parse converts rows into records. Every type error is collected with its
// spreadsheet row number.
func Parse(rows []Row) ([]models.Equipment, validation.Violations) {
	out := make([]models.Equipment, len(rows))
	var all validation.Violations
	for i, row := range rows {
		e, vs := validation.Apply(models.Equipment{}, row.Values)
		for _, v := range vs {
			v.Row = row.Line
			all = append(all, v)
		}
		out[i] = e
	}
	return out, all
}

// ToLines rewrites violations numbered by batch position (1-based) to the
// spreadsheet row numbers of rows.
func ToLines(vs validation.Violations, rows []Row) validation.Violations {
	out := make(validation.Violations, len(vs))
	for i, v := range vs {
		if v.Row >= 1 && v.Row <= len(rows) {
			v.Row = rows[v.Row-1].Line
		}
		out[i] = v
	}
	return out
}

func recordCells(e models.Equipment) []string {
	cells := make([]string, len(models.EditableFields))
	for i, f := range models.EditableFields {
		cells[i] = e.FieldValue(f)
	}
	return cells
}
