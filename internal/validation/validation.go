// Package validation checks equipment records before they are written. Every
// function here is pure: no database or network access.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/go-playground/validator/v10"
)

// Violation codes.
const (
	CodeRequired        = "required"
	CodeInvalidType     = "invalid_type"
	CodeInvalidValue    = "invalid_value"
	CodeOutOfRange      = "out_of_range"
	CodeTooLong         = "too_long"
	CodeDuplicateSerial = "duplicate_serial"
	CodeUnknownField    = "unknown_field"
	CodeNotFound        = "not_found"
)

// MinYear is the earliest accepted year of manufacture.
const MinYear = 1900

// Violation is one failed rule. Row is the 1-based position of the record in a
// batch and zero for single-record checks.
type Violation struct {
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Row > 0 {
		return fmt.Sprintf("row %d, %s: %s", v.Row, v.Field, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Violations is returned as an error when a write is rejected.
type Violations []Violation

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasCode reports whether any violation carries code.
func (vs Violations) HasCode(code string) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Fields returns field -> first message, for single-record forms.
func (vs Violations) Fields() map[string]string {
	out := make(map[string]string, len(vs))
	for _, v := range vs {
		if _, ok := out[v.Field]; !ok {
			out[v.Field] = v.Message
		}
	}
	return out
}

// AsViolations unwraps err into Violations.
func AsViolations(err error) (Violations, bool) {
	var vs Violations
	if errors.As(err, &vs) {
		return vs, true
	}
	return nil, false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Apply copies raw string values onto e, converting and normalising them.
// Values are trimmed and line breaks stored as "\n"; status is lower-cased;
// year and install_date must parse.
// Fields that fail to parse are left unchanged on the returned record.
func Apply(e models.Equipment, fields map[string]string) (models.Equipment, Violations) {
	var vs Violations
	for _, name := range sortedKeys(fields) {
		raw := strings.TrimSpace(lineBreaks.Replace(fields[name]))
		switch name {
		case models.FieldSerialNumber:
			e.SerialNumber = raw
		case models.FieldEquipmentType:
			e.EquipmentType = raw
		case models.FieldManufacturer:
			e.Manufacturer = raw
		case models.FieldModel:
			e.Model = raw
		case models.FieldLocation:
			e.Location = raw
		case models.FieldStatus:
			e.Status = strings.ToLower(strings.ReplaceAll(raw, " ", "_"))
		case models.FieldCustomerID:
			e.CustomerID = raw
		case models.FieldCustomerName:
			e.CustomerName = raw
		case models.FieldProjectID:
			e.ProjectID = raw
		case models.FieldManufacturerProjectID:
			e.ManufacturerProjectID = raw
		case models.FieldFunctionalPosition:
			e.FunctionalPosition = raw
		case models.FieldParentSerial:
			e.ParentSerial = raw
		case models.FieldNotes:
			e.Notes = raw
		case models.FieldYearManufactured:
			if raw == "" {
				e.YearManufactured = nil
				continue
			}
			year, err := parseYear(raw)
			if err != nil {
				vs = append(vs, Violation{Field: name, Code: CodeInvalidType, Message: "must be a whole number year"})
				continue
			}
			e.YearManufactured = &year
		case models.FieldInstallDate:
			if raw == "" {
				e.InstallDate = nil
				continue
			}
			d, err := time.Parse(models.DateLayout, raw)
			if err != nil {
				vs = append(vs, Violation{Field: name, Code: CodeInvalidType, Message: "must be a date in YYYY-MM-DD format"})
				continue
			}
			e.InstallDate = &d
		default:
			vs = append(vs, Violation{Field: name, Code: CodeUnknownField, Message: "is not an editable field"})
		}
	}
	return e, vs
}

// lineBreaks folds CRLF from browser textareas and lone CR into LF, which is
// what the csv reader hands back for a quoted multi-line cell.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// parseYear accepts "2019" and the "2019.0" spreadsheets produce for numeric cells.
func parseYear(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not a year: %q", raw)
	}
	return int(f), nil
}

// Validate checks required fields, lengths, enums and ranges on a complete record.
// now bounds the year of manufacture to now.Year()+1.
func Validate(e models.Equipment, now time.Time) Violations {
	var vs Violations

	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Violations{{Field: "record", Code: CodeInvalidValue, Message: err.Error()}}
		}
		for _, fe := range verrs {
			vs = append(vs, fromFieldError(fe))
		}
	}

	if e.YearManufactured != nil {
		maxYear := now.Year() + 1
		if y := *e.YearManufactured; y < MinYear || y > maxYear {
			vs = append(vs, Violation{
				Field:   models.FieldYearManufactured,
				Code:    CodeOutOfRange,
				Message: fmt.Sprintf("must be between %d and %d", MinYear, maxYear),
			})
		}
	}
	if e.InstallDate != nil && e.InstallDate.Year() < MinYear {
		vs = append(vs, Violation{
			Field:   models.FieldInstallDate,
			Code:    CodeOutOfRange,
			Message: fmt.Sprintf("must not be before %d", MinYear),
		})
	}
	if e.ParentSerial != "" && e.ParentSerial == e.SerialNumber {
		vs = append(vs, Violation{
			Field:   models.FieldParentSerial,
			Code:    CodeInvalidValue,
			Message: "a record cannot be part of itself",
		})
	}
	return vs
}

func fromFieldError(fe validator.FieldError) Violation {
	v := Violation{Field: fe.Field()}
	switch fe.Tag() {
	case "required":
		v.Code = CodeRequired
		v.Message = "is required"
	case "max":
		v.Code = CodeTooLong
		v.Message = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		v.Code = CodeInvalidValue
		v.Message = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		v.Code = CodeInvalidValue
		v.Message = "failed " + fe.Tag() + " check"
	}
	return v
}

// CheckDuplicates rejects serial numbers repeated within candidates, and serial
// numbers that belong to a different active record in existing (serial -> id).
// A candidate with ID 0 is a new record.
func CheckDuplicates(candidates []models.Equipment, existing map[string]int64) Violations {
	var vs Violations
	firstRow := make(map[string]int, len(candidates))
	for i, c := range candidates {
		row := i + 1
		if c.SerialNumber == "" {
			continue
		}
		if prev, ok := firstRow[c.SerialNumber]; ok {
			vs = append(vs, Violation{
				Row:     row,
				Field:   models.FieldSerialNumber,
				Code:    CodeDuplicateSerial,
				Message: fmt.Sprintf("serial number %q repeats row %d", c.SerialNumber, prev),
			})
			continue
		}
		firstRow[c.SerialNumber] = row
		if id, ok := existing[c.SerialNumber]; ok && id != c.ID {
			vs = append(vs, Violation{
				Row:     row,
				Field:   models.FieldSerialNumber,
				Code:    CodeDuplicateSerial,
				Message: fmt.Sprintf("serial number %q already exists", c.SerialNumber),
			})
		}
	}
	return vs
}

// ValidateBatch runs Validate on every candidate and stamps each violation with its row.
func ValidateBatch(candidates []models.Equipment, now time.Time) Violations {
	var vs Violations
	for i, c := range candidates {
		for _, v := range Validate(c, now) {
			v.Row = i + 1
			vs = append(vs, v)
		}
	}
	return vs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for _, f := range models.EditableFields {
		if _, ok := m[f]; ok {
			keys = append(keys, f)
		}
	}
	var unknown []string
	for k := range m {
		if !models.IsEditableField(k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return append(keys, unknown...)
}
