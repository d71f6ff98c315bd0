package models

import "strconv"

// Field names double as column names, JSON keys and spreadsheet headers.
const (
	FieldSerialNumber          = "serial_number"
	FieldEquipmentType         = "equipment_type"
	FieldManufacturer          = "manufacturer"
	FieldModel                 = "model"
	FieldLocation              = "location"
	FieldStatus                = "status"
	FieldCustomerID            = "customer_id"
	FieldCustomerName          = "customer_name"
	FieldProjectID             = "project_id"
	FieldManufacturerProjectID = "manufacturer_project_id"
	FieldFunctionalPosition    = "functional_position"
	FieldYearManufactured      = "year_manufactured"
	FieldInstallDate           = "install_date"
	FieldParentSerial          = "parent_serial"
	FieldNotes                 = "notes"
)

// EditableFields lists the user-editable fields in display and export order.
var EditableFields = []string{
	FieldSerialNumber,
	FieldEquipmentType,
	FieldManufacturer,
	FieldModel,
	FieldLocation,
	FieldStatus,
	FieldCustomerID,
	FieldCustomerName,
	FieldProjectID,
	FieldManufacturerProjectID,
	FieldFunctionalPosition,
	FieldYearManufactured,
	FieldInstallDate,
	FieldParentSerial,
	FieldNotes,
}

// RequiredFields must be set on every record.
var RequiredFields = []string{FieldSerialNumber, FieldEquipmentType, FieldManufacturer}

// IsEditableField reports whether name is one of EditableFields.
func IsEditableField(name string) bool {
	for _, f := range EditableFields {
		if f == name {
			return true
		}
	}
	return false
}

// FieldValue renders one field the way it is shown, exported and audited.
// Unset optional values render as "".
func (e Equipment) FieldValue(name string) string {
	switch name {
	case FieldSerialNumber:
		return e.SerialNumber
	case FieldEquipmentType:
		return e.EquipmentType
	case FieldManufacturer:
		return e.Manufacturer
	case FieldModel:
		return e.Model
	case FieldLocation:
		return e.Location
	case FieldStatus:
		return e.Status
	case FieldCustomerID:
		return e.CustomerID
	case FieldCustomerName:
		return e.CustomerName
	case FieldProjectID:
		return e.ProjectID
	case FieldManufacturerProjectID:
		return e.ManufacturerProjectID
	case FieldFunctionalPosition:
		return e.FunctionalPosition
	case FieldYearManufactured:
		if e.YearManufactured == nil {
			return ""
		}
		return strconv.Itoa(*e.YearManufactured)
	case FieldInstallDate:
		if e.InstallDate == nil {
			return ""
		}
		return e.InstallDate.Format(DateLayout)
	case FieldParentSerial:
		return e.ParentSerial
	case FieldNotes:
		return e.Notes
	}
	return ""
}

// FieldChange is one differing field between two versions of a record.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Diff returns the editable fields whose rendered values differ, in EditableFields order.
func Diff(old, updated Equipment) []FieldChange {
	var changes []FieldChange
	for _, f := range EditableFields {
		o, n := old.FieldValue(f), updated.FieldValue(f)
		if o != n {
			changes = append(changes, FieldChange{Field: f, Old: o, New: n})
		}
	}
	return changes
}
