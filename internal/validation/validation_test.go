package validation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func validRecord() models.Equipment {
	return models.Equipment{
		SerialNumber:  "SN-100",
		EquipmentType: "Compressor",
		Manufacturer:  "Atlas",
		Status:        models.StatusActive,
	}
}

func TestValidate_OK(t *testing.T) {
	assert.Empty(t, Validate(validRecord(), now))
}

func TestValidate_RequiredFields(t *testing.T) {
	vs := Validate(models.Equipment{}, now)

	fields := vs.Fields()
	assert.Contains(t, fields, "serial_number")
	assert.Contains(t, fields, "equipment_type")
	assert.Contains(t, fields, "manufacturer")
	assert.True(t, vs.HasCode(CodeRequired))
}

func TestValidate_StatusEnum(t *testing.T) {
	e := validRecord()
	e.Status = "broken"
	vs := Validate(e, now)
	require.Len(t, vs, 1)
	assert.Equal(t, "status", vs[0].Field)
	assert.Equal(t, CodeInvalidValue, vs[0].Code)
}

func TestValidate_YearRange(t *testing.T) {
	for _, y := range []int{1899, 2028} {
		e := validRecord()
		e.YearManufactured = &y
		vs := Validate(e, now)
		require.Len(t, vs, 1, "year %d", y)
		assert.Equal(t, CodeOutOfRange, vs[0].Code)
	}

	ok := 2027
	e := validRecord()
	e.YearManufactured = &ok
	assert.Empty(t, Validate(e, now))
}

func TestValidate_TooLong(t *testing.T) {
	e := validRecord()
	e.Notes = strings.Repeat("x", 2001)
	vs := Validate(e, now)
	require.Len(t, vs, 1)
	assert.Equal(t, "notes", vs[0].Field)
	assert.Equal(t, CodeTooLong, vs[0].Code)
}

func TestValidate_ParentIsSelf(t *testing.T) {
	e := validRecord()
	e.ParentSerial = e.SerialNumber
	vs := Validate(e, now)
	require.Len(t, vs, 1)
	assert.Equal(t, "parent_serial", vs[0].Field)
}

func TestApply_ParsesTypes(t *testing.T) {
	e, vs := Apply(models.Equipment{}, map[string]string{
		"serial_number":     "  SN-7 ",
		"status":            "Out Of Service",
		"year_manufactured": "2015.0",
		"install_date":      "2016-04-01",
	})
	require.Empty(t, vs)
	assert.Equal(t, "SN-7", e.SerialNumber)
	assert.Equal(t, models.StatusOutOfService, e.Status)
	require.NotNil(t, e.YearManufactured)
	assert.Equal(t, 2015, *e.YearManufactured)
	require.NotNil(t, e.InstallDate)
	assert.Equal(t, "2016-04-01", e.InstallDate.Format(models.DateLayout))
}

func TestApply_TypeErrors(t *testing.T) {
	year := 2000
	e, vs := Apply(models.Equipment{YearManufactured: &year}, map[string]string{
		"year_manufactured": "two thousand",
		"install_date":      "01/02/2020",
		"colour":            "red",
	})
	require.Len(t, vs, 3)
	assert.Equal(t, "year_manufactured", vs[0].Field)
	assert.Equal(t, CodeInvalidType, vs[0].Code)
	assert.Equal(t, "install_date", vs[1].Field)
	assert.Equal(t, "colour", vs[2].Field)
	assert.Equal(t, CodeUnknownField, vs[2].Code)
	assert.Equal(t, 2000, *e.YearManufactured, "unparseable value keeps the old one")
}

func TestApply_EmptyClearsOptional(t *testing.T) {
	year := 2000
	e, vs := Apply(models.Equipment{YearManufactured: &year}, map[string]string{"year_manufactured": ""})
	require.Empty(t, vs)
	assert.Nil(t, e.YearManufactured)
}

func TestApply_NormalizesLineBreaks(t *testing.T) {
	e, vs := Apply(models.Equipment{}, map[string]string{
		"notes":    "line one\r\nline two\rline three\r\n",
		"location": "Hall B\r\nDock 4",
	})
	require.Empty(t, vs)
	assert.Equal(t, "line one\nline two\nline three", e.Notes)
	assert.Equal(t, "Hall B\nDock 4", e.Location)
}

func TestCheckDuplicates_ExistingSerialRejected(t *testing.T) {
	existing := map[string]int64{"SN-100": 1}
	vs := CheckDuplicates([]models.Equipment{validRecord()}, existing)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeDuplicateSerial, vs[0].Code)
	assert.Equal(t, 1, vs[0].Row)
}

func TestCheckDuplicates_SameRecordAllowed(t *testing.T) {
	e := validRecord()
	e.ID = 1
	assert.Empty(t, CheckDuplicates([]models.Equipment{e}, map[string]int64{"SN-100": 1}))
}

func TestCheckDuplicates_WithinBatch(t *testing.T) {
	a, b := validRecord(), validRecord()
	vs := CheckDuplicates([]models.Equipment{a, b}, nil)
	require.Len(t, vs, 1)
	assert.Equal(t, 2, vs[0].Row)
	assert.Contains(t, vs[0].Message, "repeats row 1")
}

func TestViolations_AsError(t *testing.T) {
	var err error = Violations{{Field: "serial_number", Code: CodeRequired, Message: "is required"}}
	wrapped := fmt.Errorf("insert: %w", err)

	vs, ok := AsViolations(wrapped)
	require.True(t, ok)
	assert.Len(t, vs, 1)
	assert.Contains(t, wrapped.Error(), "serial_number: is required")
}

func TestValidateBatch_StampsRows(t *testing.T) {
	bad := validRecord()
	bad.Manufacturer = ""
	vs := ValidateBatch([]models.Equipment{validRecord(), bad}, now)
	require.Len(t, vs, 1)
	assert.Equal(t, 2, vs[0].Row)
}
