package models

import "time"

// Equipment statuses.
const (
	StatusActive       = "active"
	StatusInService    = "in_service"
	StatusOutOfService = "out_of_service"
	StatusRetired      = "retired"
)

// Statuses lists every accepted status value in display order.
var Statuses = []string{StatusActive, StatusInService, StatusOutOfService, StatusRetired}

// DateLayout is the wire and spreadsheet format of InstallDate.
const DateLayout = "2006-01-02"

// Equipment is one row of the equipment table. A record is active while DeletedAt is nil.
type Equipment struct {
	ID                    int64      `json:"id" db:"id" goqu:"skipinsert,skipupdate"`
	SerialNumber          string     `json:"serial_number" db:"serial_number" validate:"required,max=100"`
	EquipmentType         string     `json:"equipment_type" db:"equipment_type" validate:"required,max=100"`
	Manufacturer          string     `json:"manufacturer" db:"manufacturer" validate:"required,max=100"`
	Model                 string     `json:"model" db:"model" validate:"max=100"`
	Location              string     `json:"location" db:"location" validate:"max=200"`
	Status                string     `json:"status" db:"status" validate:"omitempty,oneof=active in_service out_of_service retired"`
	CustomerID            string     `json:"customer_id" db:"customer_id" validate:"max=50"`
	CustomerName          string     `json:"customer_name" db:"customer_name" validate:"max=200"`
	ProjectID             string     `json:"project_id" db:"project_id" validate:"max=50"`
	ManufacturerProjectID string     `json:"manufacturer_project_id" db:"manufacturer_project_id" validate:"max=50"`
	FunctionalPosition    string     `json:"functional_position" db:"functional_position" validate:"max=100"`
	YearManufactured      *int       `json:"year_manufactured,omitempty" db:"year_manufactured"`
	InstallDate           *time.Time `json:"install_date,omitempty" db:"install_date"`
	ParentSerial          string     `json:"parent_serial" db:"parent_serial" validate:"max=100"`
	Notes                 string     `json:"notes" db:"notes" validate:"max=2000"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at" goqu:"skipinsert,skipupdate"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at" goqu:"skipinsert,skipupdate"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty" db:"deleted_at" goqu:"skipinsert"`

	// Relevance is the fuzzy match score when the record came from a fuzzy search.
	Relevance *float64 `json:"relevance,omitempty" db:"-"`
}

// Active reports whether the record has not been soft-deleted.
func (e Equipment) Active() bool {
	return e.DeletedAt == nil
}

// EquipmentStats is the analysis report over active records.
type EquipmentStats struct {
	Total          int64        `json:"total"`
	ByType         []CountEntry `json:"by_type"`
	ByCustomer     []CountEntry `json:"by_customer"`
	ByManufacturer []CountEntry `json:"by_manufacturer"`
	ByStatus       []CountEntry `json:"by_status"`
}

// SearchSummary counts the distinct non-empty values among the records a search matched.
type SearchSummary struct {
	Customers      int64 `json:"customers" db:"customers"`
	EquipmentTypes int64 `json:"equipment_types" db:"equipment_types"`
	Manufacturers  int64 `json:"manufacturers" db:"manufacturers"`
	Projects       int64 `json:"projects" db:"projects"`
}

// CountEntry is one bucket of EquipmentStats.
type CountEntry struct {
	Key   string `json:"key" db:"key"`
	Count int64  `json:"count" db:"count"`
}

// LookupResult carries the related fields offered when one identifying field is typed in.
type LookupResult struct {
	CustomerID   string `json:"customer_id" db:"customer_id"`
	CustomerName string `json:"customer_name" db:"customer_name"`
	Location     string `json:"location" db:"location"`
	Manufacturer string `json:"manufacturer" db:"manufacturer"`
	ProjectID    string `json:"project_id" db:"project_id"`
}

// BatchResult summarises one transactional batch write.
type BatchResult struct {
	Inserted  int          `json:"inserted"`
	Updated   int          `json:"updated"`
	Unchanged int          `json:"unchanged"`
	IDs       []int64      `json:"ids"`
	Audit     []AuditEntry `json:"audit,omitempty"`
}
