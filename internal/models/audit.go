package models

import "time"

// Audit actions.
const (
	AuditCreate = "create"
	AuditUpdate = "update"
	AuditDelete = "delete"
)

// AuditEntry records one field change on one equipment record. Rows are never updated or deleted.
type AuditEntry struct {
	ID          int64     `json:"id" db:"id" goqu:"skipinsert"`
	EquipmentID int64     `json:"equipment_id" db:"equipment_id"`
	Action      string    `json:"action" db:"action"` // create, update, delete
	Field       string    `json:"field" db:"field"`
	OldValue    string    `json:"old_value" db:"old_value"`
	NewValue    string    `json:"new_value" db:"new_value"`
	Actor       string    `json:"actor" db:"actor"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" goqu:"skipinsert"`
}
