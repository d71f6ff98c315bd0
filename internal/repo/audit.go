package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditFilter narrows an audit listing. Zero values do not filter.
type AuditFilter struct {
	EquipmentID int64
	Actor       string
	Field       string
	Since       time.Time
	Limit       int
	Offset      int
}

// AuditRepo reads the audit log. Entries are only ever written by EquipmentRepo,
// inside the transaction of the change they describe.
type AuditRepo struct {
	db    *goqu.Database
	retry *db.Retrier
}

// NewAuditRepo returns a new AuditRepo.
func NewAuditRepo(conn *sql.DB, retry *db.Retrier) *AuditRepo {
	if retry == nil {
		retry = db.NewRetrier(conn, 0, nil)
	}
	return &AuditRepo{db: goqu.New("postgres", conn), retry: retry}
}

// List returns audit entries matching f, newest first.
func (r *AuditRepo) List(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error) {
	var conds []exp.Expression
	if f.EquipmentID > 0 {
		conds = append(conds, goqu.C("equipment_id").Eq(f.EquipmentID))
	}
	if f.Actor != "" {
		conds = append(conds, goqu.C("actor").Eq(f.Actor))
	}
	if f.Field != "" {
		conds = append(conds, goqu.C("field").Eq(f.Field))
	}
	if !f.Since.IsZero() {
		conds = append(conds, goqu.C("created_at").Gte(f.Since))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	entries := []models.AuditEntry{}
	err := r.retry.Do(ctx, "audit.list", func(ctx context.Context) error {
		entries = entries[:0]
		return r.db.From(auditTable).Prepared(true).
			Where(conds...).
			Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
			Limit(uint(limit)).
			Offset(uint(offset)).
			ScanStructsContext(ctx, &entries)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByEquipment returns the full history of one record, newest first.
func (r *AuditRepo) ListByEquipment(ctx context.Context, equipmentID int64) ([]models.AuditEntry, error) {
	return r.List(ctx, AuditFilter{EquipmentID: equipmentID, Limit: maxAuditLimit})
}
