package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/metrics"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// ========================
// REPOSITORY STRUCT
// ========================

// EquipmentRepo reads and writes equipment records. Every write runs in one
// transaction together with its audit rows.
type EquipmentRepo struct {
	db    *goqu.Database
	retry *db.Retrier
	now   func() time.Time
}

// NewEquipmentRepo wraps conn. A nil retry gets a Retrier without a per-attempt timeout.
func NewEquipmentRepo(conn *sql.DB, retry *db.Retrier) *EquipmentRepo {
	if retry == nil {
		retry = db.NewRetrier(conn, 0, nil)
	}
	return &EquipmentRepo{
		db:    goqu.New("postgres", conn),
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var equipmentColumns = []interface{}{
	"id",
	models.FieldSerialNumber,
	models.FieldEquipmentType,
	models.FieldManufacturer,
	models.FieldModel,
	models.FieldLocation,
	models.FieldStatus,
	models.FieldCustomerID,
	models.FieldCustomerName,
	models.FieldProjectID,
	models.FieldManufacturerProjectID,
	models.FieldFunctionalPosition,
	models.FieldYearManufactured,
	models.FieldInstallDate,
	models.FieldParentSerial,
	models.FieldNotes,
	"created_at",
	"updated_at",
	"deleted_at",
}

type scoredEquipment struct {
	models.Equipment
	Score float64 `db:"relevance"`
}

type serialRow struct {
	ID     int64  `db:"id"`
	Serial string `db:"serial_number"`
}

// Edit is a set of raw field values for one record, as entered in the grid.
type Edit struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

type selector interface {
	From(from ...interface{}) *goqu.SelectDataset
}

// errDryRun rolls back a batch that was only being rehearsed.
var errDryRun = errors.New("dry run")

// ========================
// READ
// ========================

// Fetch returns one page of records matching req (already normalized) and the
// total number of matches.
func (r *EquipmentRepo) Fetch(ctx context.Context, req search.Request) ([]models.Equipment, int64, error) {
	var (
		list  []models.Equipment
		total int64
	)
	err := r.retry.Do(ctx, "equipment.fetch", func(ctx context.Context) error {
		n, err := r.db.From(equipmentTable).Prepared(true).
			Where(search.Where(req)...).
			CountContext(ctx)
		if err != nil {
			return err
		}
		total = n

		list, err = scanEquipment(ctx, search.Apply(r.db.From(equipmentTable).Prepared(true), req), req)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Summarize counts the distinct customers, equipment types, manufacturers and
// projects among every record matching req, ignoring its paging.
func (r *EquipmentRepo) Summarize(ctx context.Context, req search.Request) (models.SearchSummary, error) {
	distinct := func(col string) exp.SQLFunctionExpression {
		return goqu.COUNT(goqu.DISTINCT(goqu.Func("NULLIF", goqu.C(col), "")))
	}
	var sum models.SearchSummary
	err := r.retry.Do(ctx, "equipment.summarize", func(ctx context.Context) error {
		_, err := r.db.From(equipmentTable).Prepared(true).
			Select(
				distinct(models.FieldCustomerName).As("customers"),
				distinct(models.FieldEquipmentType).As("equipment_types"),
				distinct(models.FieldManufacturer).As("manufacturers"),
				distinct(models.FieldProjectID).As("projects"),
			).
			Where(search.Where(req)...).
			ScanStructContext(ctx, &sum)
		return err
	})
	return sum, err
}

// FetchAll returns every record matching req, ignoring its paging. Used for export and the graph.
func (r *EquipmentRepo) FetchAll(ctx context.Context, req search.Request) ([]models.Equipment, error) {
	var list []models.Equipment
	err := r.retry.Do(ctx, "equipment.fetch_all", func(ctx context.Context) error {
		ds := r.db.From(equipmentTable).Prepared(true).
			Where(search.Where(req)...).
			Order(search.Order(req)...)
		var err error
		list, err = scanEquipment(ctx, ds, req)
		return err
	})
	return list, err
}

func scanEquipment(ctx context.Context, ds *goqu.SelectDataset, req search.Request) ([]models.Equipment, error) {
	cols := append([]interface{}{}, equipmentColumns...)
	fuzzy := req.IsFuzzy()
	if fuzzy {
		cols = append(cols, search.Score(req).As("relevance"))
	}

	var rows []scoredEquipment
	if err := ds.Select(cols...).ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Equipment, len(rows))
	for i, row := range rows {
		e := row.Equipment
		if fuzzy {
			score := row.Score
			e.Relevance = &score
		}
		out[i] = e
	}
	return out, nil
}

// GetByID returns an active record.
func (r *EquipmentRepo) GetByID(ctx context.Context, id int64) (models.Equipment, error) {
	var (
		e     models.Equipment
		found bool
	)
	err := r.retry.Do(ctx, "equipment.get", func(ctx context.Context) (err error) {
		found, err = r.db.From(equipmentTable).Prepared(true).
			Select(equipmentColumns...).
			Where(goqu.C("id").Eq(id), goqu.C("deleted_at").IsNull()).
			ScanStructContext(ctx, &e)
		return err
	})
	if err != nil {
		return models.Equipment{}, err
	}
	if !found {
		return models.Equipment{}, ErrNotFound
	}
	return e, nil
}

// ActiveSerials maps each given serial that belongs to an active record to that record's id.
func (r *EquipmentRepo) ActiveSerials(ctx context.Context, serials []string) (map[string]int64, error) {
	var out map[string]int64
	err := r.retry.Do(ctx, "equipment.serials", func(ctx context.Context) (err error) {
		out, err = activeSerials(ctx, r.db, serials)
		return err
	})
	return out, err
}

func activeSerials(ctx context.Context, q selector, serials []string) (map[string]int64, error) {
	out := make(map[string]int64, len(serials))
	if len(serials) == 0 {
		return out, nil
	}
	var rows []serialRow
	err := q.From(equipmentTable).Prepared(true).
		Select("id", models.FieldSerialNumber).
		Where(goqu.C(models.FieldSerialNumber).In(serials), goqu.C("deleted_at").IsNull()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Serial] = row.ID
	}
	return out, nil
}

// ========================
// CREATE
// ========================

// Insert validates and stores a new record and its "record" audit entry.
// Validation failures, including a duplicate serial number, return validation.Violations.
func (r *EquipmentRepo) Insert(ctx context.Context, e models.Equipment, actor string) (models.Equipment, error) {
	e = normalize(e)
	if vs := validation.Validate(e, r.now()); len(vs) > 0 {
		return e, vs
	}

	var created models.Equipment
	err := r.retry.Do(ctx, "equipment.insert", func(ctx context.Context) error {
		return withTransaction(ctx, r.db, func(tx *goqu.TxDatabase) (err error) {
			created, err = r.insertTx(ctx, tx, e, actor)
			return err
		})
	})
	if err != nil {
		return e, mapWriteError(err)
	}
	metrics.IncEquipmentWrite("create")
	return created, nil
}

func (r *EquipmentRepo) insertTx(ctx context.Context, tx *goqu.TxDatabase, e models.Equipment, actor string) (models.Equipment, error) {
	existing, err := activeSerials(ctx, tx, []string{e.SerialNumber})
	if err != nil {
		return e, err
	}
	if vs := validation.CheckDuplicates([]models.Equipment{e}, existing); len(vs) > 0 {
		return e, vs
	}

	now := r.now()
	rec := record(e)
	rec["created_at"] = now
	rec["updated_at"] = now

	var id int64
	if _, err := tx.Insert(equipmentTable).Prepared(true).
		Rows(rec).
		Returning("id").
		Executor().ScanValContext(ctx, &id); err != nil {
		return e, err
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now

	err = r.insertAudit(ctx, tx, []models.AuditEntry{{
		EquipmentID: id,
		Action:      models.AuditCreate,
		Field:       "record",
		NewValue:    e.SerialNumber,
		Actor:       actor,
	}})
	return e, err
}

// ========================
// UPDATE
// ========================

// Update applies raw field values to an active record. Only fields whose value
// actually changes are written, each with exactly one audit entry; an edit that
// changes nothing writes nothing and returns no entries.
func (r *EquipmentRepo) Update(ctx context.Context, id int64, fields map[string]string, actor string) (models.Equipment, []models.AuditEntry, error) {
	var (
		updated models.Equipment
		entries []models.AuditEntry
	)
	err := r.retry.Do(ctx, "equipment.update", func(ctx context.Context) error {
		return withTransaction(ctx, r.db, func(tx *goqu.TxDatabase) (err error) {
			updated, entries, err = r.updateTx(ctx, tx, id, fields, actor)
			return err
		})
	})
	if err != nil {
		return models.Equipment{}, nil, mapWriteError(err)
	}
	if len(entries) > 0 {
		metrics.IncEquipmentWrite("update")
	}
	return updated, entries, nil
}

func (r *EquipmentRepo) updateTx(ctx context.Context, tx *goqu.TxDatabase, id int64, fields map[string]string, actor string) (models.Equipment, []models.AuditEntry, error) {
	var cur models.Equipment
	found, err := tx.From(equipmentTable).Prepared(true).
		Select(equipmentColumns...).
		Where(goqu.C("id").Eq(id), goqu.C("deleted_at").IsNull()).
		ForUpdate(exp.Wait).
		ScanStructContext(ctx, &cur)
	if err != nil {
		return cur, nil, err
	}
	if !found {
		return cur, nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}

	next, vs := validation.Apply(cur, fields)
	if len(vs) == 0 {
		vs = validation.Validate(next, r.now())
	}
	if len(vs) > 0 {
		return cur, nil, vs
	}

	changes := models.Diff(cur, next)
	if len(changes) == 0 {
		return cur, nil, nil
	}

	if next.SerialNumber != cur.SerialNumber {
		existing, err := activeSerials(ctx, tx, []string{next.SerialNumber})
		if err != nil {
			return cur, nil, err
		}
		if vs := validation.CheckDuplicates([]models.Equipment{next}, existing); len(vs) > 0 {
			return cur, nil, vs
		}
	}

	now := r.now()
	set := goqu.Record{"updated_at": now}
	for _, c := range changes {
		set[c.Field] = columnValue(next, c.Field)
	}
	if _, err := tx.Update(equipmentTable).Prepared(true).
		Set(set).
		Where(goqu.C("id").Eq(id)).
		Executor().ExecContext(ctx); err != nil {
		return cur, nil, err
	}

	entries := make([]models.AuditEntry, len(changes))
	for i, c := range changes {
		entries[i] = models.AuditEntry{
			EquipmentID: id,
			Action:      models.AuditUpdate,
			Field:       c.Field,
			OldValue:    c.Old,
			NewValue:    c.New,
			Actor:       actor,
			CreatedAt:   now,
		}
	}
	if err := r.insertAudit(ctx, tx, entries); err != nil {
		return cur, nil, err
	}

	next.UpdatedAt = now
	return next, entries, nil
}

// ========================
// DELETE
// ========================

// Delete soft-deletes an active record. Its serial number becomes free for reuse.
func (r *EquipmentRepo) Delete(ctx context.Context, id int64, actor string) error {
	err := r.retry.Do(ctx, "equipment.delete", func(ctx context.Context) error {
		return withTransaction(ctx, r.db, func(tx *goqu.TxDatabase) error {
			now := r.now()
			res, err := tx.Update(equipmentTable).Prepared(true).
				Set(goqu.Record{"deleted_at": now, "updated_at": now}).
				Where(goqu.C("id").Eq(id), goqu.C("deleted_at").IsNull()).
				Executor().ExecContext(ctx)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return ErrNotFound
			}
			return r.insertAudit(ctx, tx, []models.AuditEntry{{
				EquipmentID: id,
				Action:      models.AuditDelete,
				Field:       "deleted_at",
				NewValue:    now.Format(time.RFC3339),
				Actor:       actor,
			}})
		})
	})
	if err != nil {
		return mapWriteError(err)
	}
	metrics.IncEquipmentWrite("delete")
	return nil
}

// ========================
// BATCH
// ========================

// ApplyEdits commits the pending grid edits in one transaction. Any invalid
// edit rejects the whole batch; violations carry the 1-based edit position in Row.
// An edit to a record deleted in the meantime is reported as a not_found violation.
func (r *EquipmentRepo) ApplyEdits(ctx context.Context, edits []Edit, actor string) (models.BatchResult, error) {
	var result models.BatchResult
	err := r.retry.Do(ctx, "equipment.apply_edits", func(ctx context.Context) error {
		result = models.BatchResult{}
		return withTransaction(ctx, r.db, func(tx *goqu.TxDatabase) error {
			var all validation.Violations
			for i, ed := range edits {
				_, entries, err := r.updateTx(ctx, tx, ed.ID, ed.Fields, actor)
				if vs, ok := validation.AsViolations(err); ok {
					for _, v := range vs {
						v.Row = i + 1
						all = append(all, v)
					}
					continue
				}
				if errors.Is(err, ErrNotFound) {
					all = append(all, validation.Violation{
						Row:     i + 1,
						Field:   "id",
						Code:    validation.CodeNotFound,
						Message: fmt.Sprintf("record %d no longer exists", ed.ID),
					})
					continue
				}
				if err != nil {
					return err
				}
				result.IDs = append(result.IDs, ed.ID)
				result.Audit = append(result.Audit, entries...)
				if len(entries) == 0 {
					result.Unchanged++
				} else {
					result.Updated++
				}
			}
			if len(all) > 0 {
				return all
			}
			return nil
		})
	})
	if err != nil {
		return models.BatchResult{}, mapWriteError(err)
	}
	if result.Updated > 0 {
		metrics.IncEquipmentWrite("batch")
	}
	return result, nil
}

// Upsert stores records keyed by serial number in one transaction: a serial
// that matches an active record updates it, any other serial inserts a new
// record. Updates write only the named columns, so a file that leaves a field
// out keeps the stored value; nil columns means every editable field. With
// dryRun the transaction is rolled back and only the counts are reported.
func (r *EquipmentRepo) Upsert(ctx context.Context, rows []models.Equipment, columns []string, actor string, dryRun bool) (models.BatchResult, error) {
	if columns == nil {
		columns = models.EditableFields
	}
	candidates := make([]models.Equipment, len(rows))
	serials := make([]string, len(rows))
	for i, row := range rows {
		candidates[i] = normalize(row)
		serials[i] = candidates[i].SerialNumber
	}

	vs := validation.ValidateBatch(candidates, r.now())
	vs = append(vs, validation.CheckDuplicates(candidates, nil)...)
	if len(vs) > 0 {
		return models.BatchResult{}, vs
	}

	var result models.BatchResult
	err := r.retry.Do(ctx, "equipment.upsert", func(ctx context.Context) error {
		result = models.BatchResult{}
		err := withTransaction(ctx, r.db, func(tx *goqu.TxDatabase) error {
			existing, err := activeSerials(ctx, tx, serials)
			if err != nil {
				return err
			}
			for _, c := range candidates {
				id, ok := existing[c.SerialNumber]
				if !ok {
					created, err := r.insertTx(ctx, tx, c, actor)
					if err != nil {
						return err
					}
					result.Inserted++
					result.IDs = append(result.IDs, created.ID)
					continue
				}
				_, entries, err := r.updateTx(ctx, tx, id, fieldMap(c, columns), actor)
				if err != nil {
					return err
				}
				result.IDs = append(result.IDs, id)
				result.Audit = append(result.Audit, entries...)
				if len(entries) == 0 {
					result.Unchanged++
				} else {
					result.Updated++
				}
			}
			if dryRun {
				return errDryRun
			}
			return nil
		})
		if errors.Is(err, errDryRun) {
			return nil
		}
		return err
	})
	if err != nil {
		return models.BatchResult{}, mapWriteError(err)
	}
	if !dryRun {
		metrics.IncEquipmentWrite("batch")
	}
	return result, nil
}

// ========================
// REPORTS
// ========================

// Stats counts active records overall and by type, customer, manufacturer and status.
// Customer and manufacturer buckets are limited to the top 10.
func (r *EquipmentRepo) Stats(ctx context.Context) (models.EquipmentStats, error) {
	var stats models.EquipmentStats
	err := r.retry.Do(ctx, "equipment.stats", func(ctx context.Context) error {
		active := goqu.C("deleted_at").IsNull()
		n, err := r.db.From(equipmentTable).Prepared(true).Where(active).CountContext(ctx)
		if err != nil {
			return err
		}
		stats.Total = n

		group := func(col string, limit uint) ([]models.CountEntry, error) {
			ds := r.db.From(equipmentTable).Prepared(true).
				Select(goqu.C(col).As("key"), goqu.COUNT(goqu.Star()).As("count")).
				Where(active).
				GroupBy(goqu.C(col)).
				Order(goqu.I("count").Desc(), goqu.C(col).Asc())
			if limit > 0 {
				ds = ds.Limit(limit)
			}
			entries := []models.CountEntry{}
			if err := ds.ScanStructsContext(ctx, &entries); err != nil {
				return nil, fmt.Errorf("group by %s: %w", col, err)
			}
			return entries, nil
		}

		if stats.ByType, err = group(models.FieldEquipmentType, 0); err != nil {
			return err
		}
		if stats.ByCustomer, err = group(models.FieldCustomerName, 10); err != nil {
			return err
		}
		if stats.ByManufacturer, err = group(models.FieldManufacturer, 10); err != nil {
			return err
		}
		stats.ByStatus, err = group(models.FieldStatus, 0)
		return err
	})
	return stats, err
}

// lookupFields are the fields that identify a customer or project.
var lookupFields = map[string]bool{
	models.FieldCustomerID:   true,
	models.FieldCustomerName: true,
	models.FieldProjectID:    true,
}

// ErrLookupField is returned by Lookup for a field that cannot be looked up.
var ErrLookupField = errors.New("lookup supports customer_id, customer_name and project_id")

// Lookup returns the customer and project details of the most recently updated
// active record whose field equals value, for pre-filling new records.
func (r *EquipmentRepo) Lookup(ctx context.Context, field, value string) (models.LookupResult, bool, error) {
	if !lookupFields[field] {
		return models.LookupResult{}, false, ErrLookupField
	}
	var (
		res   models.LookupResult
		found bool
	)
	err := r.retry.Do(ctx, "equipment.lookup", func(ctx context.Context) (err error) {
		found, err = r.db.From(equipmentTable).Prepared(true).
			Select(
				models.FieldCustomerID,
				models.FieldCustomerName,
				models.FieldLocation,
				models.FieldManufacturer,
				models.FieldProjectID,
			).
			Where(goqu.C(field).Eq(strings.TrimSpace(value)), goqu.C("deleted_at").IsNull()).
			Order(goqu.C("updated_at").Desc()).
			ScanStructContext(ctx, &res)
		return err
	})
	return res, found, err
}

// ========================
// HELPERS
// ========================

func (r *EquipmentRepo) insertAudit(ctx context.Context, tx *goqu.TxDatabase, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.now()
	rows := make([]interface{}, len(entries))
	for i, e := range entries {
		rows[i] = goqu.Record{
			"equipment_id": e.EquipmentID,
			"action":       e.Action,
			"field":        e.Field,
			"old_value":    e.OldValue,
			"new_value":    e.NewValue,
			"actor":        e.Actor,
			"created_at":   now,
		}
	}
	_, err := tx.Insert(auditTable).Prepared(true).Rows(rows...).Executor().ExecContext(ctx)
	return err
}

func normalize(e models.Equipment) models.Equipment {
	e.SerialNumber = strings.TrimSpace(e.SerialNumber)
	e.EquipmentType = strings.TrimSpace(e.EquipmentType)
	e.Manufacturer = strings.TrimSpace(e.Manufacturer)
	e.ParentSerial = strings.TrimSpace(e.ParentSerial)
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	if e.Status == "" {
		e.Status = models.StatusActive
	}
	return e
}

func record(e models.Equipment) goqu.Record {
	rec := make(goqu.Record, len(models.EditableFields))
	for _, f := range models.EditableFields {
		rec[f] = columnValue(e, f)
	}
	return rec
}

func columnValue(e models.Equipment, field string) interface{} {
	switch field {
	case models.FieldYearManufactured:
		if e.YearManufactured == nil {
			return nil
		}
		return *e.YearManufactured
	case models.FieldInstallDate:
		if e.InstallDate == nil {
			return nil
		}
		return *e.InstallDate
	}
	return e.FieldValue(field)
}

func fieldMap(e models.Equipment, columns []string) map[string]string {
	m := make(map[string]string, len(columns))
	for _, f := range columns {
		m[f] = e.FieldValue(f)
	}
	return m
}

// mapWriteError turns a unique violation on the serial index into the same
// Violations a pre-write duplicate check returns.
func mapWriteError(err error) error {
	if vs, ok := validation.AsViolations(err); ok {
		return vs
	}
	var de *db.Error
	if errors.As(err, &de) && de.Code == "23505" {
		return validation.Violations{{
			Field:   models.FieldSerialNumber,
			Code:    validation.CodeDuplicateSerial,
			Message: "serial number already exists",
		}}
	}
	return err
}
