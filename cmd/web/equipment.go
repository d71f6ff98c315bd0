package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/session"
	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/go-chi/chi/v5"
)

const gridPageSize = 25

// gridFields are the columns that can be edited inline in the grid.
var gridFields = []string{
	models.FieldLocation,
	models.FieldStatus,
	models.FieldCustomerName,
	models.FieldProjectID,
	models.FieldNotes,
}

type gridCell struct {
	Field    string
	Value    string
	Original string
	Pending  bool
}

type gridRow struct {
	Equipment models.Equipment
	Cells     []gridCell
	Selected  bool
}

type gridData struct {
	Rows       []gridRow
	Fields     []string
	Query      string
	Sort       string
	Desc       bool
	Page       int
	PrevPage   int
	NextPage   int
	Total      int64
	Return     string
	Selected   int
	PendingIDs []int64
}

// ==========================
// Grid
// ==========================

func (s *server) equipmentGrid(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	data := gridData{
		Fields: gridFields,
		Query:  strings.TrimSpace(q.Get("q")),
		Sort:   q.Get("sort"),
		Desc:   q.Get("desc") == "true",
		Page:   1,
		Return: r.URL.RequestURI(),
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		data.Page = p
	}

	params := url.Values{
		"limit":  {strconv.Itoa(gridPageSize)},
		"offset": {strconv.Itoa((data.Page - 1) * gridPageSize)},
	}
	if data.Query != "" {
		params.Set("q", data.Query)
	}
	if data.Sort != "" {
		params.Set("sort", data.Sort)
		params.Set("desc", strconv.FormatBool(data.Desc))
	}

	v := s.view(sess, "Equipment", &data)
	page, err := s.client(sess).List(r.Context(), params)
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "equipment.html", v)
		}
		return
	}

	selected := make(map[int64]bool, len(sess.Selected))
	for _, id := range sess.Selected {
		selected[id] = true
	}
	data.Total = page.Total
	data.Selected = len(sess.Selected)
	data.Rows = make([]gridRow, len(page.Items))
	for i, e := range page.Items {
		data.Rows[i] = gridRow{Equipment: e, Cells: cells(e, sess.PendingEdits[e.ID]), Selected: selected[e.ID]}
	}
	if data.Page > 1 {
		data.PrevPage = data.Page - 1
	}
	if int64(data.Page*gridPageSize) < page.Total {
		data.NextPage = data.Page + 1
	}
	s.render(w, http.StatusOK, "equipment.html", v)
}

// cells overlays the pending edits of one record on its stored values.
func cells(e models.Equipment, pending map[string]string) []gridCell {
	out := make([]gridCell, len(gridFields))
	for i, f := range gridFields {
		c := gridCell{Field: f, Value: e.FieldValue(f), Original: e.FieldValue(f)}
		if v, ok := pending[f]; ok {
			c.Value, c.Pending = v, true
		}
		out[i] = c
	}
	return out
}

// equipmentStage records the grid's changed cells as pending edits and its
// checked rows as the selection. Nothing is written until Save.
func (s *server) equipmentStage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	staged := 0
	for key, vals := range r.PostForm {
		id, field, ok := parseCellKey(key)
		if !ok || len(vals) == 0 {
			continue
		}
		value := strings.TrimSpace(vals[0])
		if value == r.PostForm.Get("orig:"+strconv.FormatInt(id, 10)+":"+field) {
			sess.ClearEdit(id, field)
			continue
		}
		sess.SetEdit(id, field, value)
		staged++
	}

	// Only rows shown on this page can change their selection.
	shown := make(map[int64]bool)
	for _, raw := range r.PostForm["row"] {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			shown[id] = true
		}
	}
	kept := sess.Selected[:0]
	for _, id := range sess.Selected {
		if !shown[id] {
			kept = append(kept, id)
		}
	}
	for _, raw := range r.PostForm["select"] {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && shown[id] {
			kept = append(kept, id)
		}
	}
	sess.Selected = kept

	if r.PostForm.Get("action") == "delete" && len(sess.Selected) > 0 {
		http.Redirect(w, r, "/equipment/selected/delete", http.StatusFound)
		return
	}
	if staged > 0 {
		sess.Flash = fmt.Sprintf("%d change(s) staged. Save to write them.", staged)
	}
	http.Redirect(w, r, localPath(r.PostForm.Get("return"), "/equipment"), http.StatusFound)
}

// parseCellKey splits a grid input name of the form cell:<id>:<field>.
func parseCellKey(key string) (int64, string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "cell" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || !models.IsEditableField(parts[2]) {
		return 0, "", false
	}
	return id, parts[2], true
}

// ==========================
// Pending edits
// ==========================

type pendingRow struct {
	ID     int64
	Fields map[string]string
	// Problems are the violations reported for this record by the last save.
	Problems validation.Violations
}

func pendingRows(sess *session.Session, vs validation.Violations) []pendingRow {
	ids := sess.PendingIDs()
	rows := make([]pendingRow, len(ids))
	for i, id := range ids {
		rows[i] = pendingRow{ID: id, Fields: sess.PendingEdits[id]}
	}
	// Violations carry the 1-based position of the edit in the batch.
	for _, v := range vs {
		if v.Row >= 1 && v.Row <= len(rows) {
			rows[v.Row-1].Problems = append(rows[v.Row-1].Problems, v)
		}
	}
	return rows
}

func (s *server) pendingEdits(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.render(w, http.StatusOK, "pending.html", s.view(sess, "Pending changes", pendingRows(sess, nil)))
}

// saveEdits commits every pending edit in one transaction. On rejection no
// record is changed and the edits stay pending next to their problems.
func (s *server) saveEdits(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ids := sess.PendingIDs()
	if len(ids) == 0 {
		sess.Flash = "Nothing to save."
		http.Redirect(w, r, "/equipment", http.StatusFound)
		return
	}
	edits := make([]apiclient.Edit, len(ids))
	for i, id := range ids {
		edits[i] = apiclient.Edit{ID: id, Fields: sess.PendingEdits[id]}
	}

	res, err := s.client(sess).ApplyEdits(r.Context(), edits)
	if err != nil {
		v := s.view(sess, "Pending changes", nil)
		status, ok := s.apiFailure(w, r, sess, &v, err)
		if !ok {
			return
		}
		v.Data = pendingRows(sess, v.Violations)
		s.render(w, status, "pending.html", v)
		return
	}

	sess.DiscardEdits()
	sess.Flash = fmt.Sprintf("Saved: %d record(s) updated, %d unchanged.", res.Updated, res.Unchanged)
	http.Redirect(w, r, "/equipment", http.StatusFound)
}

func (s *server) discardEdits(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	n := sess.PendingCount()
	sess.DiscardEdits()
	if n > 0 {
		sess.Flash = fmt.Sprintf("Discarded %d pending change(s).", n)
	}
	http.Redirect(w, r, "/equipment", http.StatusFound)
}

// ==========================
// Selection
// ==========================

func (s *server) deleteSelectedConfirm(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if len(sess.Selected) == 0 {
		http.Redirect(w, r, "/equipment", http.StatusFound)
		return
	}
	client := s.client(sess)
	list := make([]models.Equipment, 0, len(sess.Selected))
	v := s.view(sess, "Delete equipment", nil)
	for _, id := range sess.Selected {
		e, err := client.Get(r.Context(), id)
		if apiclient.StatusOf(err) == http.StatusNotFound {
			continue
		}
		if err != nil {
			if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
				s.render(w, status, "delete_selected.html", v)
			}
			return
		}
		list = append(list, e)
	}
	v.Data = list
	s.render(w, http.StatusOK, "delete_selected.html", v)
}

func (s *server) deleteSelected(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	client := s.client(sess)
	deleted := 0
	for _, id := range append([]int64(nil), sess.Selected...) {
		err := client.Delete(r.Context(), id)
		if err != nil && apiclient.StatusOf(err) != http.StatusNotFound {
			v := s.view(sess, "Delete equipment", nil)
			if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
				v.Error = fmt.Sprintf("Deleted %d record(s), then failed on %d: %s", deleted, id, v.Error)
				s.render(w, status, "delete_selected.html", v)
			}
			return
		}
		sess.Forget(id)
		deleted++
	}
	sess.Flash = fmt.Sprintf("Deleted %d record(s).", deleted)
	http.Redirect(w, r, "/equipment", http.StatusFound)
}

// ==========================
// Single record
// ==========================

type formData struct {
	ID     int64
	Action string
	Submit string
	Values map[string]string
}

type detailData struct {
	Equipment models.Equipment
	Fields    []string
	History   []models.AuditEntry
	Pending   map[string]string
}

func (s *server) createForm(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	values := map[string]string{models.FieldStatus: models.StatusActive}
	s.render(w, http.StatusOK, "form.html", s.view(sess, "New equipment", formData{
		Action: "/equipment/new",
		Submit: "Create",
		Values: values,
	}))
}

func (s *server) create(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	values, ok := formValues(w, r)
	if !ok {
		return
	}
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if v != "" {
			fields[k] = v
		}
	}

	e, err := s.client(sess).Create(r.Context(), fields)
	if err != nil {
		v := s.view(sess, "New equipment", formData{Action: "/equipment/new", Submit: "Create", Values: values})
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "form.html", v)
		}
		return
	}
	sess.Flash = fmt.Sprintf("Created %s.", e.SerialNumber)
	http.Redirect(w, r, fmt.Sprintf("/equipment/%d", e.ID), http.StatusFound)
}

func (s *server) detail(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	client := s.client(sess)
	v := s.view(sess, "Equipment", nil)

	e, err := client.Get(r.Context(), id)
	if err == nil {
		var history []models.AuditEntry
		history, err = client.History(r.Context(), id)
		v.Data = detailData{Equipment: e, Fields: models.EditableFields, History: history, Pending: sess.PendingEdits[id]}
	}
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "detail.html", v)
		}
		return
	}
	s.render(w, http.StatusOK, "detail.html", v)
}

func (s *server) editForm(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v := s.view(sess, "Edit equipment", nil)
	e, err := s.client(sess).Get(r.Context(), id)
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "form.html", v)
		}
		return
	}
	values := make(map[string]string, len(models.EditableFields))
	for _, f := range models.EditableFields {
		values[f] = e.FieldValue(f)
	}
	v.Data = formData{ID: id, Action: fmt.Sprintf("/equipment/%d/edit", id), Submit: "Save", Values: values}
	s.render(w, http.StatusOK, "form.html", v)
}

// update sends every field of the form; the API only writes and audits the
// ones that differ from the stored record.
func (s *server) update(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	values, ok := formValues(w, r)
	if !ok {
		return
	}

	_, entries, err := s.client(sess).Update(r.Context(), id, values)
	if err != nil {
		v := s.view(sess, "Edit equipment", formData{ID: id, Action: fmt.Sprintf("/equipment/%d/edit", id), Submit: "Save", Values: values})
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "form.html", v)
		}
		return
	}
	// Saved values supersede whatever the grid had pending for this record.
	delete(sess.PendingEdits, id)
	sess.Flash = fmt.Sprintf("Saved %d change(s).", len(entries))
	http.Redirect(w, r, fmt.Sprintf("/equipment/%d", id), http.StatusFound)
}

func (s *server) deleteConfirm(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v := s.view(sess, "Delete equipment", nil)
	e, err := s.client(sess).Get(r.Context(), id)
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "delete.html", v)
		}
		return
	}
	v.Data = e
	s.render(w, http.StatusOK, "delete.html", v)
}

func (s *server) delete(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.client(sess).Delete(r.Context(), id); err != nil {
		v := s.view(sess, "Delete equipment", nil)
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "delete.html", v)
		}
		return
	}
	sess.Forget(id)
	sess.Flash = fmt.Sprintf("Equipment %d deleted.", id)
	http.Redirect(w, r, "/equipment", http.StatusFound)
}

// lookup proxies GET /lookup for the form's auto-populate script.
func (s *server) lookup(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	res, err := s.client(sess).Lookup(r.Context(), q.Get("field"), q.Get("value"))
	if err != nil {
		status := apiclient.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func formValues(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return nil, false
	}
	values := make(map[string]string, len(models.EditableFields))
	for _, f := range models.EditableFields {
		values[f] = strings.TrimSpace(r.PostForm.Get(f))
	}
	return values, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid equipment id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
