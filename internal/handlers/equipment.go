package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/crucial707/equipment-manager/internal/middleware"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EquipmentHandler serves equipment CRUD, grid batches and per-record history.
type EquipmentHandler struct {
	Repo           *repo.EquipmentRepo
	Audit          *repo.AuditRepo
	Log            *zap.Logger
	FuzzyThreshold float64
}

// ListResponse is one page of equipment.
type ListResponse struct {
	Items  []models.Equipment `json:"items"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`

	// Summary is set by POST /search.
	Summary *models.SearchSummary `json:"summary,omitempty"`
}

// FieldsRequest is the body of create and update: raw field values as typed into a form.
type FieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

// BatchRequest is the body of POST /equipment/batch.
type BatchRequest struct {
	Edits []repo.Edit `json:"edits"`
}

// UpdateResponse returns the stored record and the audit entries the update wrote.
type UpdateResponse struct {
	Equipment models.Equipment   `json:"equipment"`
	Audit     []models.AuditEntry `json:"audit"`
}

//
// ==========================
// List / quick search
// ==========================
//

// List serves GET /equipment. Query: q, sort, desc, limit, offset, fuzzy, threshold.
func (h *EquipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r).Normalize(h.FuzzyThreshold)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.list", err)
		return
	}
	h.fetch(w, r, req)
}

func (h *EquipmentHandler) fetch(w http.ResponseWriter, r *http.Request, req search.Request) {
	resp, ok := h.page(w, r, req)
	if ok {
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *EquipmentHandler) page(w http.ResponseWriter, r *http.Request, req search.Request) (ListResponse, bool) {
	items, total, err := h.Repo.Fetch(r.Context(), req)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.fetch", err)
		return ListResponse{}, false
	}
	if items == nil {
		items = []models.Equipment{}
	}
	return ListResponse{Items: items, Total: total, Limit: req.Limit, Offset: req.Offset}, true
}

func listRequest(r *http.Request) search.Request {
	q := r.URL.Query()
	req := search.Request{
		Query: q.Get("q"),
		Sort:  q.Get("sort"),
	}
	req.Desc, _ = strconv.ParseBool(q.Get("desc"))
	if l, err := strconv.Atoi(q.Get("limit")); err == nil {
		req.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil {
		req.Offset = o
	}
	if text := strings.TrimSpace(q.Get("fuzzy")); text != "" {
		f := &search.Fuzzy{Text: text}
		if t, err := strconv.ParseFloat(q.Get("threshold"), 64); err == nil {
			f.Threshold = &t
		}
		req.Fuzzy = f
	}
	return req
}

//
// ==========================
// Create
// ==========================
//

// Create serves POST /equipment.
func (h *EquipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input FieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	e, vs := validation.Apply(models.Equipment{}, input.Fields)
	if len(vs) > 0 {
		JSONValidationError(w, "validation failed", vs, http.StatusBadRequest)
		return
	}

	created, err := h.Repo.Insert(r.Context(), e, middleware.Username(r.Context()))
	if err != nil {
		respondError(w, logger(h.Log), "equipment.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

//
// ==========================
// Get / Update / Delete
// ==========================
//

// Get serves GET /equipment/{id}.
func (h *EquipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.get", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Update serves PUT /equipment/{id}. Only the fields present in the body are changed.
func (h *EquipmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var input FieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(input.Fields) == 0 {
		JSONError(w, "no fields to update", http.StatusBadRequest)
		return
	}

	e, entries, err := h.Repo.Update(r.Context(), id, input.Fields, middleware.Username(r.Context()))
	if err != nil {
		respondError(w, logger(h.Log), "equipment.update", err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, UpdateResponse{Equipment: e, Audit: entries})
}

// Delete serves DELETE /equipment/{id} as a soft delete.
func (h *EquipmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Repo.Delete(r.Context(), id, middleware.Username(r.Context())); err != nil {
		respondError(w, logger(h.Log), "equipment.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// ==========================
// Batch
// ==========================
//

// Batch serves POST /equipment/batch: all grid edits commit together or not at all.
func (h *EquipmentHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var input BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(input.Edits) == 0 {
		JSONError(w, "no edits", http.StatusBadRequest)
		return
	}

	res, err := h.Repo.ApplyEdits(r.Context(), input.Edits, middleware.Username(r.Context()))
	if err != nil {
		respondError(w, logger(h.Log), "equipment.batch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

//
// ==========================
// History
// ==========================
//

// History serves GET /equipment/{id}/audit. History stays readable after a delete.
func (h *EquipmentHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.Audit.ListByEquipment(r.Context(), id)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.history", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		JSONError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
