package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/crucial707/equipment-manager/internal/repo"
	"go.uber.org/zap"
)

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	Repo *repo.AuditRepo
	Log  *zap.Logger
}

// List returns audit entries, newest first.
// Query: limit (default 50), offset, equipment_id, actor, field, since (RFC 3339 or YYYY-MM-DD).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.AuditFilter{
		Actor: q.Get("actor"),
		Field: q.Get("field"),
	}
	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			f.Limit = val
		}
	}
	if o := q.Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			f.Offset = val
		}
	}
	if id := q.Get("equipment_id"); id != "" {
		val, err := strconv.ParseInt(id, 10, 64)
		if err != nil || val <= 0 {
			JSONError(w, "invalid equipment_id", http.StatusBadRequest)
			return
		}
		f.EquipmentID = val
	}
	if s := q.Get("since"); s != "" {
		since, err := parseSince(s)
		if err != nil {
			JSONError(w, "invalid since, use RFC 3339 or YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		f.Since = since
	}

	entries, err := h.Repo.List(r.Context(), f)
	if err != nil {
		respondError(w, logger(h.Log), "audit.list", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
