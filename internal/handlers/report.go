package handlers

import (
	"net/http"
	"strings"

	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/repo"
	"go.uber.org/zap"
)

// ReportHandler serves the analysis report and the form lookup.
type ReportHandler struct {
	Repo *repo.EquipmentRepo
	Log  *zap.Logger
}

// LookupResponse is the body of GET /lookup. Result is empty when nothing matched.
type LookupResponse struct {
	Found  bool                `json:"found"`
	Result models.LookupResult `json:"result"`
}

// Stats serves GET /stats.
func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.Stats(r.Context())
	if err != nil {
		respondError(w, logger(h.Log), "equipment.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Lookup serves GET /lookup?field=customer_id&value=C-100.
func (h *ReportHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	value := strings.TrimSpace(r.URL.Query().Get("value"))
	if value == "" {
		JSONError(w, "value is required", http.StatusBadRequest)
		return
	}

	res, found, err := h.Repo.Lookup(r.Context(), field, value)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Found: found, Result: res})
}
