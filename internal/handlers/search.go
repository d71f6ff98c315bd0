package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/crucial707/equipment-manager/internal/search"
)

// Search serves POST /search with a search.Request body. An empty body matches
// every active record. The response carries a summary of the whole match set.
func (h *EquipmentHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			JSONError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	req, err := req.Normalize(h.FuzzyThreshold)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.search", err)
		return
	}
	resp, ok := h.page(w, r, req)
	if !ok {
		return
	}
	sum, err := h.Repo.Summarize(r.Context(), req)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.summarize", err)
		return
	}
	resp.Summary = &sum
	writeJSON(w, http.StatusOK, resp)
}
