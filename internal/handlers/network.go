package handlers

import (
	"net/http"
	"strconv"

	"github.com/crucial707/equipment-manager/internal/graph"
	"github.com/crucial707/equipment-manager/internal/repo"
	"go.uber.org/zap"
)

// maxGraphEquipment caps the max_equipment query parameter.
const maxGraphEquipment = 2000

// NetworkHandler serves the relationship graph.
type NetworkHandler struct {
	Repo           *repo.EquipmentRepo
	Log            *zap.Logger
	FuzzyThreshold float64
	// MaxEquipment is the default equipment cap when the request does not set one.
	MaxEquipment int
}

// Graph serves GET /graph. It accepts the filters of GET /equipment and
// max_equipment, the number of equipment nodes to draw.
func (h *NetworkHandler) Graph(w http.ResponseWriter, r *http.Request) {
	max := h.MaxEquipment
	if m := r.URL.Query().Get("max_equipment"); m != "" {
		val, err := strconv.Atoi(m)
		if err != nil || val <= 0 {
			JSONError(w, "invalid max_equipment", http.StatusBadRequest)
			return
		}
		max = val
	}
	if max > maxGraphEquipment {
		max = maxGraphEquipment
	}

	req, err := listRequest(r).Normalize(h.FuzzyThreshold)
	if err != nil {
		respondError(w, logger(h.Log), "graph", err)
		return
	}
	list, err := h.Repo.FetchAll(r.Context(), req)
	if err != nil {
		respondError(w, logger(h.Log), "graph", err)
		return
	}

	writeJSON(w, http.StatusOK, graph.Build(list, graph.Options{MaxEquipment: max}))
}
