package handlers

import (
	"net/http"

	"github.com/crucial707/equipment-manager/internal/repo"
	"go.uber.org/zap"
)

// ==========================
// UserHandler
// ==========================
type UserHandler struct {
	Repo *repo.UserRepo
	Log  *zap.Logger
}

// ==========================
// List Users
// ==========================

// List serves GET /users, used to fill the actor filter of the audit view.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.Repo.List(r.Context())
	if err != nil {
		respondError(w, logger(h.Log), "user.list", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
