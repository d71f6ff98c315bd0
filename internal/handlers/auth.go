package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ==========================
// Auth Handler
// ==========================
type AuthHandler struct {
	UserRepo *repo.UserRepo
	Secret   []byte
	// TokenTTL is the lifetime of issued tokens; zero means 24 hours.
	TokenTTL time.Duration
	Log      *zap.Logger
	now      func() time.Time
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// ==========================
// Register (optional password; stored as bcrypt hash)
// ==========================
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" {
		JSONError(w, "username is required", http.StatusBadRequest)
		return
	}

	user, err := h.UserRepo.Create(r.Context(), input.Username, input.Password)
	if err != nil {
		// Idempotent: if user already exists, return existing user (200)
		if db.IsConstraint(err) {
			existing, getErr := h.UserRepo.GetByUsername(r.Context(), input.Username)
			if getErr != nil {
				respondError(w, logger(h.Log), "auth.register", getErr)
				return
			}
			writeJSON(w, http.StatusOK, existing)
			return
		}
		respondError(w, logger(h.Log), "auth.register", err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// ==========================
// Login (username required; if user has password set, password required and verified)
// ==========================
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := h.UserRepo.GetByUsername(r.Context(), strings.TrimSpace(input.Username))
	if err != nil {
		if db.IsRetryable(err) {
			respondError(w, logger(h.Log), "auth.login", err)
			return
		}
		JSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !repo.CheckPassword(user, input.Password) {
		JSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	exp := now().Add(ttl)

	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.Secret)
	if err != nil {
		logger(h.Log).Error("auth.login: sign token", zap.Error(err))
		JSONError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	logger(h.Log).Info("user signed in", zap.String("username", user.Username))
	writeJSON(w, http.StatusOK, LoginResponse{Token: signed, ExpiresAt: exp.UTC().Truncate(time.Second), User: user})
}
