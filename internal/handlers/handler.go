package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/matching"
	"github.com/AnshRaj112/shadowmatch-backend/internal/safety"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

const maxBodyBytes = 64 << 10

// Handler carries the dependencies every route needs.
type Handler struct {
	Trust      *services.TrustService
	Match      *matching.Matchmaker
	Moderator  *safety.Moderator
	TrustProxy bool
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message, Code: code})
}

// writeServiceError maps trust-service errors onto HTTP responses. Anything
// unrecognised is logged and reported as a 500 with fallback as message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	case errors.Is(err, services.ErrBanEnforcement):
		writeError(w, http.StatusForbidden, "USER_BANNED", "This device is banned")
	case errors.Is(err, services.ErrReportImmutable):
		writeError(w, http.StatusConflict, "REPORT_ALREADY_REVIEWED", "Report has already been reviewed")
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", "Session cannot move to that state")
	case errors.Is(err, services.ErrInsufficientCoins):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_COINS", "Not enough coins")
	default:
		logger.From(r.Context()).Error(fallback, logger.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return false
	}
	return true
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "ok",
	})
}
