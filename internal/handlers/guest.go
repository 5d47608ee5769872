package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/middleware"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

type VerifyGuestRequest struct {
	GuestID    string             `json:"guestId"`
	DeviceMeta *models.DeviceMeta `json:"deviceMeta"`
}

type GuestSummary struct {
	Sessions  int64     `json:"sessions"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
}

type VerifyGuestResponse struct {
	Success bool         `json:"success"`
	Guest   GuestSummary `json:"guest"`
	IsNew   bool         `json:"isNew"`
	Message string       `json:"message"`
}

func summarize(u *models.User) GuestSummary {
	return GuestSummary{
		Sessions:  u.Sessions,
		LastSeen:  u.LastActiveAt,
		CreatedAt: u.CreatedAt,
		Tier:      string(u.Tier),
		Status:    string(u.Status),
	}
}

// normalizeToken lowercases a client token; clients may send it uppercase.
func normalizeToken(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, utils.IsHexToken(s)
}

// VerifyGuest creates the guest on first contact and refreshes it afterwards.
func (h *Handler) VerifyGuest(w http.ResponseWriter, r *http.Request) {
	var req VerifyGuestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.GuestID == "" {
		writeError(w, http.StatusBadRequest, "GUEST_ID_REQUIRED", "guestId is required")
		return
	}
	token, ok := normalizeToken(req.GuestID)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_GUEST_ID", "Invalid guest ID format")
		return
	}

	meta := req.DeviceMeta
	if meta == nil {
		meta = &models.DeviceMeta{
			Version:           "1.0",
			Timestamp:         time.Now().UnixMilli(),
			UserAgent:         r.UserAgent(),
			Language:          "en",
			Timezone:          "UTC",
			Platform:          "unknown",
			FingerprintMethod: "unknown",
		}
	}

	u, isNew, err := h.Trust.EnsureUser(r.Context(), utils.HashGuest(token), meta)
	if err != nil {
		writeServiceError(w, r, err, "Failed to verify guest")
		return
	}

	msg := "Guest verified successfully"
	if isNew {
		msg = "Guest created successfully"
	}
	logger.From(r.Context()).Info("guest verified", logger.UserKey(u.Key), zap.Bool("new", isNew))
	writeJSON(w, http.StatusOK, VerifyGuestResponse{Success: true, Guest: summarize(u), IsNew: isNew, Message: msg})
}

type ResetGuestRequest struct {
	OldGuestID string `json:"oldGuestId"`
}

// ResetGuest retires the record of an identity the client has thrown away.
func (h *Handler) ResetGuest(w http.ResponseWriter, r *http.Request) {
	var req ResetGuestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OldGuestID == "" {
		writeError(w, http.StatusBadRequest, "GUEST_ID_REQUIRED", "oldGuestId is required")
		return
	}
	if token, ok := normalizeToken(req.OldGuestID); ok {
		if err := h.Trust.RetireUser(r.Context(), utils.HashGuest(token)); err != nil {
			writeServiceError(w, r, err, "Failed to reset guest identity")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Guest identity reset successfully",
	})
}

// DeleteGuestData erases everything stored under a guest id.
func (h *Handler) DeleteGuestData(w http.ResponseWriter, r *http.Request) {
	token, ok := normalizeToken(chi.URLParam(r, "guestId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_GUEST_ID", "Invalid guest ID format")
		return
	}
	if err := h.Trust.PurgeUser(r.Context(), utils.HashGuest(token)); err != nil {
		writeServiceError(w, r, err, "Failed to delete guest data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Guest data deleted successfully",
	})
}

// GuestStats is admin only.
func (h *Handler) GuestStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Trust.UserStats(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch guest statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   st,
	})
}

// Me returns the caller's profile, creating it if verify was skipped.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	g, _ := middleware.GuestFrom(r.Context())
	u, _, err := h.Trust.EnsureUser(r.Context(), g.UserKey, nil)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    u,
	})
}

type UpdatePreferencesRequest struct {
	Preferences models.Preferences `json:"preferences"`
	Gender      models.Gender      `json:"gender"`
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req UpdatePreferencesRequest
	if !decode(w, r, &req) {
		return
	}
	g, _ := middleware.GuestFrom(r.Context())
	if _, _, err := h.Trust.EnsureUser(r.Context(), g.UserKey, nil); err != nil {
		writeServiceError(w, r, err, "Failed to update preferences")
		return
	}
	u, err := h.Trust.UpdatePreferences(r.Context(), g.UserKey, req.Preferences, req.Gender)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    u,
	})
}
