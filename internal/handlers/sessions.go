package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/shadowmatch-backend/internal/middleware"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/safety"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

type EndSessionRequest struct {
	Reason string `json:"reason"`
}

// EndSession lets a participant leave a session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "user_left"
	}
	g, _ := middleware.GuestFrom(r.Context())

	sess, err := h.Trust.EndSession(r.Context(), chi.URLParam(r, "id"), g.UserKey, safety.SanitizeText(req.Reason))
	if err != nil {
		writeServiceError(w, r, err, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": sess,
	})
}

type ReportSessionRequest struct {
	ViolationType models.ViolationType `json:"violationType"`
	Description   string               `json:"description"`
}

// ReportSession files a report against the other participant.
func (h *Handler) ReportSession(w http.ResponseWriter, r *http.Request) {
	var req ReportSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ViolationType == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "violationType is required")
		return
	}
	g, _ := middleware.GuestFrom(r.Context())

	report, err := h.Trust.ReportSession(r.Context(), chi.URLParam(r, "id"), g.UserKey, req.ViolationType, safety.SanitizeText(req.Description))
	if err != nil {
		writeServiceError(w, r, err, "Failed to create report")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"message":  "Report submitted successfully. Our team will review it.",
		"reportId": report.ID,
	})
}

type ModerateTextRequest struct {
	Text string `json:"text"`
}

// ModerateText scores a chat message from the caller. Blocked or bannable
// messages file an automatic report against the sender.
func (h *Handler) ModerateText(w http.ResponseWriter, r *http.Request) {
	var req ModerateTextRequest
	if !decode(w, r, &req) {
		return
	}
	g, _ := middleware.GuestFrom(r.Context())
	res := h.Moderator.ModerateText(req.Text)

	var reportID string
	if res.Action == safety.ActionBlock || res.Action == safety.ActionBan {
		report, err := h.Trust.CreateModerationReport(r.Context(), services.ReportRequest{
			SessionID:       chi.URLParam(r, "id"),
			ReportedUserKey: g.UserKey,
			ViolationType:   violationFor(res),
			Description:     safety.SanitizeText(req.Text),
			AutoDetected:    true,
			ConfidenceScore: res.Confidence,
		})
		if err != nil {
			writeServiceError(w, r, err, "Failed to moderate message")
			return
		}
		reportID = report.ID
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"allowed":    res.IsAllowed,
		"action":     res.Action,
		"confidence": res.Confidence,
		"reasons":    res.Reasons,
		"reportId":   reportID,
	})
}

func violationFor(res safety.Result) models.ViolationType {
	explicit := false
	for _, reason := range res.Reasons {
		if strings.HasPrefix(reason, "harassment:") {
			return models.ViolationHarassment
		}
		explicit = explicit || strings.HasPrefix(reason, "explicit:")
	}
	if explicit {
		return models.ViolationExplicitContent
	}
	return models.ViolationSpam
}
