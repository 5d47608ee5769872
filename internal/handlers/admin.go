package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

const maxEvidenceBytes = 10 << 20

// ListReports supports ?status=pending|reviewed|resolved|dismissed and ?limit=.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	status := models.ReportStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	reports, err := h.Trust.ListReports(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reports": reports,
		"total":   len(reports),
	})
}

type ResolveReportRequest struct {
	Status   models.ReportStatus     `json:"status"`
	Action   models.ModerationAction `json:"action"`
	Reviewer string                  `json:"reviewer"`
}

func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	var req ResolveReportRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		req.Reviewer = "admin"
	}

	report, err := h.Trust.ResolveReport(r.Context(), chi.URLParam(r, "id"), req.Status, req.Action, req.Reviewer)
	if err != nil {
		writeServiceError(w, r, err, "Failed to resolve report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

// CreateBanRequest accepts either a user key or a raw guest id. Phone numbers
// are hashed on arrival and never stored.
type CreateBanRequest struct {
	UserKey      string         `json:"userKey"`
	GuestID      string         `json:"guestId"`
	DeviceHashes []string       `json:"deviceHashes"`
	IPHashes     []string       `json:"ipHashes"`
	Phone        string         `json:"phone"`
	ReportIDs    []string       `json:"reportIds"`
	Type         models.BanType `json:"type"`
	DurationDays int            `json:"durationDays"`
	Reason       string         `json:"reason"`
}

func (h *Handler) CreateBan(w http.ResponseWriter, r *http.Request) {
	var req CreateBanRequest
	if !decode(w, r, &req) {
		return
	}

	banReq := services.BanRequest{
		UserKey:      req.UserKey,
		DeviceHashes: req.DeviceHashes,
		IPHashes:     req.IPHashes,
		ReportIDs:    req.ReportIDs,
		Type:         req.Type,
		Duration:     time.Duration(req.DurationDays) * 24 * time.Hour,
		Reason:       req.Reason,
	}
	if token, ok := normalizeToken(req.GuestID); ok {
		banReq.UserKey = utils.HashGuest(token)
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		banReq.PhoneHash = utils.HashPhone(phone)
	}
	for _, set := range [][]string{banReq.DeviceHashes, banReq.IPHashes} {
		for _, v := range set {
			if !utils.IsHexToken(v) {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hashes must be 64 lowercase hex characters")
				return
			}
		}
	}

	rec, err := h.Trust.CreateOrMergeBanRecord(r.Context(), banReq)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create ban")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"ban":     rec,
	})
}

// CheckBan answers ?deviceHash=&ipHash=.
func (h *Handler) CheckBan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	banned, err := h.Trust.IsBanned(r.Context(), q.Get("deviceHash"), q.Get("ipHash"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to check ban")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"banned":  banned,
	})
}

func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	if err := h.Trust.Unban(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err, "Failed to lift ban")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Ban lifted",
	})
}

// UploadEvidence takes a multipart "file" field.
func (h *Handler) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceBytes)
	if err := r.ParseMultipartForm(maxEvidenceBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "File too large or malformed form")
		return
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required")
		return
	}

	report, err := h.Trust.AttachEvidence(r.Context(), chi.URLParam(r, "id"), fh)
	if err != nil {
		writeServiceError(w, r, err, "Failed to upload evidence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

type AdjustCoinsRequest struct {
	Delta int64 `json:"delta"`
}

func (h *Handler) AdjustCoins(w http.ResponseWriter, r *http.Request) {
	var req AdjustCoinsRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Trust.AdjustCoins(r.Context(), chi.URLParam(r, "key"), req.Delta)
	if err != nil {
		writeServiceError(w, r, err, "Failed to adjust coins")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"coins":   u.Coins,
	})
}
