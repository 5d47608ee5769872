package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/metrics"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

const (
	suspendBanDuration = 7 * 24 * time.Hour
	maxDescriptionLen  = 2000
	defaultReportLimit = 50
)

// escalation maps the number of open reports against a user to the
// automatic ban it triggers.
var escalation = []struct {
	reports  int64
	banType  models.BanType
	duration time.Duration
}{
	{9, models.BanPermanent, 0},
	{6, models.BanTemporary, 14 * 24 * time.Hour},
	{3, models.BanTemporary, 7 * 24 * time.Hour},
}

// ReportRequest is a moderation report as filed by a participant or the
// automatic content checks. ReporterKey is empty for automatic reports.
type ReportRequest struct {
	SessionID       string
	ReporterKey     string
	ReportedUserKey string
	ViolationType   models.ViolationType
	Description     string
	EvidenceURLs    []string
	AutoDetected    bool
	ConfidenceScore float64
}

// CreateModerationReport files a pending report and applies the escalation
// ladder: the 3rd and 6th open report against a user ban them temporarily and
// the 9th and later ban them permanently.
func (s *TrustService) CreateModerationReport(ctx context.Context, req ReportRequest) (*models.ModerationReport, error) {
	if !req.ViolationType.Valid() {
		return nil, validationf("invalid violation type %q", req.ViolationType)
	}
	if req.ConfidenceScore < 0 || req.ConfidenceScore > 1 {
		return nil, validationf("confidence score must be within [0,1]")
	}
	if len(req.Description) > maxDescriptionLen {
		return nil, validationf("description longer than %d characters", maxDescriptionLen)
	}
	if req.ReporterKey != "" && req.ReporterKey == req.ReportedUserKey {
		return nil, validationf("cannot report yourself")
	}

	sess, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, storageErr("get session", err)
	}
	reported, ok := sess.Participant(req.ReportedUserKey)
	if !ok {
		return nil, validationf("reported user is not in session")
	}
	if req.ReporterKey != "" {
		if _, ok := sess.Participant(req.ReporterKey); !ok {
			return nil, validationf("reporter is not in session")
		}
	}

	desc, err := s.cipher.Encrypt(req.Description)
	if err != nil {
		return nil, err
	}
	report := &models.ModerationReport{
		ID:              uuid.NewString(),
		SessionID:       req.SessionID,
		ReportedUserKey: req.ReportedUserKey,
		ReporterKey:     req.ReporterKey,
		ViolationType:   req.ViolationType,
		Description:     desc,
		EvidenceURLs:    append([]string{}, req.EvidenceURLs...),
		AutoDetected:    req.AutoDetected,
		ConfidenceScore: req.ConfidenceScore,
		Status:          models.ReportPending,
		CreatedAt:       s.now(),
	}
	if err := s.reports.CreateReport(ctx, report); err != nil {
		return nil, storageErr("create report", err)
	}
	metrics.ReportCreated(string(req.ViolationType), req.AutoDetected)
	s.log.Info("report filed",
		logger.ReportID(report.ID),
		logger.SessionID(req.SessionID),
		logger.UserKey(req.ReportedUserKey),
		zap.String("violation", string(req.ViolationType)),
		zap.Bool("auto", req.AutoDetected),
	)

	if err := s.escalate(ctx, report, reported); err != nil {
		// The report itself is stored; escalation is retried by the next report.
		s.log.Error("report escalation failed", logger.ReportID(report.ID), logger.Err(err))
	}

	report.Description = req.Description
	return report, nil
}

func (s *TrustService) escalate(ctx context.Context, report *models.ModerationReport, p models.Participant) error {
	n, err := s.reports.CountReportsAgainst(ctx, report.ReportedUserKey)
	if err != nil {
		return storageErr("count reports", err)
	}
	for _, step := range escalation {
		if n < step.reports {
			continue
		}
		// Between thresholds nothing changes; from 9 on every report re-applies
		// the permanent ban so new hashes keep getting absorbed.
		if n != step.reports && step.banType != models.BanPermanent {
			return nil
		}
		_, err := s.CreateOrMergeBanRecord(ctx, BanRequest{
			UserKey:      report.ReportedUserKey,
			DeviceHashes: []string{p.DeviceHash},
			IPHashes:     []string{p.IPHash},
			ReportIDs:    []string{report.ID},
			Type:         step.banType,
			Duration:     step.duration,
			Reason:       "automatic: repeated reports",
		})
		if err != nil {
			return err
		}
		if err := s.SetUserStatus(ctx, report.ReportedUserKey, models.UserStatusBanned); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	return nil
}

// ReportSession marks a session reported by one of its participants and files
// a report against the other one.
func (s *TrustService) ReportSession(ctx context.Context, sessionID, reporterKey string, violation models.ViolationType, description string) (*models.ModerationReport, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageErr("get session", err)
	}
	if _, ok := sess.Participant(reporterKey); !ok {
		return nil, ErrNotFound
	}
	var reported string
	for _, p := range sess.Participants {
		if p.UserKey != reporterKey {
			reported = p.UserKey
		}
	}
	if reported == "" {
		return nil, validationf("session has no other participant")
	}

	report, err := s.CreateModerationReport(ctx, ReportRequest{
		SessionID:       sessionID,
		ReporterKey:     reporterKey,
		ReportedUserKey: reported,
		ViolationType:   violation,
		Description:     description,
		ConfidenceScore: 1,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.endSession(ctx, sessionID, models.ChatStatusReported, "reported", reporterKey); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return report, err
	}
	return report, nil
}

// ResolveReport records a reviewer decision. A report can be reviewed once;
// later attempts get ErrReportImmutable. The action is applied before the
// report leaves pending, so a failed ban leaves the report open for a retry.
func (s *TrustService) ResolveReport(ctx context.Context, id string, status models.ReportStatus, action models.ModerationAction, reviewer string) (*models.ModerationReport, error) {
	switch status {
	case models.ReportReviewed, models.ReportResolved, models.ReportDismissed:
	default:
		return nil, validationf("invalid resolution status %q", status)
	}
	if action != "" && !action.Valid() {
		return nil, validationf("invalid action %q", action)
	}
	if status == models.ReportDismissed {
		action = ""
	}

	current, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, storageErr("get report", err)
	}
	if current.Status != models.ReportPending {
		return nil, ErrReportImmutable
	}
	decided := *current
	decided.Status = status
	decided.Action = action
	if err := s.applyAction(ctx, &decided); err != nil {
		return nil, err
	}

	report, err := s.reports.ResolveReport(ctx, id, status, action, reviewer, s.now())
	if err != nil {
		if errors.Is(err, ErrReportImmutable) && action != "" {
			s.log.Warn("report resolved concurrently after action was applied", logger.ReportID(id))
		}
		return nil, storageErr("resolve report", err)
	}
	s.log.Info("report resolved",
		logger.ReportID(id),
		zap.String("status", string(status)),
		zap.String("action", string(action)),
	)
	return s.decrypt(report), nil
}

func (s *TrustService) applyAction(ctx context.Context, r *models.ModerationReport) error {
	var (
		req    BanRequest
		status models.UserStatus
	)
	switch r.Action {
	case models.ActionSuspend:
		req = BanRequest{Type: models.BanTemporary, Duration: suspendBanDuration}
		status = models.UserStatusSuspended
	case models.ActionBan, models.ActionReportLawEnforcement:
		req = BanRequest{Type: models.BanPermanent}
		status = models.UserStatusBanned
	default:
		return nil
	}

	req.UserKey = r.ReportedUserKey
	req.ReportIDs = []string{r.ID}
	req.Reason = string(r.ViolationType)
	if sess, err := s.sessions.GetSession(ctx, r.SessionID); err == nil {
		if p, ok := sess.Participant(r.ReportedUserKey); ok {
			req.DeviceHashes = []string{p.DeviceHash}
			req.IPHashes = []string{p.IPHash}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return storageErr("get session", err)
	}
	if _, err := s.CreateOrMergeBanRecord(ctx, req); err != nil {
		return err
	}
	if err := s.SetUserStatus(ctx, r.ReportedUserKey, status); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ListReports returns reports with the given status, newest first. An empty
// status lists every report.
func (s *TrustService) ListReports(ctx context.Context, status models.ReportStatus, limit int) ([]*models.ModerationReport, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultReportLimit
	}
	list, err := s.reports.ListReports(ctx, status, limit)
	if err != nil {
		return nil, storageErr("list reports", err)
	}
	for i, r := range list {
		list[i] = s.decrypt(r)
	}
	return list, nil
}

func (s *TrustService) GetReport(ctx context.Context, id string) (*models.ModerationReport, error) {
	r, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, storageErr("get report", err)
	}
	return s.decrypt(r), nil
}

func (s *TrustService) decrypt(r *models.ModerationReport) *models.ModerationReport {
	plain, err := s.cipher.Decrypt(r.Description)
	if err != nil {
		s.log.Warn("report description unreadable", logger.ReportID(r.ID), logger.Err(err))
		plain = ""
	}
	out := *r
	out.Description = plain
	return &out
}
