package models

import (
	"time"
)

type ViolationType string

const (
	ViolationNudity          ViolationType = "nudity"
	ViolationExplicitContent ViolationType = "explicit_content"
	ViolationHarassment      ViolationType = "harassment"
	ViolationSpam            ViolationType = "spam"
	ViolationUnderage        ViolationType = "underage"
	ViolationViolence        ViolationType = "violence"
)

func (v ViolationType) Valid() bool {
	switch v {
	case ViolationNudity, ViolationExplicitContent, ViolationHarassment,
		ViolationSpam, ViolationUnderage, ViolationViolence:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

type ModerationAction string

const (
	ActionWarn                 ModerationAction = "warn"
	ActionSuspend              ModerationAction = "suspend"
	ActionBan                  ModerationAction = "ban"
	ActionReportLawEnforcement ModerationAction = "report_law_enforcement"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ActionWarn, ActionSuspend, ActionBan, ActionReportLawEnforcement:
		return true
	}
	return false
}

// ModerationReport is immutable once its status leaves pending.
type ModerationReport struct {
	ID              string           `bson:"_id" json:"id"`
	SessionID       string           `bson:"session_id" json:"session_id"`
	ReportedUserKey string           `bson:"reported_user_key" json:"reported_user_key"`
	ReporterKey     string           `bson:"reporter_key,omitempty" json:"reporter_key,omitempty"`
	ViolationType   ViolationType    `bson:"violation_type" json:"violation_type"`
	Description     string           `bson:"description" json:"description"` // encrypted at rest when a key is configured
	EvidenceURLs    []string         `bson:"evidence_urls" json:"evidence_urls"`
	AutoDetected    bool             `bson:"auto_detected" json:"auto_detected"`
	ConfidenceScore float64          `bson:"confidence_score" json:"confidence_score"`
	Status          ReportStatus     `bson:"status" json:"status"`
	Action          ModerationAction `bson:"action,omitempty" json:"action,omitempty"`
	ReviewedBy      string           `bson:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
}
