package services

import (
	"context"
	"time"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

// UserStats backs the admin guest statistics endpoint.
type UserStats struct {
	TotalGuests   int64 `json:"totalGuests"`
	ActiveToday   int64 `json:"activeToday"`
	UniqueDevices int64 `json:"uniqueDevices"`
}

type UserStore interface {
	GetUser(ctx context.Context, key string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	// UpdateUser applies fn to the stored user atomically and saves the result.
	UpdateUser(ctx context.Context, key string, fn func(*models.User) error) (*models.User, error)
	DeleteUser(ctx context.Context, key string) error
	UserStats(ctx context.Context, activeSince time.Time) (UserStats, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	// UpdateSession applies fn atomically.
	UpdateSession(ctx context.Context, id string, fn func(*models.ChatSession) error) (*models.ChatSession, error)
	SessionsByUser(ctx context.Context, userKey string) ([]*models.ChatSession, error)
	DeleteSessionsByUser(ctx context.Context, userKey string) (int64, error)
}

type ReportStore interface {
	CreateReport(ctx context.Context, r *models.ModerationReport) error
	GetReport(ctx context.Context, id string) (*models.ModerationReport, error)
	// ResolveReport applies the review only while the report is pending,
	// otherwise it returns ErrReportImmutable.
	ResolveReport(ctx context.Context, id string, status models.ReportStatus, action models.ModerationAction, reviewer string, at time.Time) (*models.ModerationReport, error)
	AddEvidence(ctx context.Context, id, url string) (*models.ModerationReport, error)
	ListReports(ctx context.Context, status models.ReportStatus, limit int) ([]*models.ModerationReport, error)
	// CountReportsAgainst counts reports about userKey that were not dismissed.
	CountReportsAgainst(ctx context.Context, userKey string) (int64, error)
	// ScrubReporter removes userKey as reporter from every report.
	ScrubReporter(ctx context.Context, userKey string) error
}

type BanStore interface {
	// UpsertBan merges rec into every active ban sharing any user key or
	// hash with it, collapsing them into one record, or inserts rec when none
	// overlaps. It must be atomic with respect to concurrent upserts.
	UpsertBan(ctx context.Context, rec *models.BanRecord) (merged *models.BanRecord, existed bool, err error)
	// FindActiveBans returns active records covering any of the given values.
	FindActiveBans(ctx context.Context, userKey, deviceHash, ipHash string) ([]*models.BanRecord, error)
	GetBan(ctx context.Context, id string) (*models.BanRecord, error)
	DeactivateBan(ctx context.Context, id string) error
}

// BanCache memoises IsBanned verdicts. Implementations may be nil-safe no-ops.
type BanCache interface {
	Get(ctx context.Context, deviceHash, ipHash string) (banned, found bool)
	Set(ctx context.Context, deviceHash, ipHash string, banned bool)
	Flush(ctx context.Context)
}

// Stores bundles the repositories the trust service works against.
type Stores struct {
	Users    UserStore
	Sessions SessionStore
	Reports  ReportStore
	Bans     BanStore
}
