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

// BanRequest describes a ban decision about one actor. Duration is ignored for
// permanent bans.
type BanRequest struct {
	UserKey      string
	DeviceHashes []string
	IPHashes     []string
	PhoneHash    string
	ReportIDs    []string
	Type         models.BanType
	Duration     time.Duration
	Reason       string
}

// CreateOrMergeBanRecord bans the actor behind req. Every device and IP hash
// seen in the actor's sessions is folded into the record so the ban follows
// them across identity resets. Overlapping active records collapse into one.
func (s *TrustService) CreateOrMergeBanRecord(ctx context.Context, req BanRequest) (*models.BanRecord, error) {
	switch req.Type {
	case models.BanPermanent:
	case models.BanTemporary:
		if req.Duration <= 0 {
			return nil, validationf("temporary ban needs a positive duration")
		}
	default:
		return nil, validationf("invalid ban type %q", req.Type)
	}

	now := s.now()
	rec := &models.BanRecord{
		ID:           uuid.NewString(),
		UserKeys:     models.Union(nil, req.UserKey),
		ReportIDs:    models.Union(nil, req.ReportIDs...),
		Type:         req.Type,
		Reason:       req.Reason,
		DeviceHashes: models.Union(nil, req.DeviceHashes...),
		IPHashes:     models.Union(nil, req.IPHashes...),
		PhoneHashes:  models.Union(nil, req.PhoneHash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Type == models.BanTemporary {
		exp := now.Add(req.Duration)
		rec.ExpiresAt = &exp
	}

	if req.UserKey != "" {
		sessions, err := s.sessions.SessionsByUser(ctx, req.UserKey)
		if err != nil {
			return nil, storageErr("actor sessions", err)
		}
		for _, sess := range sessions {
			if p, ok := sess.Participant(req.UserKey); ok {
				rec.DeviceHashes = models.Union(rec.DeviceHashes, p.DeviceHash)
				rec.IPHashes = models.Union(rec.IPHashes, p.IPHash)
			}
		}
	}

	rec.ActorRef = actorRef(rec)
	if rec.ActorRef == "" {
		return nil, validationf("ban needs at least one identifier")
	}

	merged, existed, err := s.bans.UpsertBan(ctx, rec)
	if err != nil {
		return nil, storageErr("upsert ban", err)
	}
	s.flushBanCache(ctx)
	metrics.BanUpserted(existed)

	s.log.Info("ban recorded",
		logger.BanID(merged.ID),
		logger.UserKey(req.UserKey),
		zap.Bool("merged", existed),
		zap.String("type", string(merged.Type)),
		zap.Int("devices", len(merged.DeviceHashes)),
		zap.Int("ips", len(merged.IPHashes)),
	)
	return merged, nil
}

// actorRef is the first observed hash: device, then IP, then phone, then user key.
func actorRef(b *models.BanRecord) string {
	for _, set := range [][]string{b.DeviceHashes, b.IPHashes, b.PhoneHashes, b.UserKeys} {
		if len(set) > 0 {
			return set[0]
		}
	}
	return ""
}

// IsBanned reports whether an active, unexpired ban covers the device or IP hash.
func (s *TrustService) IsBanned(ctx context.Context, deviceHash, ipHash string) (bool, error) {
	if deviceHash == "" && ipHash == "" {
		return false, nil
	}
	if s.cache != nil {
		if banned, ok := s.cache.Get(ctx, deviceHash, ipHash); ok {
			return banned, nil
		}
	}
	gen := s.banGen.Load()
	bans, err := s.activeBansFor(ctx, "", deviceHash, ipHash)
	if err != nil {
		return false, err
	}
	banned := len(bans) > 0
	if s.cache != nil && s.banGen.Load() == gen {
		s.cache.Set(ctx, deviceHash, ipHash, banned)
		// A ban change that landed between the check and Set already flushed;
		// drop what may be a stale verdict.
		if s.banGen.Load() != gen {
			s.cache.Flush(ctx)
		}
	}
	return banned, nil
}

// flushBanCache invalidates cached verdicts after any ban record change.
// The generation moves first so in-flight lookups do not repopulate the cache
// with a verdict computed against the old records.
func (s *TrustService) flushBanCache(ctx context.Context) {
	s.banGen.Add(1)
	if s.cache != nil {
		s.cache.Flush(ctx)
	}
}

// CheckMatchAllowed returns a *BanEnforcementError when any participant is banned.
func (s *TrustService) CheckMatchAllowed(ctx context.Context, participants ...models.Participant) error {
	return s.checkParticipants(ctx, participants)
}

// Unban deactivates a record. The hashes stay on it. Users the record named
// become active again unless another effective ban still covers them.
func (s *TrustService) Unban(ctx context.Context, id string) error {
	rec, err := s.bans.GetBan(ctx, id)
	if err != nil {
		return storageErr("get ban", err)
	}
	if err := s.bans.DeactivateBan(ctx, id); err != nil {
		return storageErr("deactivate ban", err)
	}
	s.flushBanCache(ctx)
	s.log.Info("ban lifted", logger.BanID(id))

	for _, key := range rec.UserKeys {
		if _, err := s.ReconcileStatus(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Warn("status restore after unban failed", logger.UserKey(key), logger.Err(err))
		}
	}
	return nil
}

// ReconcileStatus moves a banned or suspended user back to active once no
// effective ban covers their key, which is how expired temporary bans end.
// It returns the user as stored afterwards.
func (s *TrustService) ReconcileStatus(ctx context.Context, userKey string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, userKey)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	if u.Status == models.UserStatusActive {
		return u, nil
	}
	bans, err := s.activeBansFor(ctx, userKey, "", "")
	if err != nil {
		return nil, err
	}
	if len(bans) > 0 {
		return u, nil
	}
	u, err = s.users.UpdateUser(ctx, userKey, func(u *models.User) error {
		u.Status = models.UserStatusActive
		u.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, storageErr("set status", err)
	}
	s.log.Info("user reactivated", logger.UserKey(userKey))
	return u, nil
}

func (s *TrustService) GetBan(ctx context.Context, id string) (*models.BanRecord, error) {
	b, err := s.bans.GetBan(ctx, id)
	if err != nil {
		return nil, storageErr("get ban", err)
	}
	return b, nil
}

func (s *TrustService) activeBansFor(ctx context.Context, userKey, deviceHash, ipHash string) ([]*models.BanRecord, error) {
	found, err := s.bans.FindActiveBans(ctx, userKey, deviceHash, ipHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, storageErr("find bans", err)
	}
	now := s.now()
	out := found[:0]
	for _, b := range found {
		if b.Effective(now) {
			out = append(out, b)
		}
	}
	return out, nil
}
