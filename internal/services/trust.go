package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

const (
	maxInterests   = 20
	maxInterestLen = 32
	minAge         = 18
	maxAge         = 120
)

// TrustService owns users, sessions, moderation reports and ban records.
// Handlers and the matchmaker only ever hand it hashed identifiers.
type TrustService struct {
	users    UserStore
	sessions SessionStore
	reports  ReportStore
	bans     BanStore

	cache    BanCache
	cipher   *utils.FieldCipher
	evidence EvidenceUploader
	banGen   atomic.Uint64

	now func() time.Time
	log *zap.Logger
}

type Option func(*TrustService)

func WithBanCache(c BanCache) Option                 { return func(s *TrustService) { s.cache = c } }
func WithFieldCipher(c *utils.FieldCipher) Option    { return func(s *TrustService) { s.cipher = c } }
func WithEvidenceUploader(u EvidenceUploader) Option { return func(s *TrustService) { s.evidence = u } }
func WithClock(now func() time.Time) Option          { return func(s *TrustService) { s.now = now } }
func WithLogger(l *zap.Logger) Option                { return func(s *TrustService) { s.log = l } }

func NewTrustService(st Stores, opts ...Option) *TrustService {
	s := &TrustService{
		users:    st.Users,
		sessions: st.Sessions,
		reports:  st.Reports,
		bans:     st.Bans,
		now:      time.Now,
		log:      logger.Named("trust"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- users ---

// EnsureUser creates the user on first contact and otherwise refreshes
// last_active_at and the reported device metadata.
func (s *TrustService) EnsureUser(ctx context.Context, userKey string, meta *models.DeviceMeta) (*models.User, bool, error) {
	if !utils.IsHexToken(userKey) {
		return nil, false, validationf("malformed user key")
	}
	now := s.now()

	u, err := s.users.UpdateUser(ctx, userKey, func(u *models.User) error {
		u.LastActiveAt = now
		u.UpdatedAt = now
		if meta != nil {
			u.DeviceMeta = meta
		}
		return nil
	})
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, storageErr("update user", err)
	}

	u = models.NewGuest(userKey, now)
	u.DeviceMeta = meta
	if err := s.users.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent verify for the same key.
		if existing, getErr := s.users.GetUser(ctx, userKey); getErr == nil {
			return existing, false, nil
		}
		return nil, false, storageErr("create user", err)
	}
	s.log.Info("user created", logger.UserKey(userKey))
	return u, true, nil
}

func (s *TrustService) GetUser(ctx context.Context, userKey string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, userKey)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// NormalizePreferences validates p and returns a cleaned copy: lowercase,
// deduplicated interests and a lowercase language tag.
func NormalizePreferences(p models.Preferences) (models.Preferences, error) {
	out := models.Preferences{
		Language:         strings.ToLower(strings.TrimSpace(p.Language)),
		GenderPreference: p.GenderPreference,
		Interests:        []string{},
	}
	if out.Language == "" {
		return out, validationf("language is required")
	}
	switch out.GenderPreference {
	case "":
		out.GenderPreference = models.GenderAny
	case models.GenderAny, models.GenderMale, models.GenderFemale:
	default:
		return out, validationf("invalid gender preference %q", p.GenderPreference)
	}
	for _, tag := range p.Interests {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if len(tag) > maxInterestLen {
			return out, validationf("interest %q too long", tag)
		}
		out.Interests = models.Union(out.Interests, tag)
	}
	if len(out.Interests) > maxInterests {
		return out, validationf("at most %d interests", maxInterests)
	}
	if p.AgeRange != nil {
		r := *p.AgeRange
		if !r.Valid() || r.Min < minAge || r.Max > maxAge {
			return out, validationf("age range must be within %d-%d", minAge, maxAge)
		}
		out.AgeRange = &r
	}
	return out, nil
}

func (s *TrustService) UpdatePreferences(ctx context.Context, userKey string, p models.Preferences, gender models.Gender) (*models.User, error) {
	prefs, err := NormalizePreferences(p)
	if err != nil {
		return nil, err
	}
	switch gender {
	case "", models.GenderMale, models.GenderFemale:
	default:
		return nil, validationf("invalid gender %q", gender)
	}

	u, err := s.users.UpdateUser(ctx, userKey, func(u *models.User) error {
		u.Preferences = prefs
		u.Gender = gender
		u.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, storageErr("update preferences", err)
	}
	return u, nil
}

// AdjustCoins adds delta to the user's balance. A balance never goes negative.
func (s *TrustService) AdjustCoins(ctx context.Context, userKey string, delta int64) (*models.User, error) {
	u, err := s.users.UpdateUser(ctx, userKey, func(u *models.User) error {
		if u.Coins+delta < 0 {
			return ErrInsufficientCoins
		}
		u.Coins += delta
		u.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, ErrInsufficientCoins) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("adjust coins", err)
	}
	return u, nil
}

func (s *TrustService) SetUserStatus(ctx context.Context, userKey string, status models.UserStatus) error {
	_, err := s.users.UpdateUser(ctx, userKey, func(u *models.User) error {
		u.Status = status
		u.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return storageErr("set status", err)
	}
	return nil
}

// RetireUser drops the user record after a client identity reset. Sessions
// stay so later ban merges can still reach the hashes they carry.
func (s *TrustService) RetireUser(ctx context.Context, userKey string) error {
	if err := s.users.DeleteUser(ctx, userKey); err != nil && !errors.Is(err, ErrNotFound) {
		return storageErr("retire user", err)
	}
	return nil
}

// PurgeUser erases everything filed under the user key: the user, their
// sessions and their name on any report they filed. Ban records are kept;
// they hold only hashes and exist to outlive identity resets.
func (s *TrustService) PurgeUser(ctx context.Context, userKey string) error {
	if err := s.users.DeleteUser(ctx, userKey); err != nil {
		return storageErr("purge user", err)
	}
	n, err := s.sessions.DeleteSessionsByUser(ctx, userKey)
	if err != nil {
		return storageErr("purge sessions", err)
	}
	if err := s.reports.ScrubReporter(ctx, userKey); err != nil {
		return storageErr("purge reports", err)
	}
	s.log.Info("user purged", logger.UserKey(userKey), zap.Int64("sessions", n))
	return nil
}

func (s *TrustService) UserStats(ctx context.Context) (UserStats, error) {
	st, err := s.users.UserStats(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return UserStats{}, storageErr("user stats", err)
	}
	return st, nil
}

// --- sessions ---

// CreateSession records a waiting session for the given participants.
func (s *TrustService) CreateSession(ctx context.Context, mode models.ChatMode, participants ...models.Participant) (*models.ChatSession, error) {
	if !mode.Valid() {
		return nil, validationf("invalid mode %q", mode)
	}
	if len(participants) == 0 || len(participants) > 2 {
		return nil, validationf("a session has one or two participants")
	}
	sess := &models.ChatSession{
		ID:           uuid.NewString(),
		Participants: participants,
		Mode:         mode,
		Status:       models.ChatStatusWaiting,
		StartedAt:    s.now(),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, storageErr("create session", err)
	}
	return sess, nil
}

// TransitionSession moves a session along waiting -> matched -> connected ->
// ended|reported. Moving to matched checks every participant against the ban
// records first; a banned participant ends the session and the call returns
// a *BanEnforcementError.
func (s *TrustService) TransitionSession(ctx context.Context, id string, to models.ChatStatus, reason string) (*models.ChatSession, error) {
	if to == models.ChatStatusMatched {
		sess, err := s.sessions.GetSession(ctx, id)
		if err != nil {
			return nil, storageErr("get session", err)
		}
		if err := s.checkParticipants(ctx, sess.Participants); err != nil {
			var be *BanEnforcementError
			if errors.As(err, &be) {
				_, endErr := s.endSession(ctx, id, models.ChatStatusEnded, "banned", "")
				if endErr != nil {
					s.log.Warn("ending refused session failed", logger.SessionID(id), logger.Err(endErr))
				}
			}
			return nil, err
		}
	}
	return s.endSession(ctx, id, to, reason, "")
}

// EndSession is TransitionSession(id, ended) for a participant leaving.
func (s *TrustService) EndSession(ctx context.Context, id, userKey, reason string) (*models.ChatSession, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, storageErr("get session", err)
	}
	if _, ok := sess.Participant(userKey); !ok {
		return nil, ErrNotFound
	}
	return s.endSession(ctx, id, models.ChatStatusEnded, reason, "")
}

func (s *TrustService) endSession(ctx context.Context, id string, to models.ChatStatus, reason, reportedBy string) (*models.ChatSession, error) {
	now := s.now()
	sess, err := s.sessions.UpdateSession(ctx, id, func(sess *models.ChatSession) error {
		if !models.CanTransition(sess.Status, to) {
			return ErrInvalidTransition
		}
		sess.Status = to
		if reason != "" {
			sess.EndReason = reason
		}
		if reportedBy != "" {
			sess.ReportedBy = reportedBy
		}
		if (to == models.ChatStatusEnded || to == models.ChatStatusReported) && sess.EndedAt == nil {
			sess.EndedAt = &now
			sess.DurationSeconds = int64(now.Sub(sess.StartedAt).Seconds())
		}
		return nil
	})
	if errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("update session", err)
	}
	return sess, nil
}

// Commit persists a scored pair as a matched session after checking both
// participants against the ban records. It implements matching.Committer.
func (s *TrustService) Commit(ctx context.Context, mode models.ChatMode, seeker, partner models.Participant, score float64) (*models.ChatSession, error) {
	if err := s.checkParticipants(ctx, []models.Participant{seeker, partner}); err != nil {
		return nil, err
	}
	sess, err := s.CreateSession(ctx, mode, seeker, partner)
	if err != nil {
		return nil, err
	}
	id := sess.ID
	sess, err = s.sessions.UpdateSession(ctx, id, func(cs *models.ChatSession) error {
		cs.Score = score
		cs.Status = models.ChatStatusMatched
		return nil
	})
	if err != nil {
		// The waiting row must not outlive a failed commit.
		if _, endErr := s.endSession(ctx, id, models.ChatStatusEnded, "commit_failed", ""); endErr != nil {
			s.log.Error("orphaned session after failed commit", logger.SessionID(id), logger.Err(endErr))
		}
		return nil, storageErr("commit session", err)
	}
	for _, p := range []models.Participant{seeker, partner} {
		if _, err := s.users.UpdateUser(ctx, p.UserKey, func(u *models.User) error {
			u.Sessions++
			return nil
		}); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Warn("session count update failed", logger.UserKey(p.UserKey), logger.Err(err))
		}
	}
	return sess, nil
}

// Abort ends a session that was committed after one side already left.
func (s *TrustService) Abort(ctx context.Context, sessionID, reason string) error {
	_, err := s.endSession(ctx, sessionID, models.ChatStatusEnded, reason, "")
	return err
}

func (s *TrustService) checkParticipants(ctx context.Context, ps []models.Participant) error {
	be := &BanEnforcementError{}
	for _, p := range ps {
		bans, err := s.activeBansFor(ctx, p.UserKey, p.DeviceHash, p.IPHash)
		if err != nil {
			return err
		}
		if len(bans) > 0 {
			be.UserKeys = append(be.UserKeys, p.UserKey)
			for _, b := range bans {
				be.BanIDs = models.Union(be.BanIDs, b.ID)
			}
		}
	}
	if len(be.UserKeys) > 0 {
		sort.Strings(be.BanIDs)
		return be
	}
	return nil
}
