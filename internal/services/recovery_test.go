package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
	"github.com/AnshRaj112/shadowmatch-backend/internal/store"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

var errDBDown = errors.New("db down")

// newFixtureWith is newFixture with the memory stores wrapped before the
// service sees them.
func newFixtureWith(t *testing.T, wrap func(services.Stores) services.Stores, opts ...services.Option) *fixture {
	t.Helper()
	f := &fixture{mem: store.NewMemory(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]services.Option{services.WithClock(f.clock)}, opts...)
	f.svc = services.NewTrustService(wrap(f.mem.Stores()), opts...)
	return f
}

// failOnce fails the first call it guards and lets later ones through.
type failOnce struct {
	mu    sync.Mutex
	armed bool
}

func (o *failOnce) fire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.armed {
		o.armed = false
		return true
	}
	return false
}

type flakyBans struct {
	services.BanStore
	upsert *failOnce

	// onFind runs after a lookup computed its result and before it returns.
	onFind func()
}

func (b *flakyBans) UpsertBan(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, bool, error) {
	if b.upsert != nil && b.upsert.fire() {
		return nil, false, errDBDown
	}
	return b.BanStore.UpsertBan(ctx, rec)
}

func (b *flakyBans) FindActiveBans(ctx context.Context, userKey, deviceHash, ipHash string) ([]*models.BanRecord, error) {
	found, err := b.BanStore.FindActiveBans(ctx, userKey, deviceHash, ipHash)
	if b.onFind != nil {
		hook := b.onFind
		b.onFind = nil
		hook()
	}
	return found, err
}

type flakySessions struct {
	services.SessionStore
	update *failOnce
}

func (s *flakySessions) UpdateSession(ctx context.Context, id string, fn func(*models.ChatSession) error) (*models.ChatSession, error) {
	if s.update.fire() {
		return nil, errDBDown
	}
	return s.SessionStore.UpdateSession(ctx, id, fn)
}

func TestResolveReport_FailedBanKeepsReportOpen(t *testing.T) {
	bans := &flakyBans{}
	f := newFixtureWith(t, func(st services.Stores) services.Stores {
		bans.BanStore = st.Bans
		st.Bans = bans
		return st
	})
	ctx := context.Background()
	a, b := participant("a", "d1", "10.0.0.1"), participant("b", "d2", "10.0.0.2")
	sess := f.matched(t, a, b)
	_, _, err := f.svc.EnsureUser(ctx, b.UserKey, nil)
	require.NoError(t, err)

	r, err := f.svc.ReportSession(ctx, sess.ID, a.UserKey, models.ViolationHarassment, "threats")
	require.NoError(t, err)

	bans.upsert = &failOnce{armed: true}
	_, err = f.svc.ResolveReport(ctx, r.ID, models.ReportResolved, models.ActionBan, "mod-1")
	require.ErrorIs(t, err, services.ErrStorage)

	stored, err := f.svc.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, stored.Status)
	assert.Empty(t, stored.Action)
	u, err := f.mem.GetUser(ctx, b.UserKey)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, u.Status)

	resolved, err := f.svc.ResolveReport(ctx, r.ID, models.ReportResolved, models.ActionBan, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionBan, resolved.Action)

	err = f.svc.CheckMatchAllowed(ctx, b)
	var be *services.BanEnforcementError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{b.UserKey}, be.UserKeys)

	_, err = f.svc.ResolveReport(ctx, r.ID, models.ReportResolved, models.ActionBan, "mod-2")
	assert.ErrorIs(t, err, services.ErrReportImmutable)
}

func TestUnban_RestoresSuspendedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := participant("a", "d1", "10.0.0.1"), participant("b", "d2", "10.0.0.2")
	sess := f.matched(t, a, b)
	_, _, err := f.svc.EnsureUser(ctx, b.UserKey, nil)
	require.NoError(t, err)

	r, err := f.svc.ReportSession(ctx, sess.ID, a.UserKey, models.ViolationSpam, "")
	require.NoError(t, err)
	_, err = f.svc.ResolveReport(ctx, r.ID, models.ReportResolved, models.ActionSuspend, "mod-1")
	require.NoError(t, err)

	u, err := f.mem.GetUser(ctx, b.UserKey)
	require.NoError(t, err)
	require.Equal(t, models.UserStatusSuspended, u.Status)

	bans, err := f.mem.FindActiveBans(ctx, b.UserKey, "", "")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.NoError(t, f.svc.Unban(ctx, bans[0].ID))

	u, err = f.mem.GetUser(ctx, b.UserKey)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, u.Status)
	assert.NoError(t, f.svc.CheckMatchAllowed(ctx, b))
}

func TestReconcileStatus_AfterTemporaryBanExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := utils.HashGuest(utils.HashString("carol"))
	_, _, err := f.svc.EnsureUser(ctx, key, nil)
	require.NoError(t, err)

	_, err = f.svc.CreateOrMergeBanRecord(ctx, services.BanRequest{UserKey: key, Type: models.BanTemporary, Duration: time.Hour})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetUserStatus(ctx, key, models.UserStatusBanned))

	u, err := f.svc.ReconcileStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusBanned, u.Status)

	f.advance(2 * time.Hour)
	u, err = f.svc.ReconcileStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, u.Status)

	_, err = f.svc.ReconcileStatus(ctx, utils.HashString("nobody"))
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestCommit_FailedUpdateEndsSession(t *testing.T) {
	sessions := &flakySessions{update: &failOnce{armed: true}}
	f := newFixtureWith(t, func(st services.Stores) services.Stores {
		sessions.SessionStore = st.Sessions
		st.Sessions = sessions
		return st
	})
	ctx := context.Background()
	a, b := participant("a", "d1", "10.0.0.1"), participant("b", "d2", "10.0.0.2")

	_, err := f.svc.Commit(ctx, models.ChatModeText, a, b, 0.7)
	require.ErrorIs(t, err, services.ErrStorage)

	list, err := f.mem.SessionsByUser(ctx, a.UserKey)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ChatStatusEnded, list[0].Status)
	assert.Equal(t, "commit_failed", list[0].EndReason)
}

func TestIsBanned_DoesNotCacheVerdictRacingAMerge(t *testing.T) {
	bans := &flakyBans{}
	f := newFixtureWith(t, func(st services.Stores) services.Stores {
		bans.BanStore = st.Bans
		st.Bans = bans
		return st
	}, services.WithBanCache(services.NewMemoryBanCache(time.Minute)))
	ctx := context.Background()
	dev := utils.HashDevice("ua", "fp")

	bans.onFind = func() {
		_, err := f.svc.CreateOrMergeBanRecord(ctx, services.BanRequest{DeviceHashes: []string{dev}, Type: models.BanPermanent})
		require.NoError(t, err)
	}
	banned, err := f.svc.IsBanned(ctx, dev, "")
	require.NoError(t, err)
	assert.False(t, banned, "lookup finished against the records it read")

	banned, err = f.svc.IsBanned(ctx, dev, "")
	require.NoError(t, err)
	assert.True(t, banned)
}
