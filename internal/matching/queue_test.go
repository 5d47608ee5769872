package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

type bannedErr struct{ keys []string }

func (e bannedErr) Error() string         { return fmt.Sprintf("banned: %v", e.keys) }
func (e bannedErr) BannedUsers() []string { return e.keys }

type fakeCommitter struct {
	mu       sync.Mutex
	banned   map[string]bool
	sessions []*models.ChatSession
	aborted  []string
	inUse    map[string]string // user key -> session id
	conflict bool
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{banned: map[string]bool{}, inUse: map[string]string{}}
}

func (f *fakeCommitter) Commit(_ context.Context, mode models.ChatMode, a, b models.Participant, score float64) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refused []string
	for _, p := range []models.Participant{a, b} {
		if f.banned[p.UserKey] {
			refused = append(refused, p.UserKey)
		}
	}
	if len(refused) > 0 {
		return nil, bannedErr{refused}
	}
	s := &models.ChatSession{
		ID:           uuid.NewString(),
		Participants: []models.Participant{a, b},
		Mode:         mode,
		Status:       models.ChatStatusMatched,
		Score:        score,
	}
	for _, p := range s.Participants {
		if _, busy := f.inUse[p.UserKey]; busy {
			f.conflict = true
		}
		f.inUse[p.UserKey] = s.ID
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeCommitter) Abort(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, id)
	return nil
}

func (f *fakeCommitter) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func candidate(key string, interests ...string) Candidate {
	return Candidate{
		UserKey:    key,
		DeviceHash: "dev-" + key,
		IPHash:     "ip-" + key,
		Preferences: models.Preferences{
			Language:         "en",
			Interests:        interests,
			GenderPreference: models.GenderAny,
		},
	}
}

func startMatchmaker(t *testing.T, c Committer) (*Matchmaker, func()) {
	t.Helper()
	m := NewMatchmaker(c, Config{ScanInterval: 10 * time.Millisecond, MaxWait: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	return m, func() {
		cancel()
		<-done
	}
}

func recv(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
		return Outcome{}
	}
}

func TestMatchmaker_PairsCompatibleUsers(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	m, stop := startMatchmaker(t, fc)
	defer stop()

	a, err := m.Enqueue(candidate("a", "movies"), models.ChatModeText)
	require.NoError(t, err)
	b, err := m.Enqueue(candidate("b", "movies"), models.ChatModeText)
	require.NoError(t, err)

	oa, ob := recv(t, a), recv(t, b)
	require.NoError(t, oa.Err)
	require.NoError(t, ob.Err)
	assert.Equal(t, oa.Session.ID, ob.Session.ID)
	assert.Equal(t, "b", oa.Partner.UserKey)
	assert.Equal(t, "a", ob.Partner.UserKey)
	assert.Equal(t, 0, m.Waiting(models.ChatModeText))
}

func TestMatchmaker_ModesAreSeparate(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	m, stop := startMatchmaker(t, fc)
	defer stop()

	_, err := m.Enqueue(candidate("a", "movies"), models.ChatModeText)
	require.NoError(t, err)
	_, err = m.Enqueue(candidate("b", "movies"), models.ChatModeVideo)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fc.sessionCount())
}

func TestMatchmaker_BelowThresholdStaysWaiting(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	m, stop := startMatchmaker(t, fc)
	defer stop()

	a := candidate("a", "movies")
	a.Preferences.Language = "de"
	a.Preferences.AgeRange = &models.AgeRange{Min: 18, Max: 20}
	b := candidate("b", "chess")
	b.Preferences.AgeRange = &models.AgeRange{Min: 40, Max: 60}

	_, err := m.Enqueue(a, models.ChatModeText)
	require.NoError(t, err)
	_, err = m.Enqueue(b, models.ChatModeText)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fc.sessionCount())
	assert.Equal(t, 2, m.Waiting(models.ChatModeText))
}

func TestMatchmaker_CancelReleasesWithoutSideEffects(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	m, stop := startMatchmaker(t, fc)
	defer stop()

	ch, err := m.Enqueue(candidate("a", "movies"), models.ChatModeText)
	require.NoError(t, err)
	require.True(t, m.Cancel("a"))

	o := recv(t, ch)
	assert.ErrorIs(t, o.Err, ErrCancelled)
	assert.False(t, m.Cancel("a"))

	_, err = m.Enqueue(candidate("b", "movies"), models.ChatModeText)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fc.sessionCount())
}

func TestMatchmaker_RejectsDuplicateEnqueue(t *testing.T) {
	m := NewMatchmaker(newFakeCommitter(), Config{})
	_, err := m.Enqueue(candidate("a"), models.ChatModeText)
	require.NoError(t, err)
	_, err = m.Enqueue(candidate("a"), models.ChatModeAudio)
	assert.ErrorIs(t, err, ErrAlreadyWaiting)
	_, err = m.Enqueue(candidate("z"), models.ChatMode("smoke-signals"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestMatchmaker_BannedUserRefusedPartnerKeepsWaiting(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	fc.banned["bad"] = true
	m, stop := startMatchmaker(t, fc)
	defer stop()

	bad, err := m.Enqueue(candidate("bad", "movies"), models.ChatModeText)
	require.NoError(t, err)
	good, err := m.Enqueue(candidate("good", "movies"), models.ChatModeText)
	require.NoError(t, err)

	o := recv(t, bad)
	var bu bannedUsers
	require.True(t, errors.As(o.Err, &bu))
	assert.Equal(t, []string{"bad"}, bu.BannedUsers())

	other, err := m.Enqueue(candidate("other", "movies"), models.ChatModeText)
	require.NoError(t, err)
	og, oo := recv(t, good), recv(t, other)
	require.NoError(t, og.Err)
	require.NoError(t, oo.Err)
	assert.Equal(t, og.Session.ID, oo.Session.ID)
}

func TestMatchmaker_EachUserCommittedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := newFakeCommitter()
	m, stop := startMatchmaker(t, fc)
	defer stop()

	const n = 41
	chans := make([]<-chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := m.Enqueue(candidate(fmt.Sprintf("u%02d", i), "movies"), models.ChatModeText)
			assert.NoError(t, err)
			chans[i] = ch
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return fc.sessionCount() == n/2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.Waiting(models.ChatModeText))

	fc.mu.Lock()
	assert.False(t, fc.conflict, "a user was committed into two sessions")
	assert.Len(t, fc.inUse, n-1)
	fc.mu.Unlock()
}

func TestMatchmaker_PriorityUserSeeksFirst(t *testing.T) {
	fc := newFakeCommitter()
	m := NewMatchmaker(fc, Config{})

	// vip seeks first and picks the candidate sharing all of its interests
	_, _ = m.Enqueue(candidate("plain", "movies"), models.ChatModeText)
	_, _ = m.Enqueue(candidate("other", "movies", "music"), models.ChatModeText)
	vip := candidate("vip", "movies", "music")
	vip.Priority = true
	vch, _ := m.Enqueue(vip, models.ChatModeText)

	m.drain(context.Background())
	o := recv(t, vch)
	require.NoError(t, o.Err)
	assert.Equal(t, "other", o.Partner.UserKey)
}

func TestMatchmaker_ExpiresOldTickets(t *testing.T) {
	m := NewMatchmaker(newFakeCommitter(), Config{MaxWait: time.Minute})
	base := time.Now()
	m.now = func() time.Time { return base }
	ch, err := m.Enqueue(candidate("a"), models.ChatModeText)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.drain(context.Background())
	assert.ErrorIs(t, recv(t, ch).Err, ErrTimedOut)
}

func TestMatchmaker_ShutdownNotifiesWaiting(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewMatchmaker(newFakeCommitter(), Config{})
	ch, err := m.Enqueue(candidate("a"), models.ChatModeText)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
	assert.ErrorIs(t, recv(t, ch).Err, ErrStopped)

	_, err = m.Enqueue(candidate("b"), models.ChatModeText)
	assert.ErrorIs(t, err, ErrStopped)
}
