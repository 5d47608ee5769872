package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

// countingDeriver wraps an Engine and counts derivations.
type countingDeriver struct {
	inner Deriver
	calls atomic.Int32
	delay time.Duration
}

func (c *countingDeriver) Derive(ctx context.Context) Result {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Derive(ctx)
}

// failingStorage rejects writes.
type failingStorage struct{ *MemoryStorage }

func (failingStorage) Set(string, string) error { return errors.New("quota exceeded") }

func newTestManager(store Storage, opts ...ManagerOption) (*Manager, *countingDeriver) {
	d := &countingDeriver{inner: newTestEngine(WithSignalSource(StaticSignals(testSignals)))}
	opts = append([]ManagerOption{WithManagerLogger(zap.NewNop()), WithPurgeRetry(3, 0)}, opts...)
	return NewManager(store, d, opts...), d
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	m, d := newTestManager(NewMemoryStorage())
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, m.State())
	first, err := m.Initialize(ctx)
	require.NoError(t, err)
	second, err := m.Initialize(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, utils.IsHexToken(first))
	assert.True(t, m.IsReady())
	assert.EqualValues(t, 1, d.calls.Load())
}

func TestManager_ConcurrentInitializeDerivesOnce(t *testing.T) {
	m, d := newTestManager(NewMemoryStorage())
	d.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Initialize(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.EqualValues(t, 1, d.calls.Load())
}

func TestManager_AdoptsStoredToken(t *testing.T) {
	store := NewMemoryStorage()
	stored := utils.HashString("existing")
	require.NoError(t, store.Set(TokenKey, stored))

	m, d := newTestManager(store)
	tok, err := m.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, tok)
	assert.EqualValues(t, 0, d.calls.Load())
}

func TestManager_MalformedStoredTokenIsReplaced(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(TokenKey, "not-a-token"))

	m, d := newTestManager(store)
	tok, err := m.Initialize(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-token", tok)
	assert.EqualValues(t, 1, d.calls.Load())

	got, ok, _ := store.Get(TokenKey)
	require.True(t, ok)
	assert.Equal(t, tok, got)
}

func TestManager_PersistsTokenAndMetaTogether(t *testing.T) {
	store := NewMemoryStorage()
	m, _ := newTestManager(store)
	tok, err := m.Initialize(context.Background())
	require.NoError(t, err)

	got, ok, _ := store.Get(TokenKey)
	require.True(t, ok)
	assert.Equal(t, tok, got)

	_, ok, _ = store.Get(DeviceMetaKey)
	assert.True(t, ok)

	meta, ok := m.DeviceMeta()
	require.True(t, ok)
	assert.Equal(t, MethodBasic, meta.FingerprintMethod)
}

func TestManager_ResetChangesToken(t *testing.T) {
	m, _ := newTestManager(NewMemoryStorage())
	ctx := context.Background()
	before, err := m.Initialize(ctx)
	require.NoError(t, err)

	after, err := m.Reset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, m.CurrentToken())
	assert.Equal(t, 1, m.Stats().Resets)
}

func TestManager_DeleteDataThenInitializeGivesNewToken(t *testing.T) {
	var purged []string
	purger := PurgeFunc(func(_ context.Context, tok string) error {
		purged = append(purged, tok)
		return nil
	})
	store := NewMemoryStorage()
	m, _ := newTestManager(store, WithPurger(purger))
	ctx := context.Background()

	old, err := m.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, m.DeleteData(ctx))

	assert.Equal(t, []string{old}, purged)
	assert.Equal(t, StateUninitialized, m.State())
	assert.Empty(t, m.CurrentToken())
	_, ok, _ := store.Get(TokenKey)
	assert.False(t, ok)

	fresh, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
}

func TestManager_DeleteDataKeepsTokenWhenPurgeFails(t *testing.T) {
	var attempts int
	purger := PurgeFunc(func(context.Context, string) error {
		attempts++
		return errors.New("503")
	})
	store := NewMemoryStorage()
	m, _ := newTestManager(store, WithPurger(purger))
	ctx := context.Background()

	tok, err := m.Initialize(ctx)
	require.NoError(t, err)

	err = m.DeleteData(ctx)
	require.ErrorIs(t, err, ErrPurgeInconsistency)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, tok, m.CurrentToken())

	stored, ok, _ := store.Get(TokenKey)
	require.True(t, ok)
	assert.Equal(t, tok, stored)
}

func TestManager_DeleteDataNeedsPurger(t *testing.T) {
	store := NewMemoryStorage()
	m, _ := newTestManager(store)
	ctx := context.Background()

	tok, err := m.Initialize(ctx)
	require.NoError(t, err)

	err = m.DeleteData(ctx)
	require.ErrorIs(t, err, ErrPurgeInconsistency)
	assert.ErrorIs(t, err, ErrNoPurger)
	assert.Equal(t, tok, m.CurrentToken())
	assert.Equal(t, StateReady, m.State())

	stored, ok, _ := store.Get(TokenKey)
	require.True(t, ok)
	assert.Equal(t, tok, stored)
}

func TestManager_StorageWriteFailureKeepsTokenInMemory(t *testing.T) {
	m, d := newTestManager(failingStorage{NewMemoryStorage()})
	ctx := context.Background()

	tok, err := m.Initialize(ctx)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.True(t, utils.IsHexToken(tok))
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, tok, m.CurrentToken())

	again, err := m.Initialize(ctx)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, tok, again)
	assert.EqualValues(t, 1, d.calls.Load())
}

func TestManager_RefreshNeverDerives(t *testing.T) {
	m, d := newTestManager(NewMemoryStorage())
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, StateUninitialized, m.State())
	assert.EqualValues(t, 0, d.calls.Load())
}

func TestManager_WatchSyncsAcrossContexts(t *testing.T) {
	defer goleak.VerifyNone(t)

	origin := NewMemoryOrigin()
	tabA, _ := newTestManager(origin.Context())
	tabB, _ := newTestManager(origin.Context())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tabB.Watch(ctx) }()

	// give the watcher time to subscribe
	require.Eventually(t, func() bool {
		origin.mu.Lock()
		defer origin.mu.Unlock()
		return len(origin.subs) > 0
	}, time.Second, 5*time.Millisecond)

	tok, err := tabA.Initialize(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tabB.CurrentToken() == tok }, time.Second, 5*time.Millisecond)
	assert.True(t, tabB.IsReady())

	newTok, err := tabA.Reset(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tabB.CurrentToken() == newTok }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHTTPPurger(t *testing.T) {
	tok := utils.HashString("t")
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPPurger(srv.URL).Purge(context.Background(), tok))
	assert.Equal(t, "/api/guest/delete-data/"+tok, gotPath)
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestHTTPPurger_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTPPurger(srv.URL).Purge(context.Background(), utils.HashString("t"))
	assert.ErrorContains(t, err, "status 500")
}
