package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/shadowmatch-backend/internal/handlers"
	"github.com/AnshRaj112/shadowmatch-backend/internal/middleware"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

func startMatching(t *testing.T, e *env) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.match.Run(ctx)
	}()
	srv := httptest.NewServer(e.router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, tok, fingerprint string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Set(middleware.HeaderGuestID, tok)
	h.Set(middleware.HeaderDeviceFingerprint, fingerprint)
	h.Set("User-Agent", testAgent)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/match", h)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads events until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, want string) handlers.MatchEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var evt handlers.MatchEvent
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Type == want {
			return evt
		}
		require.Equal(t, handlers.EventQueued, evt.Type, "unexpected event %+v", evt)
	}
}

func TestMatchWebSocket_Pairs(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)

	a := dial(t, srv, token("ws-a"), "fp-a")
	b := dial(t, srv, token("ws-b"), "fp-b")
	require.NoError(t, a.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	require.NoError(t, b.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))

	fa := next(t, a, handlers.EventMatchFound)
	fb := next(t, b, handlers.EventMatchFound)
	assert.NotEmpty(t, fa.SessionID)
	assert.Equal(t, fa.SessionID, fb.SessionID)
	assert.Equal(t, models.ChatModeText, fa.Mode)
	assert.InDelta(t, 0.4, fa.Score, 1e-9)
}

func TestMatchWebSocket_Cancel(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)

	a := dial(t, srv, token("ws-lonely"), "fp-l")
	require.NoError(t, a.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeVideo}))
	next(t, a, handlers.EventQueued)
	require.NoError(t, a.WriteJSON(handlers.MatchClientMessage{Type: "match_cancel"}))
	next(t, a, handlers.EventMatchCancelled)
	assert.Zero(t, e.match.Waiting(models.ChatModeVideo))
}

func TestMatchWebSocket_BannedDeviceRefused(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)
	p := guestParticipant(token("ws-banned"), "fp-banned")
	_, err := e.trust.CreateOrMergeBanRecord(context.Background(), services.BanRequest{
		DeviceHashes: []string{p.DeviceHash},
		Type:         models.BanPermanent,
		Reason:       "test",
	})
	require.NoError(t, err)

	// a brand new token on the same device is still refused
	conn := dial(t, srv, token("ws-banned-again"), "fp-banned")
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	evt := next(t, conn, handlers.EventMatchRefused)
	assert.NotEmpty(t, evt.Error)
	assert.Zero(t, e.match.Waiting(models.ChatModeText))
}

func TestMatchWebSocket_AllowedAfterUnban(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)
	ctx := context.Background()
	tok := token("ws-suspended")
	p := guestParticipant(tok, "fp-s")

	_, _, err := e.trust.EnsureUser(ctx, p.UserKey, nil)
	require.NoError(t, err)
	rec, err := e.trust.CreateOrMergeBanRecord(ctx, services.BanRequest{
		UserKey:  p.UserKey,
		Type:     models.BanTemporary,
		Duration: 24 * time.Hour,
		Reason:   "test",
	})
	require.NoError(t, err)
	require.NoError(t, e.trust.SetUserStatus(ctx, p.UserKey, models.UserStatusSuspended))

	conn := dial(t, srv, tok, "fp-s")
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	next(t, conn, handlers.EventMatchRefused)

	require.NoError(t, e.trust.Unban(ctx, rec.ID))
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	next(t, conn, handlers.EventQueued)

	u, err := e.trust.GetUser(ctx, p.UserKey)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, u.Status)
}

func TestMatchWebSocket_AllowedAfterTemporaryBanExpires(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Now()
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := newEnv(t, services.WithClock(clock))
	srv := startMatching(t, e)
	ctx := context.Background()
	tok := token("ws-timeout")
	p := guestParticipant(tok, "fp-t")

	_, _, err := e.trust.EnsureUser(ctx, p.UserKey, nil)
	require.NoError(t, err)
	_, err = e.trust.CreateOrMergeBanRecord(ctx, services.BanRequest{
		UserKey:  p.UserKey,
		Type:     models.BanTemporary,
		Duration: time.Hour,
		Reason:   "test",
	})
	require.NoError(t, err)
	require.NoError(t, e.trust.SetUserStatus(ctx, p.UserKey, models.UserStatusBanned))

	conn := dial(t, srv, tok, "fp-t")
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	next(t, conn, handlers.EventMatchRefused)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeText}))
	next(t, conn, handlers.EventQueued)

	u, err := e.trust.GetUser(ctx, p.UserKey)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, u.Status)
}

func TestMatchWebSocket_Disconnect(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)

	conn := dial(t, srv, token("ws-gone"), "fp-g")
	require.NoError(t, conn.WriteJSON(handlers.MatchClientMessage{Type: "match_request", Mode: models.ChatModeAudio}))
	next(t, conn, handlers.EventQueued)
	require.Equal(t, 1, e.match.Waiting(models.ChatModeAudio))

	conn.Close()
	assert.Eventually(t, func() bool { return e.match.Waiting(models.ChatModeAudio) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestMatchWebSocket_RejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	srv := startMatching(t, e)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/match", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
