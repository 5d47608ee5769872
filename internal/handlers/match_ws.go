package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/matching"
	"github.com/AnshRaj112/shadowmatch-backend/internal/middleware"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

const (
	wsReadLimit    = 4 * 1024
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// Match events sent to the client.
const (
	EventMatchFound     = "match_found"
	EventMatchRefused   = "match_refused"
	EventMatchCancelled = "match_cancelled"
	EventMatchTimeout   = "match_timeout"
	EventQueued         = "queued"
	EventError          = "error"
)

var matchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced at the HTTP layer.
		return true
	},
}

// MatchClientMessage is a frame from the client: "match_request", "match_cancel" or "ping".
type MatchClientMessage struct {
	Type string          `json:"type"`
	Mode models.ChatMode `json:"mode,omitempty"`
}

type MatchEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Mode      models.ChatMode `json:"mode,omitempty"`
	Score     float64         `json:"score,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// matchConn serialises writes; gorilla allows one concurrent writer.
type matchConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *matchConn) send(evt MatchEvent) error {
	evt.Timestamp = time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(evt)
}

func (c *matchConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// MatchWebSocket pairs guests over a websocket. The guest token is taken from
// X-Guest-Id or, for browser clients, the "guest" query parameter. Closing the
// socket withdraws any pending match request.
func (h *Handler) MatchWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(middleware.HeaderGuestID)
	if token == "" {
		token = r.URL.Query().Get("guest")
	}
	g, ok := middleware.IdentifyGuest(r, token, h.TrustProxy)
	if !ok {
		http.Error(w, "missing or malformed guest id", http.StatusUnauthorized)
		return
	}

	ws, err := matchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	log := logger.From(r.Context()).With(logger.UserKey(g.UserKey))
	ctx, cancel := context.WithCancel(logger.ToContext(context.Background(), log))
	defer cancel()
	defer h.Match.Cancel(g.UserKey)

	conn := &matchConn{conn: ws}
	go keepAlive(ctx, conn)

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("match socket closed", logger.Err(err))
			}
			return
		}

		var msg MatchClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.send(MatchEvent{Type: EventError, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "match_request":
			h.requestMatch(ctx, conn, g, msg.Mode)
		case "match_cancel":
			h.Match.Cancel(g.UserKey)
		case "ping":
			_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		default:
			_ = conn.send(MatchEvent{Type: EventError, Error: "unknown message type"})
		}
	}
}

func keepAlive(ctx context.Context, conn *matchConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

// requestMatch checks the guest, queues it and waits for the outcome in the
// background so the reader can still process match_cancel.
func (h *Handler) requestMatch(ctx context.Context, conn *matchConn, g middleware.Guest, mode models.ChatMode) {
	log := logger.From(ctx)
	if !mode.Valid() {
		_ = conn.send(MatchEvent{Type: EventError, Error: "invalid mode"})
		return
	}

	u, _, err := h.Trust.EnsureUser(ctx, g.UserKey, nil)
	if err != nil {
		log.Error("match: load user", logger.Err(err))
		_ = conn.send(MatchEvent{Type: EventError, Error: "failed to load profile"})
		return
	}
	// Only an effective ban record refuses a match. A status left over from a
	// lifted or expired ban is cleared here.
	if err := h.Trust.CheckMatchAllowed(ctx, g.Participant()); err != nil {
		if errors.Is(err, services.ErrBanEnforcement) {
			_ = conn.send(MatchEvent{Type: EventMatchRefused, Mode: mode, Error: "not eligible to match"})
			return
		}
		log.Error("match: ban check", logger.Err(err))
		_ = conn.send(MatchEvent{Type: EventError, Error: "failed to check eligibility"})
		return
	}
	if u.Status != models.UserStatusActive {
		if restored, err := h.Trust.ReconcileStatus(ctx, g.UserKey); err != nil {
			log.Warn("match: restore status", logger.Err(err))
		} else {
			u = restored
		}
	}

	outcomes, err := h.Match.Enqueue(matching.Candidate{
		UserKey:     g.UserKey,
		DeviceHash:  g.DeviceHash,
		IPHash:      g.IPHash,
		Gender:      u.Gender,
		Preferences: u.Preferences,
		Priority:    u.Prioritized(),
	}, mode)
	if err != nil {
		_ = conn.send(MatchEvent{Type: EventError, Mode: mode, Error: enqueueMessage(err)})
		return
	}
	_ = conn.send(MatchEvent{Type: EventQueued, Mode: mode})

	go func() {
		var out matching.Outcome
		select {
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			out = o
		case <-ctx.Done():
			return
		}
		if err := conn.send(outcomeEvent(out, mode)); err != nil {
			log.Debug("match: deliver outcome", logger.Err(err))
		}
		if out.Err == nil {
			log.Info("match found", logger.SessionID(out.Session.ID), logger.Mode(string(mode)), logger.Score(out.Score))
		}
	}()
}

func outcomeEvent(out matching.Outcome, mode models.ChatMode) MatchEvent {
	switch {
	case out.Err == nil:
		return MatchEvent{Type: EventMatchFound, SessionID: out.Session.ID, Mode: mode, Score: out.Score}
	case errors.Is(out.Err, matching.ErrCancelled):
		return MatchEvent{Type: EventMatchCancelled, Mode: mode}
	case errors.Is(out.Err, matching.ErrTimedOut):
		return MatchEvent{Type: EventMatchTimeout, Mode: mode, Error: "no partner found"}
	default:
		var banned interface{ BannedUsers() []string }
		if errors.As(out.Err, &banned) {
			return MatchEvent{Type: EventMatchRefused, Mode: mode, Error: "not eligible to match"}
		}
		return MatchEvent{Type: EventError, Mode: mode, Error: "matching unavailable"}
	}
}

func enqueueMessage(err error) string {
	switch {
	case errors.Is(err, matching.ErrAlreadyWaiting):
		return "already waiting for a match"
	case errors.Is(err, matching.ErrStopped):
		return "matching unavailable"
	}
	return "could not queue match request"
}
