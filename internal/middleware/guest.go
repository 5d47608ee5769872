package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/clientip"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

const (
	HeaderGuestID           = "X-Guest-Id"
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
)

type guestKey struct{}

// Guest is the hashed view of the caller. The raw identity token and IP never
// leave this package.
type Guest struct {
	UserKey    string
	DeviceHash string
	IPHash     string
}

func (g Guest) Participant() models.Participant {
	return models.Participant{UserKey: g.UserKey, DeviceHash: g.DeviceHash, IPHash: g.IPHash}
}

// GuestFrom returns the guest stored by GuestAuth.
func GuestFrom(ctx context.Context) (Guest, bool) {
	g, ok := ctx.Value(guestKey{}).(Guest)
	return g, ok
}

func WithGuest(ctx context.Context, g Guest) context.Context {
	return context.WithValue(ctx, guestKey{}, g)
}

// IdentifyGuest hashes the identifiers carried by r. token may come from the
// header or, for websocket upgrades, the query string. Tokens are matched
// case-insensitively, as on verify.
func IdentifyGuest(r *http.Request, token string, trustProxy bool) (Guest, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if !utils.IsHexToken(token) {
		return Guest{}, false
	}
	return Guest{
		UserKey:    utils.HashGuest(token),
		DeviceHash: utils.HashDevice(r.UserAgent(), r.Header.Get(HeaderDeviceFingerprint)),
		IPHash:     clientip.HashedClientIP(r, trustProxy),
	}, true
}

// GuestAuth requires a well-formed identity token in X-Guest-Id.
func GuestAuth(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, ok := IdentifyGuest(r, r.Header.Get(HeaderGuestID), trustProxy)
			if !ok {
				writeError(w, http.StatusUnauthorized, "INVALID_GUEST_ID", "Missing or malformed guest id")
				return
			}
			ctx := WithGuest(r.Context(), g)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserKey(g.UserKey)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
