package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/AnshRaj112/shadowmatch-backend/internal/config"
	"github.com/AnshRaj112/shadowmatch-backend/internal/handlers"
	"github.com/AnshRaj112/shadowmatch-backend/internal/metrics"
	"github.com/AnshRaj112/shadowmatch-backend/internal/middleware"
	"github.com/AnshRaj112/shadowmatch-backend/internal/ratelimit"
)

// LimiterFactory builds one limiter per rate-limited action.
type LimiterFactory func(action string, max int, window time.Duration) ratelimit.Limiter

// MemoryLimiters keeps every counter in process.
func MemoryLimiters(_ string, max int, window time.Duration) ratelimit.Limiter {
	return ratelimit.NewMemoryLimiter(max, window)
}

// Per-action guest limits, 15 minute windows.
const (
	verifyLimit = 50
	resetLimit  = 10
	deleteLimit = 5
	guestWindow = 15 * time.Minute
)

func SetupRoutes(r chi.Router, h *handlers.Handler, cfg *config.Config, limiters LimiterFactory) {
	if limiters == nil {
		limiters = MemoryLimiters
	}
	limit := func(action string, max int, window time.Duration) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiters(action, max, window), int64(max), action, cfg.TrustProxy)
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity(cfg.AllowedHost, cfg.TrustProxy) {
			r.Use(mw)
		}
	}

	// Health and metrics are never rate limited
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Guest identity lifecycle
	r.With(limit("guest_verify", verifyLimit, guestWindow)).Post("/api/guest/verify", h.VerifyGuest)
	r.With(limit("guest_reset", resetLimit, guestWindow)).Post("/api/guest/reset", h.ResetGuest)
	r.With(limit("guest_delete", deleteLimit, guestWindow)).Delete("/api/guest/delete-data/{guestId}", h.DeleteGuestData)

	r.Group(func(r chi.Router) {
		r.Use(middleware.GuestAuth(cfg.TrustProxy))
		r.Use(limit("guest", cfg.GuestRateLimitMax, cfg.GuestRateLimitWindow))

		r.Get("/api/guest/me", h.Me)
		r.Put("/api/guest/preferences", h.UpdatePreferences)

		r.Post("/api/sessions/{id}/end", h.EndSession)
		r.Post("/api/sessions/{id}/report", h.ReportSession)
		r.Post("/api/sessions/{id}/moderate", h.ModerateText)
	})

	// Matchmaking gateway; authenticates the guest itself
	r.Get("/ws/match", h.MatchWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.AdminKeyHash))

		r.Get("/api/guest/stats", h.GuestStats)

		r.Get("/api/admin/reports", h.ListReports)
		r.Put("/api/admin/reports/{id}/resolve", h.ResolveReport)
		r.Post("/api/admin/reports/{id}/evidence", h.UploadEvidence)

		r.Post("/api/admin/bans", h.CreateBan)
		r.Get("/api/admin/bans/check", h.CheckBan)
		r.Delete("/api/admin/bans/{id}", h.Unban)

		r.Put("/api/admin/users/{key}/coins", h.AdjustCoins)
	})
}
