package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/metrics"
	"github.com/AnshRaj112/shadowmatch-backend/internal/ratelimit"
	"github.com/AnshRaj112/shadowmatch-backend/internal/safety"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/clientip"
)

// RateLimit counts requests for one action per caller: the guest user key
// when GuestAuth ran, the hashed client IP otherwise. Limiter failures fail open.
func RateLimit(lim ratelimit.Limiter, max int64, action string, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := clientip.HashedClientIP(r, trustProxy)
			if g, ok := GuestFrom(r.Context()); ok {
				subject = g.UserKey
			}

			res, err := lim.Allow(r.Context(), safety.RateLimitKey(subject, action))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Op(action), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(max, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				metrics.RateLimited(action)
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Round(time.Second).Seconds())))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests, please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
