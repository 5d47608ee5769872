package middleware

import (
	"net/http"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminKey checks X-Admin-Key against an argon2id hash. With no hash
// configured every admin route is closed.
func AdminKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAdminKey)
			if keyHash == "" || key == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Admin key required")
				return
			}
			ok, err := utils.VerifySecret(key, keyHash)
			if err != nil {
				logger.From(r.Context()).Error("admin key hash unusable", logger.Err(err))
			}
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
