package clientip

import (
	"net"
	"net/http"
	"strings"

	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

// RealClientIP returns the client IP from r.RemoteAddr.
// When trustProxy is set (the service sits behind a load balancer) the first
// X-Forwarded-For entry wins, then X-Real-IP.
func RealClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// HashedClientIP is RealClientIP passed through the salted IP hash.
// Handlers only ever see this value.
func HashedClientIP(r *http.Request, trustProxy bool) string {
	return utils.HashIP(RealClientIP(r, trustProxy))
}
