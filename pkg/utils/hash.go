package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

const (
	phoneSalt  = "phone_salt"
	ipSalt     = "ip_salt"
	deviceSalt = "device_salt"
	guestSalt  = "guest_salt"
)

var hexTokenRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Hash returns the lowercase hex SHA-256 digest of input (always 64 chars)
func Hash(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash for string input
func HashString(input string) string {
	return Hash([]byte(input))
}

// HashPhone hashes a phone number for ban records. Raw numbers are never stored.
func HashPhone(phone string) string {
	return HashString(phone + phoneSalt)
}

// HashIP hashes a client IP address
func HashIP(ip string) string {
	return HashString(ip + ipSalt)
}

// HashDevice hashes a user agent together with a client fingerprint
func HashDevice(userAgent, fingerprint string) string {
	return HashString(userAgent + fingerprint + deviceSalt)
}

// HashGuest derives the server-side user key from a client identity token.
// The token itself never reaches storage.
func HashGuest(token string) string {
	return HashString(token + guestSalt)
}

// IsHexToken reports whether s is a well-formed identity token or hashed identifier
func IsHexToken(s string) bool {
	return hexTokenRegex.MatchString(s)
}

// TokenPreview returns the first 12 chars of a token, safe for logs
func TokenPreview(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
