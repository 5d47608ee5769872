package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string // ENV: production, development, etc.
	Port        string
	Host        string // Raw HOST env (e.g. https://api.shadowmatch.app)
	AllowedHost string // Hostname only for strict host check (production only)
	LogLevel    string

	// StoreDriver selects the trust store: "postgres" (Postgres + MongoDB) or "memory".
	StoreDriver string
	MongoURI    string
	MongoDB     string
	PostgresURI string
	RedisURI    string

	AllowedOrigins []string
	TrustProxy     bool // honour X-Forwarded-For when behind a load balancer

	EncryptionKey string // base64 32 bytes, encrypts report descriptions at rest
	AdminKeyHash  string // argon2id hash of the admin API key

	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	MatchThreshold   float64
	MatchMaxWait     time.Duration
	MatchScanWorkers int
	BanCacheTTL      time.Duration

	GuestRateLimitMax    int
	GuestRateLimitWindow time.Duration

	SafetyWordlistPath string
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))
	host := getEnv("HOST", "http://localhost:8080")

	// AllowedHost is only set in production; host check is skipped in development
	var allowedHost string
	if env == "production" {
		allowedHost = bareHost(host)
	}

	allowedOrigins := parseList(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{getEnv("FRONTEND_URL", "http://localhost:3000")}
	}

	return &Config{
		Environment: env,
		Port:        getEnv("PORT", "8080"),
		Host:        host,
		AllowedHost: allowedHost,
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "memory")),
		MongoURI:    getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/shadowmatch")),
		MongoDB:     getEnv("MONGODB_DB", "shadowmatch"),
		PostgresURI: getEnv("POSTGRES_URI", "postgres://localhost:5432/shadowmatch?sslmode=disable"),
		RedisURI:    getEnv("REDIS_URI", ""),

		AllowedOrigins: allowedOrigins,
		TrustProxy:     getBool("TRUST_PROXY", false),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		AdminKeyHash:  getEnv("ADMIN_KEY_HASH", ""),

		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),

		MatchThreshold:   getFloat("MATCH_THRESHOLD", 0.5),
		MatchMaxWait:     getDuration("MATCH_MAX_WAIT", 5*time.Minute),
		MatchScanWorkers: getInt("MATCH_SCAN_WORKERS", 8),
		BanCacheTTL:      getDuration("BAN_CACHE_TTL", 30*time.Second),

		// 100 requests per 15 minutes per guest
		GuestRateLimitMax:    getInt("GUEST_RATE_LIMIT_MAX", 100),
		GuestRateLimitWindow: getDuration("GUEST_RATE_LIMIT_WINDOW", 15*time.Minute),

		SafetyWordlistPath: getEnv("SAFETY_WORDLIST_PATH", ""),
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// bareHost strips scheme, path and port: https://api.example.com:443/x -> api.example.com
func bareHost(host string) string {
	for _, prefix := range []string{"https://", "http://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return strings.TrimSpace(host)
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
