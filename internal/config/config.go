// Package config loads service configuration from the environment. A .env file
// in the working directory is read first when present; real environment
// variables take precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
)

type Config struct {
	GRPCAddr string
	HTTPAddr string

	// MongoURI empty selects the in-memory document store.
	MongoURI      string
	MongoDatabase string

	// RedisAddr empty selects the in-memory liveness store.
	RedisAddr     string
	RedisPassword string

	JWTSecret    string
	JWTKeys      map[string]string
	JWTActiveKid string
	TokenTTL     time.Duration

	TeacherEmail   string
	RateLimitRPM   int
	PresenceTTL    time.Duration
	ReaperInterval time.Duration
	CommunityLimit int

	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// Load reads the configuration. It fails when no signing key is configured or
// JWT_KEYS is malformed.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		GRPCAddr:       getenv("GRPC_ADDR", ":50051"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  getenv("MONGODB_DATABASE", "classroom_db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTActiveKid:   os.Getenv("JWT_ACTIVE_KID"),
		TokenTTL:       getenvDuration("TOKEN_TTL", 24*time.Hour),
		TeacherEmail:   normalize.Email(os.Getenv("TEACHER_EMAIL")),
		RateLimitRPM:   getenvInt("RATE_LIMIT_RPM", 10),
		PresenceTTL:    getenvDuration("PRESENCE_TTL", 90*time.Second),
		ReaperInterval: getenvDuration("REAPER_INTERVAL", 30*time.Second),
		CommunityLimit: getenvInt("COMMUNITY_LIMIT", 50),
		TLSCert:        os.Getenv("TLS_CERT"),
		TLSKey:         os.Getenv("TLS_KEY"),
		RequireTLS:     os.Getenv("REQUIRE_TLS") == "true",
	}

	if raw := os.Getenv("JWT_KEYS"); raw != "" {
		keys, err := ParseKeys(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.JWTKeys = keys
	}
	if cfg.JWTSecret == "" && len(cfg.JWTKeys) == 0 {
		return Config{}, fmt.Errorf("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(cfg.JWTKeys) > 0 {
		if _, ok := cfg.JWTKeys[cfg.JWTActiveKid]; !ok {
			return Config{}, fmt.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", cfg.JWTActiveKid)
		}
	}
	if cfg.RequireTLS && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		return Config{}, fmt.Errorf("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return cfg, nil
}

// ParseKeys parses "kid:secret,kid2:secret2".
func ParseKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
