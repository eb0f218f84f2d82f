package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ストアバックエンドの種別。
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// トラック名検証ポリシーの種別。
const (
	TrackPolicyFreeForm = "freeform"
	TrackPolicyRegistry = "registry"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend           string
	DatabaseURL            string
	DBConnectMaxAttempts   int
	DBConnectRetryInterval time.Duration

	// Session
	SessionSecret           string
	SessionMaxAge           int
	SessionPersistentMaxAge int

	// Rate Limit (requests per minute)
	RateLimitHigh   int
	RateLimitMedium int
	RateLimitLow    int

	// Track
	TrackNamePolicy string

	// Credentials
	BcryptCost       int
	PasswordResetURL string
	PasswordResetTTL time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足している変数名をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendPostgres))
	if cfg.StoreBackend != StoreBackendPostgres && cfg.StoreBackend != StoreBackendMemory {
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreBackend == StoreBackendPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.TrackNamePolicy = strings.ToLower(getEnvString("TRACK_NAME_POLICY", TrackPolicyFreeForm))
	if cfg.TrackNamePolicy != TrackPolicyFreeForm && cfg.TrackNamePolicy != TrackPolicyRegistry {
		return nil, fmt.Errorf("unsupported TRACK_NAME_POLICY: %q", cfg.TrackNamePolicy)
	}

	// Optional fields with defaults
	cfg.DBConnectMaxAttempts = getEnvInt("DB_CONNECT_MAX_ATTEMPTS", 5)
	cfg.DBConnectRetryInterval = getEnvDuration("DB_CONNECT_RETRY_INTERVAL", 5*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionPersistentMaxAge = getEnvInt("SESSION_PERSISTENT_MAX_AGE", 2592000)
	cfg.RateLimitHigh = getEnvInt("RATE_LIMIT_HIGH", 20)
	cfg.RateLimitMedium = getEnvInt("RATE_LIMIT_MEDIUM", 120)
	cfg.RateLimitLow = getEnvInt("RATE_LIMIT_LOW", 600)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.PasswordResetTTL = getEnvDuration("PASSWORD_RESET_TTL", time.Hour)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.PasswordResetURL = getEnvString("PASSWORD_RESET_URL", cfg.BaseURL+"/reset-password")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("BCRYPT_COST must be between %d and %d: %d", bcrypt.MinCost, bcrypt.MaxCost, cfg.BcryptCost)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("CLEANUP_INTERVAL must be positive: %s", cfg.CleanupInterval)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
