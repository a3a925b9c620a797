package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Admission
	// AllowParallelAttempts がfalseの場合、同一演習のin_progress受験が
	// 存在する間は新しい受験の開始を拒否する。
	AllowParallelAttempts bool

	// Scoring
	// ScoringURL が空の場合、提出後のスコア再計算呼び出しは行わない。
	ScoringURL     string
	ScoringTimeout time.Duration

	// Worker
	DeadlineSweepInterval time.Duration
	// TimeoutGrace は制限時間超過から timed_out 遷移までの猶予。
	TimeoutGrace time.Duration
	// AbandonAfter はin_progressのまま放置された受験をabandonedにするまでの時間。
	AbandonAfter time.Duration

	// Billing
	// BillingWebhookSecret が空の場合、課金Webhookは無効化される。
	BillingWebhookSecret string

	// Rate Limit
	RateLimitGeneral   int
	RateLimitAdmission int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.AllowParallelAttempts = getEnvBool("ALLOW_PARALLEL_ATTEMPTS", true)
	cfg.ScoringURL = getEnvString("SCORING_URL", "")
	cfg.ScoringTimeout = getEnvDuration("SCORING_TIMEOUT", 10*time.Second)
	cfg.DeadlineSweepInterval = getEnvDuration("DEADLINE_SWEEP_INTERVAL", time.Minute)
	cfg.TimeoutGrace = getEnvDuration("TIMEOUT_GRACE", 2*time.Minute)
	cfg.AbandonAfter = getEnvDuration("ABANDON_AFTER", 24*time.Hour)
	cfg.BillingWebhookSecret = getEnvString("BILLING_WEBHOOK_SECRET", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAdmission = getEnvInt("RATE_LIMIT_ADMISSION", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
