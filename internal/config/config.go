package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Slack
	SlackSigningSecret string
	SlackBotToken      string
	SlackClientID      string
	SlackClientSecret  string
	SlackAPIBaseURL    string
	SlackTimeout       time.Duration
	SlackMaxRespSize   int64
	SignatureMaxAge    time.Duration

	// Attendance
	HomeTimezone     string
	DefaultAvatarURL string

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitCheck   int

	// Server
	ServerPort string
	BaseURL    string

	// OAuth
	OAuthRedirectURL string
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

	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	if cfg.SlackSigningSecret == "" {
		missing = append(missing, "SLACK_SIGNING_SECRET")
	}

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	if cfg.SlackBotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}

	cfg.SlackClientID = os.Getenv("SLACK_CLIENT_ID")
	if cfg.SlackClientID == "" {
		missing = append(missing, "SLACK_CLIENT_ID")
	}

	cfg.SlackClientSecret = os.Getenv("SLACK_CLIENT_SECRET")
	if cfg.SlackClientSecret == "" {
		missing = append(missing, "SLACK_CLIENT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SlackAPIBaseURL = getEnvString("SLACK_API_BASE_URL", "https://slack.com/api")
	cfg.SlackTimeout = getEnvDuration("SLACK_TIMEOUT", 10*time.Second)
	cfg.SlackMaxRespSize = getEnvInt64("SLACK_MAX_RESPONSE_SIZE", 1048576)
	cfg.SignatureMaxAge = getEnvDuration("SIGNATURE_MAX_AGE", 5*time.Minute)
	cfg.HomeTimezone = getEnvString("HOME_TIMEZONE", "Europe/Berlin")
	cfg.DefaultAvatarURL = getEnvString("DEFAULT_AVATAR_URL", "https://tandem.net/static/android-chrome-96x96.png")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheck = getEnvInt("RATE_LIMIT_CHECK", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.OAuthRedirectURL = getEnvString("OAUTH_REDIRECT_URL", cfg.BaseURL+"/slack/auth")

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
