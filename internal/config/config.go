package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// グローバル変数には保持せず、app層から各コンポーネントへ明示的に渡す。
type Config struct {
	// Database
	DatabaseURL string

	// Session token
	JWTSecret       string
	SessionTTL      time.Duration
	AddonTokenTTL   time.Duration
	RefreshTokenTTL time.Duration

	// Google OAuth / OpenID Connect
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	// Frontend
	FrontendURL string

	// Environment
	AppEnv          string
	EnableTestLogin bool

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// requiredVars は未設定なら起動できない環境変数と、その格納先。
func requiredVars(cfg *Config) []struct {
	key string
	dst *string
} {
	return []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"JWT_SECRET", &cfg.JWTSecret},
		{"GOOGLE_CLIENT_ID", &cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret},
		{"GOOGLE_CALLBACK_URL", &cfg.GoogleCallbackURL},
		{"FRONTEND_URL", &cfg.FrontendURL},
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。起動時の致命的エラーとして扱うこと。
// 任意項目の値が不正な場合は警告ログを出してデフォルト値を使う。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	for _, v := range requiredVars(cfg) {
		*v.dst = strings.TrimSpace(os.Getenv(v.key))
		if *v.dst == "" {
			missing = append(missing, v.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}

	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.EnableTestLogin = getEnvBool("ENABLE_TEST_LOGIN", false) && !cfg.IsProduction()
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", time.Hour)
	cfg.AddonTokenTTL = getEnvDuration("ADDON_TOKEN_TTL", 7*24*time.Hour)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = cfg.IsProduction()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	// カンマ区切りで複数指定できる
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.FrontendURL)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// parseEnv は key の値を parse で変換する。未設定または変換失敗時は defaultVal を返す。
func parseEnv[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("invalid environment variable, using default",
			slog.String("key", key),
			slog.String("value", raw),
			slog.Any("default", defaultVal),
		)
		return defaultVal
	}
	return v
}

func getEnvInt(key string, defaultVal int) int {
	return parseEnv(key, defaultVal, func(s string) (int, error) {
		i, err := strconv.Atoi(s)
		if err == nil && i <= 0 {
			return 0, fmt.Errorf("%s must be positive", key)
		}
		return i, err
	})
}

func getEnvBool(key string, defaultVal bool) bool {
	return parseEnv(key, defaultVal, strconv.ParseBool)
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	return parseEnv(key, defaultVal, func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err == nil && d <= 0 {
			return 0, fmt.Errorf("%s must be positive", key)
		}
		return d, err
	})
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	return parseEnv(key, defaultVal, func(s string) (slog.Level, error) {
		switch strings.ToLower(s) {
		case "debug":
			return slog.LevelDebug, nil
		case "info":
			return slog.LevelInfo, nil
		case "warn", "warning":
			return slog.LevelWarn, nil
		case "error":
			return slog.LevelError, nil
		}
		return defaultVal, fmt.Errorf("unknown log level %q", s)
	})
}
