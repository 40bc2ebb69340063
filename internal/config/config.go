// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minSigningKeyLength はCookie署名鍵に要求する最小バイト数。
const minSigningKeyLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	Address     string
	Environment string
	LogLevel    slog.Level
	APIURL      string
	FrontendURL string

	// Stores
	DatabaseURL string
	CacheURL    string
	CacheTTL    time.Duration

	// Cookie / Session
	CookieSigningKey        []byte
	CookieDomain            string
	CookieSecure            bool
	SessionTTL              time.Duration
	SessionRefreshWindow    time.Duration
	SessionRefreshExtension time.Duration
	OAuthStateTTL           time.Duration

	// Domains
	AdminDomains           []string
	UserDomains            []string
	EventDomainSuffix      string
	AllowedRedirectDomains []string
	RedirectRequireHTTPS   bool

	// Providers
	ProviderHTTPTimeout     time.Duration
	AllowUnlinkLastIdentity bool

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// CORS
	CORSAllowedOrigins []string

	// TrustProxyHeaders はX-Forwarded-For等から接続元IPを取得するか。
	// 信頼できるリバースプロキシの背後でのみ有効にする。
	TrustProxyHeaders bool
}

// IsDevelopment はローカル開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CacheURL = os.Getenv("CACHE_URL")
	if cfg.CacheURL == "" {
		missing = append(missing, "CACHE_URL")
	}

	signingKey := os.Getenv("COOKIE_SIGNING_KEY")
	if signingKey == "" {
		missing = append(missing, "COOKIE_SIGNING_KEY")
	}

	cfg.APIURL = strings.TrimRight(os.Getenv("API_URL"), "/")
	if cfg.APIURL == "" {
		missing = append(missing, "API_URL")
	}

	cfg.FrontendURL = strings.TrimRight(os.Getenv("FRONTEND_URL"), "/")
	if cfg.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}

	// 期間は正の値のみ受け付ける。0はキャッシュを無期限にしてしまう。
	var invalid []string
	duration := func(key string, defaultVal time.Duration) time.Duration {
		d, ok := getEnvDuration(key, defaultVal)
		if !ok {
			invalid = append(invalid, key)
		}
		return d
	}
	cfg.CacheTTL = duration("CACHE_TTL", 30*time.Second)
	cfg.SessionTTL = duration("SESSION_TTL", 14*24*time.Hour)
	cfg.SessionRefreshWindow = duration("SESSION_REFRESH_WINDOW", 8*time.Hour)
	cfg.SessionRefreshExtension = duration("SESSION_REFRESH_EXTENSION", 3*24*time.Hour)
	cfg.OAuthStateTTL = duration("OAUTH_STATE_TTL", 10*time.Minute)
	cfg.ProviderHTTPTimeout = duration("PROVIDER_HTTP_TIMEOUT", 10*time.Second)

	if len(missing) > 0 || len(invalid) > 0 {
		var problems []string
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("required environment variables are not set: %v", missing))
		}
		if len(invalid) > 0 {
			problems = append(problems, fmt.Sprintf("durations must be positive: %v", invalid))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	if len(signingKey) < minSigningKeyLength {
		return nil, fmt.Errorf("COOKIE_SIGNING_KEY must be at least %d bytes", minSigningKeyLength)
	}
	cfg.CookieSigningKey = []byte(signingKey)

	level, err := parseLogLevel(getEnvString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	// Optional fields with defaults
	cfg.Address = getEnvString("ADDRESS", "127.0.0.1:4243")
	cfg.Environment = getEnvString("ENVIRONMENT", "production")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CookieSecure = !cfg.IsDevelopment()
	cfg.AdminDomains = getEnvList("ADMIN_DOMAINS")
	cfg.UserDomains = getEnvList("USER_DOMAINS")
	cfg.EventDomainSuffix = strings.ToLower(getEnvString("EVENT_DOMAIN_SUFFIX", ""))
	cfg.AllowedRedirectDomains = getEnvList("ALLOWED_REDIRECT_DOMAINS")
	cfg.RedirectRequireHTTPS = getEnvBool("REDIRECT_REQUIRE_HTTPS", !cfg.IsDevelopment())
	cfg.AllowUnlinkLastIdentity = getEnvBool("ALLOW_UNLINK_LAST_IDENTITY", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS")
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{strings.ToLower(cfg.FrontendURL)}
	}
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)

	if cfg.EventDomainSuffix != "" && !strings.HasPrefix(cfg.EventDomainSuffix, ".") {
		cfg.EventDomainSuffix = "." + cfg.EventDomainSuffix
	}

	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの環境変数を小文字化・空要素除去したスライスで返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvDuration は期間を読み込む。未設定なら既定値を返す。
// 解釈できないか正でない値の場合はokがfalseになる。
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal, false
	}
	return d, true
}
