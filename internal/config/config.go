// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、以降は変更しない。
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" validate:"required"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" validate:"required"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" validate:"required,url"`

	SessionSecret string `env:"SESSION_SECRET" validate:"required"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" validate:"min=60"`

	UploadDir      string `env:"UPLOAD_DIR" validate:"required"`
	AssetBaseURL   string `env:"ASSET_BASE_URL" validate:"required,url"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" validate:"min=1024"`
	ImageMaxWidth  int    `env:"IMAGE_MAX_WIDTH" validate:"min=16"`

	PostListLimit  int `env:"POST_LIST_LIMIT"`
	TagSearchLimit int `env:"TAG_SEARCH_LIMIT"`

	// リクエスト/分
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" validate:"min=1"`
	RateLimitUpload  int `env:"RATE_LIMIT_UPLOAD" validate:"min=1"`

	OrphanAssetGrace time.Duration `env:"ORPHAN_ASSET_GRACE" validate:"min=0"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" validate:"min=1s"`

	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`

	ServerPort string `env:"SERVER_PORT" validate:"required,numeric"`
	BaseURL    string `env:"BASE_URL" validate:"required,url"`

	// CookieSecureはBASE_URLがhttpsかどうかで決まる
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" validate:"required,url"`
}

// requiredVars は既定値を持たない環境変数。
var requiredVars = []string{
	"DATABASE_URL",
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URL",
	"SESSION_SECRET",
	"BASE_URL",
}

// Load は環境変数からConfigを読み込む。
// 必須の環境変数が未設定の場合は、未設定のものをすべて列挙したエラーを返す。
// 数値や期間として解釈できない値は既定値として扱い、範囲外の値はエラーにする。
func Load() (*Config, error) {
	var missing []string
	for _, key := range requiredVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	baseURL := strings.TrimRight(os.Getenv("BASE_URL"), "/")
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		SessionSecret:      os.Getenv("SESSION_SECRET"),
		BaseURL:            baseURL,

		SessionMaxAge:     envInt("SESSION_MAX_AGE", 86400),
		UploadDir:         envString("UPLOAD_DIR", "./uploads"),
		AssetBaseURL:      strings.TrimRight(envString("ASSET_BASE_URL", baseURL+"/uploads"), "/"),
		UploadMaxBytes:    envInt64("UPLOAD_MAX_BYTES", 5<<20),
		ImageMaxWidth:     envInt("IMAGE_MAX_WIDTH", 1920),
		PostListLimit:     envIntInRange("POST_LIST_LIMIT", 200, 1, 200),
		TagSearchLimit:    envIntInRange("TAG_SEARCH_LIMIT", 100, 1, 100),
		RateLimitGeneral:  envInt("RATE_LIMIT_GENERAL", 120),
		RateLimitUpload:   envInt("RATE_LIMIT_UPLOAD", 10),
		OrphanAssetGrace:  envDuration("ORPHAN_ASSET_GRACE", 24*time.Hour),
		CleanupInterval:   envDuration("CLEANUP_INTERVAL", time.Hour),
		LogLevel:          strings.ToLower(envString("LOG_LEVEL", "info")),
		ServerPort:        envString("SERVER_PORT", "8080"),
		CookieSecure:      strings.HasPrefix(baseURL, "https://"),
		CookieDomain:      os.Getenv("COOKIE_DOMAIN"),
		CORSAllowedOrigin: envString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は各フィールドのvalidateタグを検証し、違反を環境変数名で報告する。
func validate(cfg *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	invalid := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Field(), rule))
	}
	return fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return i
}

// envIntInRange は範囲外の値を既定値として扱う。
func envIntInRange(key string, fallback, lo, hi int) int {
	i := envInt(key, fallback)
	if i < lo || i > hi {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	i, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}
