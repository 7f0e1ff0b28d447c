package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-derived setting the server needs at startup.
// Loaded once in main(); fail-fast on any invalid required value.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	CORSOrigins []string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime string
	DBConnMaxIdleTime string

	RedisURL string

	MasterKey        []byte
	CookieSigningKey []byte
	CookieDomain     string

	SessionDurationDays int
	RateLimitPerMin     int

	UploadBufferSlots    int
	DownloadBufferSlots  int
	ChunkSizeBytes       int64
	MaxFileSizeBytes     int64
	UploadTimeoutSeconds int
	StagingDir           string
}

// LoadConfig reads configuration from the environment (and an optional .env
// file, lower priority than real env vars) and validates it. CRITICAL:
// fails fast if required secrets are absent or malformed.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379")
	v.SetDefault("SESSION_DURATION_DAYS", 7)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("UPLOAD_BUFFER_SLOTS", 200)
	v.SetDefault("DOWNLOAD_BUFFER_SLOTS", 200)
	v.SetDefault("CHUNK_SIZE_BYTES", int64(6*1024*1024))
	v.SetDefault("MAX_FILE_SIZE_BYTES", int64(50*1024*1024*1024))
	v.SetDefault("UPLOAD_TIMEOUT_SECONDS", 300)
	v.SetDefault("STAGING_DIR", "uploads/files")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "10m")

	// Optional file is fine; env vars are the source of truth in production.
	_ = v.ReadInConfig()

	masterKeyHex := v.GetString("MASTER_KEY")
	if masterKeyHex == "" {
		return nil, fmt.Errorf("MASTER_KEY is required")
	}
	masterKey, err := ValidateMasterKeyHex(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY: %w", err)
	}

	cookieKeyHex := v.GetString("COOKIE_SIGNING_KEY")
	if cookieKeyHex == "" {
		return nil, fmt.Errorf("COOKIE_SIGNING_KEY is required")
	}
	cookieKey, err := ValidateMasterKeyHex(cookieKeyHex)
	if err != nil {
		return nil, fmt.Errorf("COOKIE_SIGNING_KEY: %w", err)
	}

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var origins []string
	if raw := v.GetString("CORS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CORSOrigins: origins,

		DatabaseURL:       dbURL,
		DBMaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetString("DB_CONN_MAX_IDLE_TIME"),

		RedisURL: v.GetString("REDIS_URL"),

		MasterKey:        masterKey,
		CookieSigningKey: cookieKey,
		CookieDomain:     v.GetString("COOKIE_DOMAIN"),

		SessionDurationDays: v.GetInt("SESSION_DURATION_DAYS"),
		RateLimitPerMin:     v.GetInt("RATE_LIMIT_PER_MINUTE"),

		UploadBufferSlots:    v.GetInt("UPLOAD_BUFFER_SLOTS"),
		DownloadBufferSlots:  v.GetInt("DOWNLOAD_BUFFER_SLOTS"),
		ChunkSizeBytes:       v.GetInt64("CHUNK_SIZE_BYTES"),
		MaxFileSizeBytes:     v.GetInt64("MAX_FILE_SIZE_BYTES"),
		UploadTimeoutSeconds: v.GetInt("UPLOAD_TIMEOUT_SECONDS"),
		StagingDir:           v.GetString("STAGING_DIR"),
	}

	if cfg.SessionDurationDays <= 0 {
		return nil, fmt.Errorf("SESSION_DURATION_DAYS must be positive")
	}

	return cfg, nil
}

// SessionDuration returns the configured session lifetime as a duration.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationDays) * 24 * time.Hour
}

// ValidateMasterKeyHex decodes a 64-character hex string into 32 raw bytes.
// Shared by MASTER_KEY and COOKIE_SIGNING_KEY, which have identical shape.
func ValidateMasterKeyHex(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if len(value) != 64 {
		return nil, fmt.Errorf("must be exactly 64 hex characters (32 bytes), got %d", len(value))
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	return raw, nil
}
