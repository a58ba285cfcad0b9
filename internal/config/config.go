package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLen = 32

// Config contains runtime configuration values.
type Config struct {
	Environment           string
	HTTPPort              string
	PublicBaseURL         string
	AppBaseURL            string
	DatabaseURL           string
	SQLitePath            string
	SQLLogLevel           string
	TokenEncryptionKey    string
	StateSigningKey       string
	SessionSigningKey     string
	SessionIssuer         string
	SessionAudience       string
	StateTTL              time.Duration
	VaultMaxConcurrency   int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ProviderCatalogPath   string
	ProviderTimeout       time.Duration
	ExpiringSoonThreshold time.Duration
	StaleAfter            time.Duration
	PreviewLimit          int
	VerifySchedule        string
	AMQPURL               string
	AMQPQueue             string
	DefaultTenantID       int64
	DefaultTenantSlug     string
	DefaultOwnerUserID    string
	ServiceName           string
	RateLimitRPM          int
	TelemetryEndpoint     string
	TelemetryInsecure     bool
	TelemetrySampleRatio  float64
	CORSAllowedOrigins    []string
	CORSAllowedMethods    []string
	CORSAllowedHeaders    []string
	CORSAllowCredentials  bool
}

// Load reads configuration from environment variables with sane defaults. It fails when
// key material is missing; there is no development fallback.
func Load() (Config, error) {
	_ = godotenv.Load()

	encryptionKey := strings.TrimSpace(os.Getenv("TOKEN_ENCRYPTION_KEY"))
	if encryptionKey == "" {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if len(encryptionKey) < minSecretLen {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be at least %d characters", minSecretLen)
	}
	signingKey := strings.TrimSpace(os.Getenv("STATE_SIGNING_KEY"))
	if signingKey == "" {
		return Config{}, fmt.Errorf("STATE_SIGNING_KEY is required")
	}
	if len(signingKey) < minSecretLen {
		return Config{}, fmt.Errorf("STATE_SIGNING_KEY must be at least %d characters", minSecretLen)
	}
	sessionKey := strings.TrimSpace(os.Getenv("SESSION_SIGNING_KEY"))
	if sessionKey == "" {
		return Config{}, fmt.Errorf("SESSION_SIGNING_KEY is required")
	}
	if len(sessionKey) < minSecretLen {
		return Config{}, fmt.Errorf("SESSION_SIGNING_KEY must be at least %d characters", minSecretLen)
	}
	publicBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	if publicBaseURL == "" {
		return Config{}, fmt.Errorf("PUBLIC_BASE_URL is required")
	}

	var defaultTenantID int64
	if raw := strings.TrimSpace(os.Getenv("DEFAULT_TENANT_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("DEFAULT_TENANT_ID must be a valid int64")
		}
		defaultTenantID = id
	}

	cfg := Config{
		Environment:           getEnv("APP_ENV", "development"),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		PublicBaseURL:         publicBaseURL,
		AppBaseURL:            strings.TrimRight(getEnv("APP_BASE_URL", publicBaseURL), "/"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		SQLLogLevel:           strings.ToLower(getEnv("SQL_LOG_LEVEL", "warn")),
		TokenEncryptionKey:    encryptionKey,
		StateSigningKey:       signingKey,
		SessionSigningKey:     sessionKey,
		SessionIssuer:         getEnv("SESSION_ISSUER", "railzway-dashboard"),
		SessionAudience:       getEnv("SESSION_AUDIENCE", "railzway-connect"),
		StateTTL:              getDuration("STATE_TTL", 10*time.Minute),
		VaultMaxConcurrency:   getInt("VAULT_MAX_CONCURRENCY", 4),
		RedisAddr:             getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0),
		ProviderCatalogPath:   os.Getenv("PROVIDER_CATALOG_PATH"),
		ProviderTimeout:       getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ExpiringSoonThreshold: getDuration("EXPIRING_SOON_THRESHOLD", 7*24*time.Hour),
		StaleAfter:            getDuration("STALE_AFTER", 30*24*time.Hour),
		PreviewLimit:          getInt("PREVIEW_LIMIT", 3),
		VerifySchedule:        strings.TrimSpace(os.Getenv("VERIFY_SCHEDULE")),
		AMQPURL:               os.Getenv("AMQP_URL"),
		AMQPQueue:             getEnv("AMQP_QUEUE", "connection.lifecycle"),
		DefaultTenantID:       defaultTenantID,
		DefaultTenantSlug:     getEnv("DEFAULT_TENANT_SLUG", "default"),
		DefaultOwnerUserID:    strings.TrimSpace(os.Getenv("DEFAULT_OWNER_USER_ID")),
		ServiceName:           getEnv("SERVICE_NAME", "railzway-connect"),
		RateLimitRPM:          getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:     getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio:  getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		CORSAllowedOrigins:    getList("CORS_ALLOWED_ORIGINS", nil),
		CORSAllowedMethods:    getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:    getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Org-ID", "X-User-ID"}),
		CORSAllowCredentials:  getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	return cfg, nil
}

// UsePostgres reports whether the Postgres backend is configured.
func (c Config) UsePostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
