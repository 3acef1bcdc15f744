package config

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	Port        int
	StoreDriver string
	DBURL       string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret         string
	JWTAccessTTLHours int

	VerificationCodeLength     int
	VerificationCodeTTLMinutes int
	ResetPasswordTTLMinutes    int
	PublicBaseURL              string

	SMTP SMTPConfig

	OTLPEndpoint          string
	OTELSampleRatio       float64
	CORSAllowedOrigins    []string
	SearchCacheTTLSeconds int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		Port:        getEnvInt("PORT", 8080),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DBURL:       buildDBURL(),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "trajethub"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLHours: getEnvInt("JWT_ACCESS_TTL_HOURS", 24),

		VerificationCodeLength:     getEnvInt("VERIFICATION_CODE_LENGTH", 6),
		VerificationCodeTTLMinutes: getEnvInt("VERIFICATION_CODE_TTL_MINUTES", 60),
		ResetPasswordTTLMinutes:    getEnvInt("RESET_PASSWORD_TTL_MINUTES", 60),
		PublicBaseURL:              strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("SMTP_FROM", "no-reply@trajethub.local"),
			Secure:   getEnv("SMTP_SECURE", "false") == "true",
		},

		OTLPEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELSampleRatio:       getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		SearchCacheTTLSeconds: getEnvInt("SEARCH_CACHE_TTL_SECONDS", 30),
	}
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLHours) * time.Hour
}

func (c Config) VerificationCodeTTL() time.Duration {
	return time.Duration(c.VerificationCodeTTLMinutes) * time.Minute
}

func (c Config) ResetPasswordTTL() time.Duration {
	return time.Duration(c.ResetPasswordTTLMinutes) * time.Minute
}

func (c Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.SearchCacheTTLSeconds) * time.Second
}

// IsDev reports whether the service runs with local development defaults.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// Validate rejects settings that are only acceptable in dev. Reset links
// outside dev must come from PUBLIC_BASE_URL, never from the request Host.
func (c Config) Validate() error {
	if c.IsDev() {
		return nil
	}
	if c.PublicBaseURL == "" {
		return errors.New("PUBLIC_BASE_URL is required when APP_ENV is not dev")
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PUBLIC_BASE_URL must be an absolute URL")
	}
	return nil
}

func buildDBURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("DB_USER", "trajethub"), getEnv("DB_PASSWORD", "trajethub")),
		Host:     net.JoinHostPort(getEnv("DB_HOST", "127.0.0.1"), getEnv("DB_PORT", "5432")),
		Path:     "/" + getEnv("DB_NAME", "trajethub"),
		RawQuery: url.Values{"sslmode": {getEnv("DB_SSLMODE", "disable")}}.Encode(),
	}
	return u.String()
}

// WithTimeout bounds a request-scoped operation while keeping the parent's
// trace and cancellation.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid integer env value, using default", "key", key, "value", v, "err", err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env value, using default", "key", key, "value", v, "err", err)
			return fallback
		}
		return f
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
