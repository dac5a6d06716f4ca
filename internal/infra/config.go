package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"

	CreditBackendStore = "store"
	CreditBackendRedis = "redis"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	JWTSecret   string
	GeoIPDBPath string

	StoreBackend  string
	DatabaseURL   string
	SQLitePath    string
	CreditBackend string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	InitialCredits int

	RendererURL     string
	RendererAPIKey  string
	RendererTimeout time.Duration

	PollInterval      time.Duration
	PollMaxIterations int
	PollMaxErrors     int
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration

	StoragePath    string
	StorageBaseURL string

	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LoadConfig loads .env files when present, reads configuration from
// environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		JWTSecret:   os.Getenv("JWT_SECRET"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getEnv("SQLITE_PATH", "./caricature.db"),
		CreditBackend: strings.ToLower(getEnv("CREDIT_BACKEND", CreditBackendStore)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		InitialCredits: getEnvInt("INITIAL_CREDITS", 1),

		RendererURL:     getEnv("RENDERER_URL", "https://api.segmind.com/workflows/6761c4d8e0630da504657249-v6"),
		RendererAPIKey:  os.Getenv("RENDERER_API_KEY"),
		RendererTimeout: time.Second * time.Duration(getEnvInt("RENDERER_TIMEOUT_SECONDS", 30)),

		PollInterval:      getEnvDurationMillis("POLL_INTERVAL_MS", 2*time.Second),
		PollMaxIterations: getEnvInt("POLL_MAX_ITERATIONS", 600),
		PollMaxErrors:     getEnvInt("POLL_MAX_ERRORS", 5),
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    getEnvDurationMillis("RETRY_BASE_DELAY_MS", time.Second),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.CreditBackend {
	case CreditBackendStore:
	case CreditBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis credit backend")
		}
	default:
		return fmt.Errorf("unsupported CREDIT_BACKEND %q", c.CreditBackend)
	}
	if c.PollMaxIterations <= 0 {
		return fmt.Errorf("POLL_MAX_ITERATIONS must be positive")
	}
	if c.InitialCredits < 0 {
		return fmt.Errorf("INITIAL_CREDITS must not be negative")
	}
	if _, err := url.Parse(c.RendererURL); err != nil {
		return fmt.Errorf("RENDERER_URL: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDurationMillis(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
