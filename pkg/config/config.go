package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// StoreDriver selects the durable store: "sqlite" or "mongo".
	StoreDriver   string
	DatabasePath  string
	MongoURI      string
	MongoDatabase string

	// CacheDriver selects the ephemeral store: "memory" or "redis".
	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret   string
	CORSOrigins string

	PresenceTTL      time.Duration
	LastSeenThrottle time.Duration
	// SendRateLimit is messages per minute per user.
	SendRateLimit int64

	LinkPreviewTimeout  time.Duration
	LinkPreviewCacheTTL time.Duration
}

const (
	defaultPresenceTTL      = 300 * time.Second
	defaultLastSeenThrottle = 60 * time.Second
	defaultSendRateLimit    = 60

	defaultLinkPreviewTimeout  = 5 * time.Second
	defaultLinkPreviewCacheTTL = time.Hour
)

// Load reads configuration from the environment. A dotenv file named by
// KARU_ENV_FILE, or ./.env when present, is loaded first; variables already
// set in the process environment take precedence over the file.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StoreDriver:      getEnv("STORE_DRIVER", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/karu.db"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "karu"),
		CacheDriver:      getEnv("CACHE_DRIVER", "memory"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          int(parseInt64(getEnv("REDIS_DB", "0"), 0)),
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		PresenceTTL:      parseDuration(getEnv("PRESENCE_TTL", ""), defaultPresenceTTL),
		LastSeenThrottle: parseDuration(getEnv("LAST_SEEN_THROTTLE", ""), defaultLastSeenThrottle),
		SendRateLimit:    parseInt64(getEnv("SEND_RATE_LIMIT", ""), defaultSendRateLimit),

		LinkPreviewTimeout:  parseDuration(getEnv("LINK_PREVIEW_TIMEOUT", ""), defaultLinkPreviewTimeout),
		LinkPreviewCacheTTL: parseDuration(getEnv("LINK_PREVIEW_CACHE_TTL", ""), defaultLinkPreviewCacheTTL),
	}
}

func loadEnvFile() {
	if path := os.Getenv("KARU_ENV_FILE"); path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

// parseDuration accepts Go duration strings ("90s") or bare seconds ("90").
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
