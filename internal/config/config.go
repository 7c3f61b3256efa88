package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	// Base64 Ed25519 public key that connect tokens must verify against.
	AuthPublicKey string

	// Transport limits
	MaxMessageSize int64

	// Per-(user,room) message rate limiting
	MessageBurst    int
	MessageInterval time.Duration

	// Per-address connection rate limiting
	ConnectBurst    int
	ConnectInterval time.Duration

	// Ephemeral state lifetimes
	TypingTTL       time.Duration
	RoomGracePeriod time.Duration
	LockMaxAge      time.Duration

	// Bounded buffers
	OfflineQueueLimit int
	HistoryCacheSize  int

	// Housekeeping
	HousekeeperInterval time.Duration
	MemoryPressureBytes uint64 // 0 disables the memory watch

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/pulse.db"),
		AuthPublicKey: os.Getenv("AUTH_PUBLIC_KEY"),

		MaxMessageSize: getEnvInt64("WS_MAX_MESSAGE_SIZE", 8*1024),

		MessageBurst:    getEnvInt("MESSAGE_RATE_BURST", 10),
		MessageInterval: getEnvDuration("MESSAGE_RATE_INTERVAL", 10*time.Second),
		ConnectBurst:    getEnvInt("CONNECT_RATE_BURST", 20),
		ConnectInterval: getEnvDuration("CONNECT_RATE_INTERVAL", time.Minute),

		TypingTTL:       getEnvDuration("TYPING_TTL", 3*time.Second),
		RoomGracePeriod: getEnvDuration("ROOM_GRACE_PERIOD", 30*time.Second),
		LockMaxAge:      getEnvDuration("LOCK_MAX_AGE", 5*time.Minute),

		OfflineQueueLimit: getEnvInt("OFFLINE_QUEUE_LIMIT", 100),
		HistoryCacheSize:  getEnvInt("HISTORY_CACHE_SIZE", 200),

		HousekeeperInterval: getEnvDuration("HOUSEKEEPER_INTERVAL", 30*time.Second),
		MemoryPressureBytes: uint64(getEnvInt64("MEMORY_PRESSURE_BYTES", 0)),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	// In production, require the auth key and a real database
	if cfg.Env == "production" {
		if cfg.AuthPublicKey == "" {
			panic("AUTH_PUBLIC_KEY is required in production")
		}
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
