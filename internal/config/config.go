package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Presence backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	Presence PresenceConfig
	Redis    RedisConfig
}

// PresenceConfig holds the presence and auto-assignment settings
type PresenceConfig struct {
	Backend          string
	KeyPrefix        string
	TTL              time.Duration
	StoreTimeout     time.Duration
	AwayThreshold    time.Duration
	OfflineThreshold time.Duration
	SweepInterval    time.Duration
	SweepEnabled     bool
	SnapshotInterval time.Duration
	DefaultMaxWait   time.Duration
	DefaultMaxChats  int
}

// RedisConfig holds the shared cache connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	presence, err := loadPresence()
	if err != nil {
		return nil, err
	}
	config.Presence = presence

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	config.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	return config, nil
}

func loadPresence() (PresenceConfig, error) {
	var (
		p   PresenceConfig
		err error
	)

	p.Backend = strings.ToLower(getEnv("PRESENCE_BACKEND", BackendMemory))
	if p.Backend != BackendMemory && p.Backend != BackendRedis {
		return p, fmt.Errorf("invalid PRESENCE_BACKEND: %q", p.Backend)
	}
	p.KeyPrefix = getEnv("PRESENCE_KEY_PREFIX", "presence")

	if p.TTL, err = getDuration("PRESENCE_TTL_SECONDS", "300", time.Second); err != nil {
		return p, err
	}
	if p.StoreTimeout, err = getDuration("STORE_TIMEOUT_SECONDS", "3", time.Second); err != nil {
		return p, err
	}
	if p.AwayThreshold, err = getDuration("AWAY_THRESHOLD_MINUTES", "5", time.Minute); err != nil {
		return p, err
	}
	if p.OfflineThreshold, err = getDuration("OFFLINE_THRESHOLD_MINUTES", "10", time.Minute); err != nil {
		return p, err
	}
	if p.SweepInterval, err = getDuration("SWEEP_INTERVAL_SECONDS", "60", time.Second); err != nil {
		return p, err
	}
	if p.SnapshotInterval, err = getDuration("SNAPSHOT_INTERVAL_SECONDS", "5", time.Second); err != nil {
		return p, err
	}
	if p.DefaultMaxWait, err = getDuration("DEFAULT_MAX_WAIT_SECONDS", "300", time.Second); err != nil {
		return p, err
	}

	p.SweepEnabled, err = strconv.ParseBool(getEnv("PRESENCE_SWEEP_ENABLED", "true"))
	if err != nil {
		return p, fmt.Errorf("invalid PRESENCE_SWEEP_ENABLED: %w", err)
	}

	p.DefaultMaxChats, err = strconv.Atoi(getEnv("DEFAULT_MAX_CHATS", "5"))
	if err != nil {
		return p, fmt.Errorf("invalid DEFAULT_MAX_CHATS: %w", err)
	}
	if p.DefaultMaxChats < 1 {
		return p, fmt.Errorf("invalid DEFAULT_MAX_CHATS: must be at least 1, got %d", p.DefaultMaxChats)
	}

	if p.StoreTimeout < time.Second || p.StoreTimeout > 30*time.Second {
		return p, fmt.Errorf("invalid STORE_TIMEOUT_SECONDS: must be between 1 and 30, got %v", p.StoreTimeout)
	}
	if p.AwayThreshold >= p.OfflineThreshold {
		return p, fmt.Errorf("AWAY_THRESHOLD_MINUTES (%v) must be lower than OFFLINE_THRESHOLD_MINUTES (%v)",
			p.AwayThreshold, p.OfflineThreshold)
	}

	return p, nil
}

// RecordTTL is the effective presence record lifetime. Records always live
// until the offline threshold so idle agents pass through AWAY.
func (p PresenceConfig) RecordTTL() time.Duration {
	if p.TTL < p.OfflineThreshold {
		return p.OfflineThreshold
	}
	return p.TTL
}

// getDuration parses a positive integer environment variable in the given unit
func getDuration(key, defaultValue string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return time.Duration(n) * unit, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
