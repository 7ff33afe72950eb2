package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Kafka     KafkaConfig
	Maps      MapsConfig
	Lifecycle LifecycleConfig
	Sweep     SweepConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// KafkaConfig holds the notification topic settings. No brokers means events
// are logged instead of published.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Async publishes without waiting for broker acks.
	Async bool
}

// MapsConfig holds the geocoding provider settings.
type MapsConfig struct {
	APIKey   string
	CacheTTL time.Duration
}

// LifecycleConfig holds the booking lifecycle tunables.
type LifecycleConfig struct {
	HandoffRadiusMeters float64
	FallbackWindow      time.Duration
	DisputeWindow       time.Duration
	CaptureLockTTL      time.Duration
	Currency            string
}

// SweepConfig holds the scheduled sweep settings.
type SweepConfig struct {
	Secret    string
	BatchSize int
	LockTTL   time.Duration
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "carshare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "carshare-bookings"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "booking-notifications"),
			Async:   getBoolEnv("KAFKA_ASYNC", true),
		},
		Maps: MapsConfig{
			APIKey:   getEnv("GOOGLE_MAPS_API_KEY", ""),
			CacheTTL: getDurationEnv("GEOCODE_CACHE_TTL", 24*time.Hour),
		},
		Lifecycle: LifecycleConfig{
			HandoffRadiusMeters: getFloatEnv("HANDOFF_RADIUS_METERS", 50),
			FallbackWindow:      getDurationEnv("HANDOFF_FALLBACK_WINDOW", 30*time.Minute),
			DisputeWindow:       getDurationEnv("CHARGE_DISPUTE_WINDOW", 48*time.Hour),
			CaptureLockTTL:      getDurationEnv("CAPTURE_LOCK_TTL", 30*time.Second),
			Currency:            getEnv("DEFAULT_CURRENCY", "USD"),
		},
		Sweep: SweepConfig{
			Secret:    getEnv("SWEEP_SECRET", ""),
			BatchSize: getIntEnv("SWEEP_BATCH_SIZE", 100),
			LockTTL:   getDurationEnv("SWEEP_LOCK_TTL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
