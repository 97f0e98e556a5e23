package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config holds all configuration for our application
type Config struct {
	Port        string
	Origin      string
	Environment string
	LogLevel    string
	ServiceName string
	JWTSecret   string
	// StoreDriver is "mysql" or "memory".
	StoreDriver string
	Database    DatabaseConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Messaging   MessagingConfig
	Stream      StreamConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// RedisConfig holds the event bus connection. An empty URL selects the
// in-process bus.
type RedisConfig struct {
	URL string
}

// QueueConfig holds the clinic-wide queue defaults. Doctors can override the
// consultation length and threshold in their settings.
type QueueConfig struct {
	AvgConsultationMinutes int
	WaitingRoomThreshold   int
	Timezone               string
	Location               *time.Location
}

// MessagingConfig controls the thread policy.
type MessagingConfig struct {
	AllowAfterCompletion bool
}

// StreamConfig controls the server-sent event stream.
type StreamConfig struct {
	Heartbeat time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "consultations"),
	}

	// parseTime is required so DATETIME columns scan into time.Time
	dbConfig.DSN = getEnv("DB_DSN", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name))

	avgMinutes, err := strconv.Atoi(getEnv("QUEUE_AVG_CONSULTATION_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_AVG_CONSULTATION_MINUTES: %w", err)
	}
	if avgMinutes <= 0 {
		return nil, fmt.Errorf("invalid QUEUE_AVG_CONSULTATION_MINUTES: must be positive, got %d", avgMinutes)
	}

	threshold, err := strconv.Atoi(getEnv("QUEUE_WAITING_ROOM_THRESHOLD", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_WAITING_ROOM_THRESHOLD: %w", err)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("invalid QUEUE_WAITING_ROOM_THRESHOLD: must not be negative, got %d", threshold)
	}

	tz := getEnv("CLINIC_TIMEZONE", "Asia/Kolkata")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid CLINIC_TIMEZONE: %w", err)
	}

	allowAfter, err := strconv.ParseBool(getEnv("MESSAGING_ALLOW_AFTER_COMPLETION", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGING_ALLOW_AFTER_COMPLETION: %w", err)
	}

	driver := getEnv("STORE_DRIVER", "mysql")
	if driver != "mysql" && driver != "memory" {
		return nil, fmt.Errorf("invalid STORE_DRIVER: %q", driver)
	}

	heartbeatSeconds, err := strconv.Atoi(getEnv("STREAM_HEARTBEAT_SECONDS", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_HEARTBEAT_SECONDS: %w", err)
	}

	return &Config{
		Port:        getEnv("PORT", "3001"),
		Origin:      getEnv("ORIGIN", "http://localhost:4200"),
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("OTEL_SERVICE_NAME", "consultation-queue-server"),
		JWTSecret:   getEnv("JWT_SECRET", "default_jwt_secret"),
		StoreDriver: driver,
		Database:    dbConfig,
		Redis:       RedisConfig{URL: getEnv("REDIS_URL", "")},
		Queue: QueueConfig{
			AvgConsultationMinutes: avgMinutes,
			WaitingRoomThreshold:   threshold,
			Timezone:               tz,
			Location:               loc,
		},
		Messaging: MessagingConfig{AllowAfterCompletion: allowAfter},
		Stream:    StreamConfig{Heartbeat: time.Duration(heartbeatSeconds) * time.Second},
	}, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
