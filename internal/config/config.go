package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, loaded from environment
// variables with sane local-development defaults.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Simulation SimulationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Enabled toggles the baseline profile cache; the platform runs
	// fine without Redis, just slower on repeated baselines.
	Enabled bool
}

type KafkaConfig struct {
	Brokers        []string
	TopicRuns      string
	TopicLifecycle string
	ConsumerGroup  string
}

type SimulationConfig struct {
	// MaxConcurrentRuns bounds how many scenarios a worker executes at once.
	MaxConcurrentRuns int
	BaselineCacheTTL  time.Duration
}

type LoggingConfig struct {
	Level string
}

// LoadConfig reads configuration from the environment, loading a .env
// file first if one is present.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "airquality"),
			Password:        getEnv("DB_PASSWORD", "airquality"),
			Database:        getEnv("DB_NAME", "airquality_db"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicRuns:      getEnv("KAFKA_TOPIC_RUNS", "scenario.runs"),
			TopicLifecycle: getEnv("KAFKA_TOPIC_LIFECYCLE", "scenario.lifecycle"),
			ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "simulation-worker"),
		},
		Simulation: SimulationConfig{
			MaxConcurrentRuns: getEnvAsInt("SIM_MAX_CONCURRENT_RUNS", 4),
			BaselineCacheTTL:  getEnvAsDuration("SIM_BASELINE_CACHE_TTL", 6*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// Validate checks for configuration values that would only fail later.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host must not be empty")
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open connections must be positive, got %d", c.Database.MaxOpenConns)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker must be configured")
	}

	if c.Simulation.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max concurrent runs must be positive, got %d", c.Simulation.MaxConcurrentRuns)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
