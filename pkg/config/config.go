package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingProviderToken is returned by Validate when no provider credentials are configured.
var ErrMissingProviderToken = errors.New("AQI_PROVIDER_TOKEN is not set: configure provider credentials before running a sweep")

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Provider ProviderConfig
	Alerting AlertingConfig
	Poller   PollerConfig
	Sweep    SweepConfig
	HTTP     HTTPConfig
	SMTP     SMTPConfig
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicAlerts string
}

// ProviderConfig describes the external AQI feed.
type ProviderConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Reports is "index" when the feed carries a computed AQI, or
	// "concentration" when its per-pollutant values are raw concentrations.
	Reports string
}

type AlertingConfig struct {
	Cooldown         time.Duration
	DefaultThreshold int
	CompositePolicy  string // standard, legacy
	CooldownBackend  string // memory, redis
}

type PollerConfig struct {
	Interval time.Duration // minimum spacing between provider fetches
	Workers  int
}

type SweepConfig struct {
	Schedule time.Duration // 0 disables timed sweeps
}

type HTTPConfig struct {
	Port int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

const (
	DefaultCooldown  = 6 * time.Hour
	DefaultThreshold = 150
)

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "aqi_user"),
			Password: getEnv("DB_PASSWORD", "aqi_pass"),
			DBName:   getEnv("DB_NAME", "aqi_alerts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvAsBool("KAFKA_ENABLED", true),
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAlerts: getEnv("KAFKA_TOPIC_ALERTS", "aqi.alerts"),
		},
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(getEnv("AQI_PROVIDER_URL", "https://api.waqi.info"), "/"),
			Token:   getEnv("AQI_PROVIDER_TOKEN", ""),
			Timeout: getEnvAsDuration("AQI_PROVIDER_TIMEOUT", 10*time.Second),
			Reports: getEnv("AQI_PROVIDER_REPORTS", "index"),
		},
		Alerting: AlertingConfig{
			Cooldown:         getEnvAsDuration("ALERT_COOLDOWN", DefaultCooldown),
			DefaultThreshold: getEnvAsInt("ALERT_DEFAULT_THRESHOLD", DefaultThreshold),
			CompositePolicy:  getEnv("AQI_COMPOSITE_POLICY", "standard"),
			CooldownBackend:  getEnv("COOLDOWN_BACKEND", "memory"),
		},
		Poller: PollerConfig{
			Interval: getEnvAsDuration("POLL_INTERVAL", time.Second),
			Workers:  getEnvAsInt("POLL_WORKERS", 1),
		},
		Sweep: SweepConfig{
			Schedule: getEnvAsDuration("SWEEP_SCHEDULE", time.Hour),
		},
		HTTP: HTTPConfig{
			Port: getEnvAsInt("HTTP_PORT", 8080),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "aqi-alerts@example.com"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports configuration that makes a sweep impossible.
func (c *Config) Validate() error {
	if c.Provider.Token == "" {
		return ErrMissingProviderToken
	}
	return nil
}

func (c *Config) normalize() error {
	switch c.Alerting.CompositePolicy {
	case "standard", "legacy":
	default:
		return fmt.Errorf("invalid AQI_COMPOSITE_POLICY %q (want standard or legacy)", c.Alerting.CompositePolicy)
	}
	switch c.Alerting.CooldownBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid COOLDOWN_BACKEND %q (want memory or redis)", c.Alerting.CooldownBackend)
	}
	switch c.Provider.Reports {
	case "index", "concentration":
	default:
		return fmt.Errorf("invalid AQI_PROVIDER_REPORTS %q (want index or concentration)", c.Provider.Reports)
	}
	if c.Alerting.Cooldown <= 0 {
		c.Alerting.Cooldown = DefaultCooldown
	}
	if c.Alerting.DefaultThreshold < 0 || c.Alerting.DefaultThreshold > 500 {
		c.Alerting.DefaultThreshold = DefaultThreshold
	}
	if c.Poller.Workers < 1 {
		c.Poller.Workers = 1
	}
	if c.Poller.Interval < 0 {
		c.Poller.Interval = 0
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
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
