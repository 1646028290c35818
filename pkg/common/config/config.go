package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	DedupTTL      time.Duration

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string
	ProducerID   string

	// Topics
	TopicStockUpdates string
	TopicHighPriority string
	TopicTransfers    string
	TopicAlerts       string

	// Consumer pipeline
	ConsumerMaxAttempts  int
	ConsumerRetryBackoff time.Duration
	ConsumerMaxBackoff   time.Duration
	ProcessingWorkers    int

	// External stock API
	StockAPIBaseURL       string
	StockAPITimeout       time.Duration
	StockAPIRetryAttempts int
	StockAPIRetryDelay    time.Duration
	StockAPIClientID      string
	StockAPIClientSecret  string
	StockAPITokenURL      string

	// Producer alerting
	LowStockThreshold  int
	AlertRetryAttempts int
	AlertRetryDelay    time.Duration
}

// fileOverlay is the optional YAML file (PIPELINE_CONFIG_FILE) layered over
// the environment defaults. Only routing and retry tuning live here; secrets
// stay in the environment.
type fileOverlay struct {
	Topics struct {
		StockUpdates string `yaml:"stock_updates"`
		HighPriority string `yaml:"high_priority"`
		Transfers    string `yaml:"transfers"`
		Alerts       string `yaml:"alerts"`
	} `yaml:"topics"`
	Consumer struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		RetryBackoff string `yaml:"retry_backoff"`
		MaxBackoff   string `yaml:"max_backoff"`
		Workers      int    `yaml:"workers"`
	} `yaml:"consumer"`
	StockAPI struct {
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"stock_api"`
	LowStockThreshold *int `yaml:"low_stock_threshold"`
}

func Load() *Config {
	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "stockflow"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "stockflow123"),
		PostgresDB:       getEnv("POSTGRES_DB", "stockflow"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		DedupTTL:      getDuration("DEDUP_TTL", 24*time.Hour),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "stockflow-consumer"),
		ProducerID:   getEnv("PRODUCER_ID", hostnameOr("stockflow-producer")),

		TopicStockUpdates: getEnv("TOPIC_STOCK_UPDATES", "stock-updates"),
		TopicHighPriority: getEnv("TOPIC_HIGH_PRIORITY", "stock-updates-high-priority"),
		TopicTransfers:    getEnv("TOPIC_TRANSFERS", "stock-transfers"),
		TopicAlerts:       getEnv("TOPIC_ALERTS", "stock-alerts"),

		ConsumerMaxAttempts:  getIntEnv("CONSUMER_MAX_ATTEMPTS", 3),
		ConsumerRetryBackoff: getDuration("CONSUMER_RETRY_BACKOFF", 2*time.Second),
		ConsumerMaxBackoff:   getDuration("CONSUMER_MAX_BACKOFF", 30*time.Second),
		ProcessingWorkers:    getIntEnv("PROCESSING_WORKERS", 8),

		StockAPIBaseURL:       getEnv("STOCK_API_BASE_URL", "http://localhost:8090"),
		StockAPITimeout:       getDuration("STOCK_API_TIMEOUT", 10*time.Second),
		StockAPIRetryAttempts: getIntEnv("STOCK_API_RETRY_ATTEMPTS", 3),
		StockAPIRetryDelay:    getDuration("STOCK_API_RETRY_DELAY", 500*time.Millisecond),
		StockAPIClientID:      getEnv("STOCK_API_CLIENT_ID", ""),
		StockAPIClientSecret:  getEnv("STOCK_API_CLIENT_SECRET", ""),
		StockAPITokenURL:      getEnv("STOCK_API_TOKEN_URL", ""),

		LowStockThreshold:  getIntEnv("LOW_STOCK_THRESHOLD", 10),
		AlertRetryAttempts: getIntEnv("ALERT_RETRY_ATTEMPTS", 2),
		AlertRetryDelay:    getDuration("ALERT_RETRY_DELAY", 1*time.Second),
	}

	if path := os.Getenv("PIPELINE_CONFIG_FILE"); path != "" {
		cfg.applyFile(path)
	}

	return cfg
}

func (c *Config) applyFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return
	}

	if overlay.Topics.StockUpdates != "" {
		c.TopicStockUpdates = overlay.Topics.StockUpdates
	}
	if overlay.Topics.HighPriority != "" {
		c.TopicHighPriority = overlay.Topics.HighPriority
	}
	if overlay.Topics.Transfers != "" {
		c.TopicTransfers = overlay.Topics.Transfers
	}
	if overlay.Topics.Alerts != "" {
		c.TopicAlerts = overlay.Topics.Alerts
	}
	if overlay.Consumer.MaxAttempts > 0 {
		c.ConsumerMaxAttempts = overlay.Consumer.MaxAttempts
	}
	if d, err := time.ParseDuration(overlay.Consumer.RetryBackoff); err == nil && d > 0 {
		c.ConsumerRetryBackoff = d
	}
	if d, err := time.ParseDuration(overlay.Consumer.MaxBackoff); err == nil && d > 0 {
		c.ConsumerMaxBackoff = d
	}
	if overlay.Consumer.Workers > 0 {
		c.ProcessingWorkers = overlay.Consumer.Workers
	}
	if overlay.StockAPI.RetryAttempts > 0 {
		c.StockAPIRetryAttempts = overlay.StockAPI.RetryAttempts
	}
	if d, err := time.ParseDuration(overlay.StockAPI.RetryDelay); err == nil && d > 0 {
		c.StockAPIRetryDelay = d
	}
	if d, err := time.ParseDuration(overlay.StockAPI.Timeout); err == nil && d > 0 {
		c.StockAPITimeout = d
	}
	if overlay.LowStockThreshold != nil && *overlay.LowStockThreshold >= 0 {
		c.LowStockThreshold = *overlay.LowStockThreshold
	}
}

func hostnameOr(fallback string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return fallback + "-" + host
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
