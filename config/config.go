package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Comparison ComparisonConfig `mapstructure:"comparison"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend
type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // "sqlite", "postgres" or "memory"
	DSN            string `mapstructure:"dsn"`
	MaxConns       int    `mapstructure:"max_conns"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
	SweepBatchSize int    `mapstructure:"sweep_batch_size"`
}

// IngestionConfig holds reconciliation settings
type IngestionConfig struct {
	Workers            int  `mapstructure:"workers"`
	RefreshOnUnchanged bool `mapstructure:"refresh_on_unchanged"`
}

// ComparisonConfig holds comparison and search settings
type ComparisonConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	SearchLimit     int           `mapstructure:"search_limit"`
}

// RetentionConfig holds the sweep schedule
type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// FeedConfig holds the observation sources
type FeedConfig struct {
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Scraper ScraperConfig `mapstructure:"scraper"`
}

// KafkaConfig holds the Kafka consumer settings
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	GroupID      string        `mapstructure:"group_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ScraperConfig holds the scheduled scraper pull settings
type ScraperConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	Retailers         []string      `mapstructure:"retailers"`
	Interval          time.Duration `mapstructure:"interval"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pricelens/")

	// PRICELENS_DATABASE_DSN -> database.dsn
	v.SetEnvPrefix("PRICELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads .env from the working directory without overriding variables
// already set. A missing file is not an error.
func loadEnvFile() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:pricelens.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.sweep_batch_size", 500)

	// Ingestion defaults
	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.refresh_on_unchanged", true)

	// Comparison defaults
	v.SetDefault("comparison.freshness_window", "24h")
	v.SetDefault("comparison.cache_ttl", "1m")
	v.SetDefault("comparison.search_limit", 50)

	// Retention defaults: 30 days, swept weekly
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.interval", "168h")

	// Rate limit defaults
	v.SetDefault("ratelimit.per_minute", 60)
	v.SetDefault("ratelimit.burst", 10)

	// Feed defaults
	v.SetDefault("feed.kafka.enabled", false)
	v.SetDefault("feed.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("feed.kafka.topic", "pricelens_observations")
	v.SetDefault("feed.kafka.group_id", "pricelens-ingester")
	v.SetDefault("feed.kafka.batch_size", 200)
	v.SetDefault("feed.kafka.batch_timeout", "5s")
	v.SetDefault("feed.scraper.enabled", false)
	v.SetDefault("feed.scraper.base_url", "")
	v.SetDefault("feed.scraper.retailers", []string{})
	v.SetDefault("feed.scraper.interval", "24h")
	v.SetDefault("feed.scraper.requests_per_second", 1.0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.Database.Driver {
	case "sqlite", "memory":
	case "postgres":
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for postgres (set PRICELENS_DATABASE_DSN)")
		}
	default:
		return fmt.Errorf("database driver must be 'sqlite', 'postgres' or 'memory', got: %s", config.Database.Driver)
	}

	if config.Database.Driver == "sqlite" && config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for sqlite")
	}

	if config.Ingestion.Workers < 1 {
		return fmt.Errorf("ingestion workers must be at least 1, got: %d", config.Ingestion.Workers)
	}

	if config.Comparison.FreshnessWindow <= 0 {
		return fmt.Errorf("comparison freshness window must be positive, got: %v", config.Comparison.FreshnessWindow)
	}

	if config.Retention.Days <= 0 {
		return fmt.Errorf("retention days must be positive, got: %d", config.Retention.Days)
	}

	if config.Feed.Kafka.Enabled {
		if len(config.Feed.Kafka.Brokers) == 0 || config.Feed.Kafka.Topic == "" {
			return fmt.Errorf("kafka brokers and topic are required when the kafka feed is enabled")
		}
	}

	if config.Feed.Scraper.Enabled {
		if config.Feed.Scraper.BaseURL == "" {
			return fmt.Errorf("scraper base URL is required when the scraper feed is enabled (set PRICELENS_FEED_SCRAPER_BASE_URL)")
		}
		if len(config.Feed.Scraper.Retailers) == 0 {
			return fmt.Errorf("at least one retailer is required when the scraper feed is enabled")
		}
	}

	return nil
}
