package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the prediction market server.
type Config struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// DataDir holds the snapshot store and the fill journal.
	DataDir            string        `mapstructure:"data_dir"`
	SnapshotInterval   time.Duration `mapstructure:"snapshot_interval"`
	ResolutionInterval time.Duration `mapstructure:"resolution_interval"`

	// WebhookSecret is the bearer token chainhook deliveries must carry.
	WebhookSecret string   `mapstructure:"webhook_secret"`
	CORSOrigins   []string `mapstructure:"cors_origins"`

	// KafkaBrokers enables the Kafka event sink when non-empty.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	BusBuffer    int      `mapstructure:"bus_buffer"`
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory, applies defaults, and validates
// values. It returns an error for any invalid value.
func Load() (*Config, error) {
	// A missing .env file is fine; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// HTTP server
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_timeout", "5s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("webhook_secret", "")

	// Persistence and background jobs
	v.SetDefault("data_dir", "./data")
	v.SetDefault("snapshot_interval", "30s")
	v.SetDefault("resolution_interval", "5s")

	// Event fan-out
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "predictbook.events")
	v.SetDefault("bus_buffer", 1024)
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	for name, d := range map[string]time.Duration{
		"READ_TIMEOUT":        c.ReadTimeout,
		"WRITE_TIMEOUT":       c.WriteTimeout,
		"IDLE_TIMEOUT":        c.IdleTimeout,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
		"SNAPSHOT_INTERVAL":   c.SnapshotInterval,
		"RESOLUTION_INTERVAL": c.ResolutionInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", name, d)
		}
	}

	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	if c.BusBuffer < 1 {
		return fmt.Errorf("invalid BUS_BUFFER: %d, must be at least 1", c.BusBuffer)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
