// Package config provides configuration management for the build collector.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"build-collector/src/schedule"
)

// Config holds the application configuration.
type Config struct {
	Collector CollectorConfig `toml:"collector"`
	Bamboo    BambooConfig    `toml:"bamboo"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Broker    BrokerConfig    `toml:"broker"`
	HTTP      HTTPConfig      `toml:"http"`
	Logging   LoggingConfig   `toml:"logging"`
}

// CollectorConfig controls the polling cycle.
type CollectorConfig struct {
	Name                string        `toml:"name"`
	Cron                string        `toml:"cron"`
	CycleTimeout        time.Duration `toml:"cycle_timeout"`
	InstanceConcurrency int           `toml:"instance_concurrency"`
	CleanupInterval     time.Duration `toml:"cleanup_interval"`
}

// BambooConfig lists the CI instances to poll and how to authenticate.
type BambooConfig struct {
	Servers    []string      `toml:"servers"`
	Username   string        `toml:"username"`
	APIKey     string        `toml:"api_key"`
	Timeout    time.Duration `toml:"timeout"`
	MaxResults int           `toml:"max_results"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver          string        `toml:"driver"`
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// RedisConfig enables the distributed cycle lock when Addr is set.
type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	LockTTL  time.Duration `toml:"lock_ttl"`
}

// BrokerConfig enables event publishing to Redpanda when Brokers is non-empty.
type BrokerConfig struct {
	Brokers []string `toml:"brokers"`
}

// HTTPConfig holds status API settings.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultConfig returns a Config with defaults suitable for a local run.
func DefaultConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			Name:                "Bamboo",
			Cron:                "*/5 * * * *",
			CycleTimeout:        30 * time.Minute,
			InstanceConcurrency: 1,
			CleanupInterval:     time.Hour,
		},
		Bamboo: BambooConfig{
			Timeout:    30 * time.Second,
			MaxResults: 25,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "collector.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			LockTTL: 45 * time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromFile loads configuration from a TOML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Load builds the configuration with the following precedence:
// 1. Default values
// 2. Config file (if path is non-empty)
// 3. Environment variables
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := getEnvList("BAMBOO_SERVERS"); len(v) > 0 {
		cfg.Bamboo.Servers = v
	}
	setString(&cfg.Bamboo.Username, "BAMBOO_USERNAME")
	setString(&cfg.Bamboo.APIKey, "BAMBOO_API_KEY")
	setString(&cfg.Collector.Cron, "BAMBOO_CRON")
	setString(&cfg.Collector.Name, "COLLECTOR_NAME")
	setString(&cfg.Database.Driver, "COLLECTOR_DB_DRIVER")
	setString(&cfg.Database.DSN, "COLLECTOR_DB_DSN")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.File, "LOG_FILE")
	if v := getEnvList("REDPANDA_BROKERS"); len(v) > 0 {
		cfg.Broker.Brokers = v
	}
	if v := os.Getenv("COLLECTOR_INSTANCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collector.InstanceConcurrency = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Collector.Name == "" {
		return fmt.Errorf("collector name must be specified")
	}
	if len(c.Bamboo.Servers) == 0 {
		return fmt.Errorf("at least one bamboo server must be configured (BAMBOO_SERVERS)")
	}
	if _, err := schedule.ParseSpec(c.Collector.Cron); err != nil {
		return fmt.Errorf("invalid collector cron %q: %w", c.Collector.Cron, err)
	}
	if c.Collector.CycleTimeout <= 0 {
		return fmt.Errorf("collector cycle_timeout must be positive")
	}
	if c.Collector.CleanupInterval <= 0 {
		return fmt.Errorf("collector cleanup_interval must be positive")
	}
	if c.Collector.InstanceConcurrency <= 0 {
		return fmt.Errorf("collector instance_concurrency must be positive")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3, postgres, or memory)", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("redis lock_ttl must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, or error)", c.Logging.Level)
	}

	return nil
}

// HasCredentials reports whether Basic authentication should be used.
func (b BambooConfig) HasCredentials() bool {
	return b.Username != "" && b.APIKey != ""
}
