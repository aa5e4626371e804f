package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Retention RetentionConfig `mapstructure:"retention"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
}

// ServerConfig defines listener ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	BridgePort     int      `mapstructure:"bridge_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Extension origins allowed to open the bridge
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // bolt, redis, sqlite or memory
	Path  string      `mapstructure:"path"` // File path for bolt and sqlite
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines timer engine settings
type TrackingConfig struct {
	SyncInterval      string `mapstructure:"sync_interval"`
	WriteTimeout      string `mapstructure:"write_timeout"`
	SuspendTimeout    string `mapstructure:"suspend_timeout"`
	MaxWriteFailures  int    `mapstructure:"max_write_failures"`
	HostnameCacheSize int    `mapstructure:"hostname_cache_size"`
}

// RetentionConfig defines how long ledger entries are kept
type RetentionConfig struct {
	Days      int    `mapstructure:"days"`
	PruneTime string `mapstructure:"prune_time"`
}

// WatchlistConfig defines the initial watchlist and optional file source
type WatchlistConfig struct {
	File    string   `mapstructure:"file"`
	Initial []string `mapstructure:"initial"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only with default values.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.bridge_port", 7117)
	v.SetDefault("server.metrics_port", 9117)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "dwell")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.sync_interval", "1s")
	v.SetDefault("tracking.write_timeout", "2s")
	v.SetDefault("tracking.suspend_timeout", "500ms")
	v.SetDefault("tracking.max_write_failures", 3)
	v.SetDefault("tracking.hostname_cache_size", 1024)

	// Retention defaults
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.prune_time", "03:00")

	// Watchlist defaults
	v.SetDefault("watchlist.file", "")
	v.SetDefault("watchlist.initial", []string{})
}

func defaultStoragePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dwell", "dwell.bolt")
	}
	return "/var/lib/dwell/dwell.bolt"
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.BridgePort <= 0 || cfg.Server.BridgePort > 65535 {
		return fmt.Errorf("invalid bridge port: %d", cfg.Server.BridgePort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if (cfg.Storage.Type == "bolt" || cfg.Storage.Type == "sqlite") && cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
	}

	if _, err := time.ParseDuration(cfg.Tracking.SyncInterval); err != nil {
		return fmt.Errorf("invalid tracking.sync_interval %q: %w", cfg.Tracking.SyncInterval, err)
	}

	if cfg.Tracking.MaxWriteFailures <= 0 {
		return fmt.Errorf("tracking.max_write_failures must be positive, got %d", cfg.Tracking.MaxWriteFailures)
	}

	if cfg.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative, got %d", cfg.Retention.Days)
	}

	if _, err := time.Parse("15:04", cfg.Retention.PruneTime); err != nil {
		return fmt.Errorf("invalid retention.prune_time %q (expected HH:MM)", cfg.Retention.PruneTime)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
