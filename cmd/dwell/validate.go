package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/dwell/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the dwell configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil && !os.IsNotExist(err) {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "WARNING: found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, config.Defaults())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.bind_address":    true,
		"server.bridge_port":     true,
		"server.metrics_port":    true,
		"server.allowed_origins": true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,
		"storage.redis.key_prefix":     true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Tracking
		"tracking.sync_interval":       true,
		"tracking.write_timeout":       true,
		"tracking.suspend_timeout":     true,
		"tracking.max_write_failures":  true,
		"tracking.hostname_cache_size": true,

		// Retention
		"retention.days":       true,
		"retention.prune_time": true,

		// Watchlist
		"watchlist.file":    true,
		"watchlist.initial": true,
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Fprintln(w, "\n[server]")
	field("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress)
	field("  bridge_port", cfg.Server.BridgePort, defaultCfg.Server.BridgePort)
	field("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort)
	field("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins)

	_, _ = cyan.Fprintln(w, "\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  path", cfg.Storage.Path, defaultCfg.Storage.Path)
	_, _ = cyan.Fprintln(w, "  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB)
	field("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout)
	field("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix)

	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)

	_, _ = cyan.Fprintln(w, "\n[tracking]")
	field("  sync_interval", cfg.Tracking.SyncInterval, defaultCfg.Tracking.SyncInterval)
	field("  write_timeout", cfg.Tracking.WriteTimeout, defaultCfg.Tracking.WriteTimeout)
	field("  suspend_timeout", cfg.Tracking.SuspendTimeout, defaultCfg.Tracking.SuspendTimeout)
	field("  max_write_failures", cfg.Tracking.MaxWriteFailures, defaultCfg.Tracking.MaxWriteFailures)
	field("  hostname_cache_size", cfg.Tracking.HostnameCacheSize, defaultCfg.Tracking.HostnameCacheSize)

	_, _ = cyan.Fprintln(w, "\n[retention]")
	field("  days", cfg.Retention.Days, defaultCfg.Retention.Days)
	field("  prune_time", cfg.Retention.PruneTime, defaultCfg.Retention.PruneTime)

	_, _ = cyan.Fprintln(w, "\n[watchlist]")
	field("  file", cfg.Watchlist.File, defaultCfg.Watchlist.File)
	field("  initial", cfg.Watchlist.Initial, defaultCfg.Watchlist.Initial)
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
