package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete libfs server configuration.
//
// This structure captures all configurable aspects of a file-system server:
//   - Logging configuration
//   - PLB and lookup limits
//   - Named back-ends (type-specific)
//   - Device definitions
//   - The callback server and metrics exposition
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (LIBFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Back-end Configuration Pattern:
// Each back-end implementation defines its own configuration type. A
// BackendConfig carries one section per type (memory, badger) and only the
// section matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// PLB sizes the path lookup buffer of each connection
	PLB PLBConfig `mapstructure:"plb" yaml:"plb"`

	// Lookup bounds path resolution
	Lookup LookupConfig `mapstructure:"lookup" yaml:"lookup"`

	// Backends maps back-end names to their configuration
	Backends map[string]BackendConfig `mapstructure:"backends" yaml:"backends" validate:"dive"`

	// Devices lists the mounted devices
	Devices []DeviceConfig `mapstructure:"devices" yaml:"devices" validate:"dive"`

	// Server configures the callback listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics configures Prometheus exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// PLBConfig sizes the path lookup buffer.
type PLBConfig struct {
	// Size is the buffer capacity in bytes; it bounds the longest path
	Size int `mapstructure:"size" yaml:"size" validate:"required,gt=0"`
}

// LookupConfig bounds path resolution.
type LookupConfig struct {
	// NameMax is NAME_MAX: a path component holds at most NameMax-1 bytes
	NameMax int `mapstructure:"name_max" yaml:"name_max" validate:"required,gt=1"`
}

// BackendConfig specifies one back-end.
//
// The Type field determines which implementation is used. Only the
// corresponding type-specific section is used.
type BackendConfig struct {
	// Type specifies which back-end implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// DeviceConfig defines a single mounted device.
type DeviceConfig struct {
	// Handle is the device handle dispatchers use
	Handle uint32 `mapstructure:"handle" yaml:"handle" validate:"required"`

	// Backend names the entry in Backends serving this device
	Backend string `mapstructure:"backend" yaml:"backend" validate:"required"`

	// FSHandle overrides server.fs_handle for this device
	FSHandle uint32 `mapstructure:"fs_handle" yaml:"fs_handle,omitempty"`

	// ReadOnly rejects create, link and unlink lookups if true
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// AllowedClients lists IP addresses or CIDR ranges allowed to issue
	// lookups. Empty list means all clients are allowed
	AllowedClients []string `mapstructure:"allowed_clients" yaml:"allowed_clients" validate:"dive,cidr|ip"`

	// Seed is an optional YAML tree applied at startup
	Seed string `mapstructure:"seed" yaml:"seed,omitempty"`
}

// ServerConfig configures the callback server.
type ServerConfig struct {
	// Listen is the TCP address dispatchers connect to
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`

	// FSHandle identifies this server in replies
	FSHandle uint32 `mapstructure:"fs_handle" yaml:"fs_handle" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaxRecordSize bounds an incoming wire record in bytes
	MaxRecordSize int `mapstructure:"max_record_size" yaml:"max_record_size" validate:"required,gt=0"`

	// RateLimit throttles calls; zero rates disable it
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures the global and per-client token buckets.
type RateLimitConfig struct {
	RequestsPerSecond          uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                      uint `mapstructure:"burst" yaml:"burst"`
	PerClientRequestsPerSecond uint `mapstructure:"per_client_requests_per_second" yaml:"per_client_requests_per_second"`
	PerClientBurst             uint `mapstructure:"per_client_burst" yaml:"per_client_burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics and /healthz
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LIBFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use LIBFS_ prefix and underscores
	// Example: LIBFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("LIBFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"plb.size", "lookup.name_max",
		"server.listen", "server.fs_handle", "server.shutdown_timeout", "server.max_record_size",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/libfs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is not a ConfigFileNotFoundError.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "libfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "libfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
