package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	StateDir string         `mapstructure:"state_dir" yaml:"state_dir,omitempty"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" validate:"required"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" yaml:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`
	Database string `mapstructure:"database" yaml:"database" validate:"required"`
	Schema   string `mapstructure:"schema" yaml:"schema,omitempty"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	RequestTimeoutMs int `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms,omitempty"`
	ProbeTimeoutMs   int `mapstructure:"probe_timeout_ms" yaml:"probe_timeout_ms,omitempty"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms" yaml:"backoff_base_ms,omitempty"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms" yaml:"backoff_max_ms,omitempty"`
	DebounceMs       int `mapstructure:"debounce_ms" yaml:"debounce_ms,omitempty"`
	DrainIntervalSec int `mapstructure:"drain_interval_sec" yaml:"drain_interval_sec,omitempty"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:    5432,
			Schema:  "prompit",
			SSLMode: "require",
		},
		Sync: SyncConfig{
			RequestTimeoutMs: 8000,
			ProbeTimeoutMs:   4000,
			BackoffBaseMs:    1000,
			BackoffMaxMs:     300000,
			DebounceMs:       2000,
			DrainIntervalSec: 30,
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.schema", defaults.Database.Schema)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("sync.request_timeout_ms", defaults.Sync.RequestTimeoutMs)
	v.SetDefault("sync.probe_timeout_ms", defaults.Sync.ProbeTimeoutMs)
	v.SetDefault("sync.backoff_base_ms", defaults.Sync.BackoffBaseMs)
	v.SetDefault("sync.backoff_max_ms", defaults.Sync.BackoffMaxMs)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.drain_interval_sec", defaults.Sync.DrainIntervalSec)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("PROMPIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in password
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)

	// Default the state dir to the config dir
	if cfg.StateDir == "" {
		dir, err := GetStateDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	} else {
		cfg.StateDir = expandPath(cfg.StateDir)
	}

	cfg.Database.Schema = SanitizeIdentifier(cfg.Database.Schema)

	// Validate
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "prompit")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "prompit")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "prompit")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "prompit")
	}
}

// GetStateDir returns the directory for storing state files
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// ConfigFilePath returns the default config file location.
func ConfigFilePath() (string, error) {
	dir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SanitizeIdentifier converts a name into a valid PostgreSQL identifier
// (schema name).
// Rules:
// - Lowercase only
// - Starts with letter or underscore
// - Contains only letters, digits, underscores
// - Spaces and hyphens become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	// Convert to lowercase
	name = strings.ToLower(name)

	// Replace spaces and hyphens with underscores
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	// Remove any character that isn't alphanumeric or underscore
	reg := regexp.MustCompile(`[^a-z0-9_]`)
	name = reg.ReplaceAllString(name, "")

	// Collapse multiple underscores
	reg = regexp.MustCompile(`_+`)
	name = reg.ReplaceAllString(name, "_")

	// Trim leading/trailing underscores
	name = strings.Trim(name, "_")

	// Ensure it starts with a letter (prepend 'prompit_' if it starts with digit or is empty)
	if len(name) == 0 {
		name = "prompit"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "prompit_" + name
	}

	// PostgreSQL max identifier length is 63 characters
	if len(name) > 63 {
		name = name[:63]
		// Make sure we don't end with underscore after truncation
		name = strings.TrimRight(name, "_")
	}

	return name
}
