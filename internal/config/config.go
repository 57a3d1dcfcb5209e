package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Gate          GateConfig          `yaml:"gate"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Routing       RoutingConfig       `yaml:"routing"`
	Auth          AuthConfig          `yaml:"auth"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig contains shell API server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains gate state database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GateConfig contains remote config endpoint settings and the fixed
// request identity fields sent with every config request.
type GateConfig struct {
	EndpointURL       string   `yaml:"endpoint_url"`
	BundleID          string   `yaml:"bundle_id"`
	StoreID           string   `yaml:"store_id"`
	FirebaseProjectID string   `yaml:"firebase_project_id"`
	OSTag             string   `yaml:"os_tag"`
	Locale            string   `yaml:"locale"`
	RequestTimeout    Duration `yaml:"request_timeout"`
}

// ConnectivityConfig contains reachability probe settings.
type ConnectivityConfig struct {
	ProbeAddr    string   `yaml:"probe_addr"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	Interval     Duration `yaml:"interval"`
}

// NotificationsConfig contains notification permission gate settings.
type NotificationsConfig struct {
	DenialCooldown Duration `yaml:"denial_cooldown"`
}

// RoutingConfig contains routing state machine settings.
type RoutingConfig struct {
	FallbackDelay Duration `yaml:"fallback_delay"`
}

// AuthConfig contains shell API authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LAUNCHGATE_CONFIG_PATH", "config/launchgate.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7600,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/launchgate.db",
		},
		Gate: GateConfig{
			EndpointURL:       "https://gate.cdtimerplus.app/v1/config",
			BundleID:          "com.keshew.countdown-timer-plus",
			StoreID:           "id6473920185",
			FirebaseProjectID: "countdown-timer-plus",
			OSTag:             "iOS",
			Locale:            defaultLocale(),
			RequestTimeout:    Duration(15 * time.Second),
		},
		Connectivity: ConnectivityConfig{
			ProbeAddr:    "1.1.1.1:443",
			ProbeTimeout: Duration(2 * time.Second),
			Interval:     Duration(5 * time.Second),
		},
		Notifications: NotificationsConfig{
			DenialCooldown: Duration(72 * time.Hour),
		},
		Routing: RoutingConfig{
			FallbackDelay: Duration(2 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaultLocale derives the device locale identifier from the environment,
// falling back to en_US when unset.
func defaultLocale() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// Strip encoding suffix, e.g. "en_US.UTF-8" -> "en_US"
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v
		}
	}
	return "en_US"
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LAUNCHGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LAUNCHGATE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LAUNCHGATE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LAUNCHGATE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("LAUNCHGATE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Gate
	if v := os.Getenv("LAUNCHGATE_ENDPOINT_URL"); v != "" {
		cfg.Gate.EndpointURL = v
	}
	if v := os.Getenv("LAUNCHGATE_BUNDLE_ID"); v != "" {
		cfg.Gate.BundleID = v
	}
	if v := os.Getenv("LAUNCHGATE_STORE_ID"); v != "" {
		cfg.Gate.StoreID = v
	}
	if v := os.Getenv("LAUNCHGATE_FIREBASE_PROJECT_ID"); v != "" {
		cfg.Gate.FirebaseProjectID = v
	}
	if v := os.Getenv("LAUNCHGATE_LOCALE"); v != "" {
		cfg.Gate.Locale = v
	}
	if v := os.Getenv("LAUNCHGATE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gate.RequestTimeout = Duration(d)
		}
	}

	// Connectivity
	if v := os.Getenv("LAUNCHGATE_PROBE_ADDR"); v != "" {
		cfg.Connectivity.ProbeAddr = v
	}
	if v := os.Getenv("LAUNCHGATE_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectivity.Interval = Duration(d)
		}
	}

	// Notifications
	if v := os.Getenv("LAUNCHGATE_DENIAL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Notifications.DenialCooldown = Duration(d)
		}
	}

	// Routing
	if v := os.Getenv("LAUNCHGATE_FALLBACK_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Routing.FallbackDelay = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("LAUNCHGATE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("LAUNCHGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LAUNCHGATE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Gate.EndpointURL == "" {
		return errors.New("gate endpoint URL is required")
	}
	if !strings.HasPrefix(c.Gate.EndpointURL, "https://") {
		return fmt.Errorf("gate endpoint must use https: %s", c.Gate.EndpointURL)
	}
	if c.Gate.BundleID == "" {
		return errors.New("gate bundle ID is required")
	}
	if time.Duration(c.Routing.FallbackDelay) <= 0 {
		return errors.New("routing fallback delay must be positive")
	}
	if time.Duration(c.Notifications.DenialCooldown) <= 0 {
		return errors.New("notification denial cooldown must be positive")
	}
	if c.Connectivity.ProbeAddr == "" {
		return errors.New("connectivity probe address is required")
	}
	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
