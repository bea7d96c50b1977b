package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// DNS-over-HTTPS provider used for NS lookups
	DoH DoHConfig `yaml:"doh"`

	// Bootstrap DNS servers used to resolve the DoH endpoint itself
	BootstrapDNSServers []string `yaml:"bootstrap_dns_servers"`

	// Answer cache settings
	Cache CacheConfig `yaml:"cache"`

	// Request gate settings
	Gate GateConfig `yaml:"gate"`

	// Policy override rules
	Policy PolicyConfig `yaml:"policy"`

	// Decision log storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Host adapter API
	API APIConfig `yaml:"api"`
}

// DoHConfig holds DNS-over-HTTPS client settings
type DoHConfig struct {
	// Endpoint is the JSON resolve URL, e.g. https://dns.google/resolve
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig holds answer cache settings
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// GateConfig holds request gate settings
type GateConfig struct {
	// ActiveRootDomains seeds the scope filter; the host adapter API
	// updates the live set at runtime.
	ActiveRootDomains []string `yaml:"active_root_domains"`

	// Exempt hostnames bypass evaluation entirely. Supports exact names
	// and *.wildcard patterns.
	Exempt []string `yaml:"exempt"`
}

// PolicyConfig holds verdict override rules
type PolicyConfig struct {
	Enabled bool         `yaml:"enabled"`
	Rules   []PolicyRule `yaml:"rules"`
}

// PolicyRule is a single expr-based override rule
type PolicyRule struct {
	Name   string `yaml:"name"`
	When   string `yaml:"when"`   // expr expression over host/root/subdomain
	Action string `yaml:"action"` // allow or block
}

// StorageConfig holds decision log settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DatabasePath  string `yaml:"database_path"`
	BufferSize    int    `yaml:"buffer_size"`
	RetentionDays int    `yaml:"retention_days"`
	BusyTimeout   int    `yaml:"busy_timeout"` // ms
	WALMode       bool   `yaml:"wal_mode"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// APIConfig holds host adapter API settings
type APIConfig struct {
	ListenAddress string          `yaml:"listen_address"`
	AuthEnabled   bool            `yaml:"auth_enabled"`
	Username      string          `yaml:"username"`
	PasswordHash  string          `yaml:"password_hash"` // bcrypt
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxTrackedClients int           `yaml:"max_tracked_clients"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// DoH defaults
	if c.DoH.Endpoint == "" {
		c.DoH.Endpoint = "https://dns.google/resolve"
	}
	if c.DoH.Timeout == 0 {
		c.DoH.Timeout = 10 * time.Second
	}

	// Bootstrap defaults
	if len(c.BootstrapDNSServers) == 0 {
		c.BootstrapDNSServers = []string{
			"1.1.1.1:53",
			"8.8.8.8:53",
		}
	}

	// Cache defaults
	if c.Cache.TTL == 0 {
		c.Cache.Enabled = true
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}

	// Storage defaults
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./zonegate.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "zonegate"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	// Rate limit defaults
	if c.API.RateLimit.RequestsPerSecond == 0 {
		c.API.RateLimit.RequestsPerSecond = 50
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 100
	}
	if c.API.RateLimit.CleanupInterval == 0 {
		c.API.RateLimit.CleanupInterval = 5 * time.Minute
	}
	if c.API.RateLimit.MaxTrackedClients == 0 {
		c.API.RateLimit.MaxTrackedClients = 1024
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	u, err := url.Parse(c.DoH.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid doh endpoint %q", c.DoH.Endpoint)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("doh endpoint must be http(s), got %q", u.Scheme)
	}

	if c.DoH.Timeout < 0 {
		return fmt.Errorf("doh timeout must be positive, got %v", c.DoH.Timeout)
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must be positive, got %d", c.Cache.MaxEntries)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output is file but file_path is empty")
	}

	for i, rule := range c.Policy.Rules {
		if rule.Name == "" {
			return fmt.Errorf("policy rule %d has no name", i)
		}
		if rule.When == "" {
			return fmt.Errorf("policy rule %q has no condition", rule.Name)
		}
		switch strings.ToLower(rule.Action) {
		case "allow", "block":
		default:
			return fmt.Errorf("policy rule %q has invalid action %q", rule.Name, rule.Action)
		}
	}

	if c.API.AuthEnabled && c.API.Username == "" {
		return fmt.Errorf("api auth enabled but username is empty")
	}

	return nil
}
