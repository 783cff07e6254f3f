// Package config loads the YAML configuration of a configsync host process.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted in StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverMongoDB  = "mongodb"
	DriverRedis    = "redis"
	DriverEtcd     = "etcd"
	DriverBolt     = "bolt"
)

// Drivers lists every supported store driver.
var Drivers = []string{
	DriverMemory, DriverPostgres, DriverMySQL, DriverSQLite,
	DriverMongoDB, DriverRedis, DriverEtcd, DriverBolt,
}

// Config is the configuration of a configsync process.
type Config struct {
	// ProcessID is the profile this process publishes and the target it answers to.
	ProcessID string `yaml:"process_id"`

	// PullInterval is the time between two pulls.
	PullInterval time.Duration `yaml:"pull_interval"`

	// HeartbeatInterval is the time between two profile heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	Store     StoreConfig      `yaml:"store"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// StoreConfig selects and configures the shared store.
type StoreConfig struct {
	// Driver is one of Drivers.
	Driver string `yaml:"driver"`

	// DSN is the connection string for SQL drivers, MongoDB and Redis.
	DSN string `yaml:"dsn"`

	// Database is the MongoDB database.
	Database string `yaml:"database"`

	// Prefix is the Redis key prefix.
	Prefix string `yaml:"prefix"`

	// Endpoints are the etcd cluster members.
	Endpoints []string `yaml:"endpoints"`

	// Namespace is the etcd key namespace.
	Namespace string `yaml:"namespace"`

	// Path is the bbolt database file.
	Path string `yaml:"path"`

	// Migrate creates tables or collections on startup.
	Migrate bool `yaml:"migrate"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`

	// Path is a log file. Empty logs to stdout.
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// EndpointConfig declares a selectable endpoint served by this process.
type EndpointConfig struct {
	ID           string         `yaml:"id"`
	Alternatives []string       `yaml:"alternatives"`
	Methods      []string       `yaml:"methods"`
	Defaults     map[string]any `yaml:"defaults"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "configsync"
	}
	return Config{
		ProcessID:         hostname,
		PullInterval:      2 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		Store: StoreConfig{
			Driver:         DriverMemory,
			Database:       "config",
			Prefix:         "{configsync}:",
			Endpoints:      []string{"localhost:2379"},
			Namespace:      "configsync/",
			Path:           "configsync.db",
			ConnectTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs error

	if strings.TrimSpace(c.ProcessID) == "" {
		errs = multierr.Append(errs, errors.New("process_id is required"))
	}
	if c.PullInterval <= 0 {
		errs = multierr.Append(errs, errors.New("pull_interval must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = multierr.Append(errs, errors.New("heartbeat_interval must be positive"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMySQL, DriverSQLite, DriverMongoDB, DriverRedis:
		if c.Store.DSN == "" {
			errs = multierr.Append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	case DriverEtcd:
		if len(c.Store.Endpoints) == 0 {
			errs = multierr.Append(errs, errors.New("store.endpoints is required for driver etcd"))
		}
	case DriverBolt:
		if c.Store.Path == "" {
			errs = multierr.Append(errs, errors.New("store.path is required for driver bolt"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(Drivers, ", ")))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = multierr.Append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}

	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("endpoints[%d].id is required", i))
			continue
		}
		if _, dup := seen[ep.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("endpoints[%d].id %q is declared twice", i, ep.ID))
		}
		seen[ep.ID] = struct{}{}
		if len(ep.Alternatives) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("endpoints[%d].alternatives must not be empty", i))
		}
		if slices.Contains(ep.Alternatives, "") {
			errs = multierr.Append(errs, fmt.Errorf("endpoints[%d].alternatives must not contain empty names", i))
		}
	}

	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}
