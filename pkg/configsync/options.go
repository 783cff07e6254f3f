package configsync

import (
	"maps"
	"time"

	rootpkg "github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/getpup/pupsourcing/es"
)

// Option configures a Service.
type Option func(*config)

// config holds the internal configuration for creating a Service.
type config struct {
	store             store.Store
	processID         string
	pullInterval      time.Duration
	heartbeatInterval time.Duration
	startupRetries    int
	logger            es.Logger
	metricsEnabled    *bool
	endpoints         map[string]rootpkg.Endpoint
	paramTypes        []string
	clock             func() time.Time
}

// WithStore sets the shared store every process synchronizes through.
func WithStore(s store.Store) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithProcessID sets the profile this process publishes and the action target
// it answers to.
func WithProcessID(id string) Option {
	return func(c *config) {
		c.processID = id
	}
}

// WithPullInterval sets the time between two pulls.
func WithPullInterval(interval time.Duration) Option {
	return func(c *config) {
		c.pullInterval = interval
	}
}

// WithHeartbeatInterval sets the time between two profile heartbeats.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		c.heartbeatInterval = interval
	}
}

// WithStartupRetries sets how many times Start attempts to reach the store.
func WithStartupRetries(n int) Option {
	return func(c *config) {
		c.startupRetries = n
	}
}

// WithLogger sets the logger for observability.
func WithLogger(logger es.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics collection.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *config) {
		c.metricsEnabled = &enabled
	}
}

// WithEndpoints declares the selectable endpoints of this process, by ID.
func WithEndpoints(endpoints map[string]rootpkg.Endpoint) Option {
	return func(c *config) {
		maps.Copy(c.endpoints, endpoints)
	}
}

// WithEndpoint declares one selectable endpoint.
func WithEndpoint(id string, ep rootpkg.Endpoint) Option {
	return func(c *config) {
		c.endpoints[id] = ep
	}
}

// WithParamTypes sets the parameter types reported for the "param" selection method.
func WithParamTypes(types ...string) Option {
	return func(c *config) {
		c.paramTypes = types
	}
}

// WithClock sets the source of logical time. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.clock = clock
	}
}
