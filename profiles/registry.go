// Package profiles announces which process classes exist in the cluster.
package profiles

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/metrics"
	"github.com/getpup/configsync/store"
	"github.com/getpup/pupsourcing/es"
)

// Config holds configuration for the profile Registry.
type Config struct {
	// Store persists profiles (required).
	Store store.ProfileStore

	// ProcessID is the profile this process publishes (required).
	ProcessID string

	// HeartbeatInterval is the interval between heartbeats (default: 5s).
	HeartbeatInterval time.Duration

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics records heartbeat metrics (optional).
	Metrics *metrics.Collector
}

// Registry publishes the profile of one process and lists the profiles of all.
type Registry struct {
	config Config
}

// New creates a new profile Registry with the given configuration.
// Applies default values for HeartbeatInterval and Clock if not set.
func New(cfg Config) *Registry {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Registry{config: cfg}
}

// ProcessID returns the profile this registry publishes.
func (r *Registry) ProcessID() string {
	return r.config.ProcessID
}

// Register upserts the profile of this process with the current time.
// Calling it again only refreshes the heartbeat.
func (r *Registry) Register(ctx context.Context) error {
	start := time.Now()
	rec := configsync.ProfileRecord{
		ProcessID:     r.config.ProcessID,
		LastHeartbeat: r.config.Clock(),
	}
	if err := r.config.Store.SaveProfile(ctx, rec); err != nil {
		return fmt.Errorf("failed to save profile %q: %w", r.config.ProcessID, err)
	}
	r.config.Metrics.ObserveHeartbeatLatency(time.Since(start))
	return nil
}

// Profiles returns every stored profile sorted by process ID.
func (r *Registry) Profiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	recs, err := r.config.Store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	r.config.Metrics.SetKnownProfiles(len(recs))
	return recs, nil
}

// List returns the distinct sorted process IDs of every registered profile.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	recs, err := r.Profiles(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ProcessID)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// StartHeartbeat refreshes the profile at the configured interval until the
// context is cancelled. A failed heartbeat is logged and retried on the next tick.
func (r *Registry) StartHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Register(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if r.config.Logger != nil {
					r.config.Logger.Error(ctx, "heartbeat failed", "processID", r.config.ProcessID, "error", err)
				}
				continue
			}

			if r.config.Logger != nil {
				r.config.Logger.Debug(ctx, "heartbeat sent", "processID", r.config.ProcessID)
			}
		}
	}
}

// Prune removes profiles whose heartbeat is older than ttl and returns how many
// were removed. Nothing is pruned unless this is called.
func (r *Registry) Prune(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, ErrInvalidTTL
	}

	cutoff := r.config.Clock().Add(-ttl)
	n, err := r.config.Store.DeleteProfilesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune profiles: %w", err)
	}

	if n > 0 && r.config.Logger != nil {
		r.config.Logger.Info(ctx, "pruned stale profiles", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
