// Package configsync wires the action dispatcher, the alternative synchronizer,
// the profile registry and the counter service of one process around a shared
// store.
package configsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	rootpkg "github.com/getpup/configsync"
	"github.com/getpup/configsync/actions"
	"github.com/getpup/configsync/alternatives"
	"github.com/getpup/configsync/counters"
	"github.com/getpup/configsync/metrics"
	"github.com/getpup/configsync/profiles"
	"github.com/getpup/configsync/scheduler"
	"github.com/getpup/configsync/selection"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Re-export core types from root package
type (
	// Config is an alternative configuration.
	Config = rootpkg.Config

	// Endpoint is a locally declared selectable endpoint.
	Endpoint = rootpkg.Endpoint

	// ProfileRecord is a registered process profile.
	ProfileRecord = rootpkg.ProfileRecord

	// Summary describes one known endpoint in ListAlternatives.
	Summary = alternatives.Summary
)

// Scheduler job keys.
const (
	pullOnceJob  = "configsync-pull-once"
	pullEveryJob = "configsync-pull"
)

// Service is the synchronization state of one process: its handler registry,
// watermarks and skip set. Create one per process with New.
type Service struct {
	config *config

	registry     *actions.Registry
	dispatcher   *actions.Dispatcher
	alternatives *alternatives.Synchronizer
	profiles     *profiles.Registry
	counters     *counters.Service
	scheduler    *scheduler.Scheduler
	collector    *metrics.Collector

	pullMu sync.Mutex

	mu            sync.Mutex
	started       atomic.Bool
	cancel        context.CancelFunc
	heartbeatDone chan struct{}
}

var _ rootpkg.Syncer = (*Service)(nil)

// New creates a new Service with the given options.
//
// Required options:
//   - WithStore: the shared store
//
// Optional configuration (with defaults):
//   - WithProcessID: profile and action target of this process (default: random UUID)
//   - WithPullInterval: time between two pulls (default: 2s)
//   - WithHeartbeatInterval: time between two profile heartbeats (default: 5s)
//   - WithStartupRetries: attempts to reach the store in Start (default: 5)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//   - WithEndpoints / WithEndpoint: selectable endpoints of this process
//   - WithParamTypes: parameter types of the "param" method (default: selection.ParamTypes)
//
// Example:
//
//	svc, err := configsync.New(
//	    configsync.WithStore(s),
//	    configsync.WithProcessID("web"),
//	    configsync.WithEndpoint("search", selection.NewEndpoint([]string{"classic", "ranked"}, nil)),
//	)
func New(opts ...Option) (*Service, error) {
	cfg := &config{
		pullInterval:      2 * time.Second,
		heartbeatInterval: 5 * time.Second,
		startupRetries:    5,
		endpoints:         make(map[string]rootpkg.Endpoint),
		paramTypes:        selection.ParamTypes(),
		clock:             time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.store == nil {
		return nil, fmt.Errorf("store is required: use WithStore option")
	}
	if cfg.pullInterval <= 0 {
		return nil, fmt.Errorf("pull interval must be positive")
	}
	if cfg.processID == "" {
		cfg.processID = uuid.NewString()
	}
	if cfg.startupRetries < 1 {
		cfg.startupRetries = 1
	}

	var collector *metrics.Collector
	if cfg.metricsEnabled == nil || *cfg.metricsEnabled {
		collector = metrics.NewCollector(cfg.processID)
	}

	sched, err := scheduler.New(scheduler.Config{Logger: cfg.logger})
	if err != nil {
		return nil, err
	}

	registry := actions.NewRegistry()
	return &Service{
		config:   cfg,
		registry: registry,
		dispatcher: actions.New(actions.Config{
			Store:     cfg.store,
			Registry:  registry,
			ProcessID: cfg.processID,
			Clock:     cfg.clock,
			Logger:    cfg.logger,
			Metrics:   collector,
		}),
		alternatives: alternatives.New(alternatives.Config{
			Store:      cfg.store,
			Endpoints:  cfg.endpoints,
			ParamTypes: cfg.paramTypes,
			Clock:      cfg.clock,
			Logger:     cfg.logger,
			Metrics:    collector,
		}),
		profiles: profiles.New(profiles.Config{
			Store:             cfg.store,
			ProcessID:         cfg.processID,
			HeartbeatInterval: cfg.heartbeatInterval,
			Clock:             cfg.clock,
			Logger:            cfg.logger,
			Metrics:           collector,
		}),
		counters: counters.New(counters.Config{
			Store:   cfg.store,
			Logger:  cfg.logger,
			Metrics: collector,
		}),
		scheduler: sched,
		collector: collector,
	}, nil
}

// ProcessID returns the profile this process publishes.
func (s *Service) ProcessID() string {
	return s.config.processID
}

// RegisterAction binds a handler to actionID on this process.
func (s *Service) RegisterAction(actionID string, h actions.Handler, opts ...actions.RegisterOption) error {
	return s.registry.Register(actionID, h, opts...)
}

// RunAction publishes actionID to target, or to every process when target is
// empty. Nothing runs locally until the next pull.
func (s *Service) RunAction(ctx context.Context, actionID, target string) error {
	return s.dispatcher.RunAction(ctx, actionID, target)
}

// Start reads the action watermark, publishes the profile of this process and
// schedules Pull once immediately and then every pull interval. Background work
// runs until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return ErrAlreadyStarted
	}

	retrier := retry.NewRetrier(s.config.startupRetries, 100*time.Millisecond, 2*time.Second)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		if err := s.dispatcher.Init(ctx); err != nil {
			return err
		}
		return s.profiles.Register(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.scheduler.Start(runCtx)
	if err := s.scheduler.Once(pullOnceJob, s.tick); err != nil {
		cancel()
		s.scheduler.Stop(context.Background())
		return err
	}
	if err := s.scheduler.Every(pullEveryJob, s.config.pullInterval, s.tick); err != nil {
		cancel()
		s.scheduler.Stop(context.Background())
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.profiles.StartHeartbeat(runCtx)
	}()

	s.cancel = cancel
	s.heartbeatDone = done
	s.started.Store(true)

	if s.config.logger != nil {
		s.config.logger.Info(ctx, "configsync started",
			"processID", s.config.processID,
			"pullInterval", s.config.pullInterval,
			"endpoints", s.alternatives.Endpoints())
	}
	return nil
}

// Stop cancels scheduled pulls and the heartbeat and waits for them to return.
// The store is left open.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.cancel()
	s.scheduler.Stop(ctx)

	select {
	case <-s.heartbeatDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started.Store(false)
	if s.config.logger != nil {
		s.config.logger.Info(ctx, "configsync stopped", "processID", s.config.processID)
	}
	return nil
}

// Started reports whether Start has been called without a matching Stop.
func (s *Service) Started() bool {
	return s.started.Load()
}

// Pull runs the action pull followed by the alternative pull. An overlapping
// call returns ErrPullInProgress without touching the store. Each phase keeps
// its own watermark, so a failure in one does not hold back the other.
func (s *Service) Pull(ctx context.Context) error {
	if !s.pullMu.TryLock() {
		s.collector.IncPullsSkipped()
		return ErrPullInProgress
	}
	defer s.pullMu.Unlock()

	return multierr.Append(
		s.dispatcher.PullActions(ctx),
		s.alternatives.PullAlternatives(ctx),
	)
}

func (s *Service) tick(ctx context.Context) {
	err := s.Pull(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, ErrPullInProgress):
		if s.config.logger != nil {
			s.config.logger.Debug(ctx, "previous pull still running, skipping")
		}
	case rootpkg.IsUnavailable(err):
		if s.config.logger != nil {
			s.config.logger.Info(ctx, "store unavailable, skipping pull", "error", err)
		}
	default:
		if s.config.logger != nil {
			s.config.logger.Error(ctx, "pull failed", "error", err)
		}
	}
}

// AddEndpoint declares or replaces a selectable endpoint of this process.
func (s *Service) AddEndpoint(endpointID string, ep Endpoint) {
	s.alternatives.AddEndpoint(endpointID, ep)
}

// UpdateAlternativeConfig merges partial onto the effective configuration of
// an endpoint and publishes it to every process.
func (s *Service) UpdateAlternativeConfig(ctx context.Context, endpointID string, partial Config) error {
	return s.alternatives.UpdateAlternativeConfig(ctx, endpointID, partial)
}

// GetAlternativeConfig returns the effective configuration of an endpoint.
func (s *Service) GetAlternativeConfig(ctx context.Context, endpointID string) (Config, error) {
	return s.alternatives.GetAlternativeConfig(ctx, endpointID)
}

// RemoveAlternative deletes the stored override of an endpoint.
func (s *Service) RemoveAlternative(ctx context.Context, endpointID string) error {
	return s.alternatives.RemoveAlternative(ctx, endpointID)
}

// ListAlternatives returns a page of every known endpoint sorted by ID.
func (s *Service) ListAlternatives(ctx context.Context, skip, limit int) ([]Summary, error) {
	return s.alternatives.ListAlternatives(ctx, skip, limit)
}

// CountAlternatives returns the number of known endpoints.
func (s *Service) CountAlternatives(ctx context.Context) (int, error) {
	return s.alternatives.CountAlternatives(ctx)
}

// AlternativeMethods returns the selection methods of the local endpoints.
func (s *Service) AlternativeMethods() []string {
	return s.alternatives.Methods()
}

// EndpointAlternatives returns the alternative handlers of a local endpoint.
func (s *Service) EndpointAlternatives(endpointID string) []string {
	return s.alternatives.EndpointAlternatives(endpointID)
}

// ParamTypes returns the parameter types of the "param" selection method.
func (s *Service) ParamTypes() []string {
	return s.alternatives.ParamTypes()
}

// ListProfiles returns the distinct sorted IDs of every registered process.
func (s *Service) ListProfiles(ctx context.Context) ([]string, error) {
	return s.profiles.List(ctx)
}

// Profiles returns every registered profile with its last heartbeat.
func (s *Service) Profiles(ctx context.Context) ([]ProfileRecord, error) {
	return s.profiles.Profiles(ctx)
}

// PruneProfiles removes profiles whose heartbeat is older than ttl.
func (s *Service) PruneProfiles(ctx context.Context, ttl time.Duration) (int, error) {
	return s.profiles.Prune(ctx, ttl)
}

// IncrementCounter adds amount to a shared counter and returns the new value.
func (s *Service) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	return s.counters.Increment(ctx, counterID, amount)
}

// NextCounter increments a shared counter by one and returns the new value.
func (s *Service) NextCounter(ctx context.Context, counterID string) (int64, error) {
	return s.counters.Next(ctx, counterID)
}

// ActionWatermark returns the logical time actions have been processed up to.
func (s *Service) ActionWatermark() int64 {
	return s.dispatcher.Watermark()
}

// AlternativeWatermark returns the logical time alternatives have been processed up to.
func (s *Service) AlternativeWatermark() int64 {
	return s.alternatives.Watermark()
}
