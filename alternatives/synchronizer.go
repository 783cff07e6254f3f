package alternatives

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getpup/configsync"
	"github.com/getpup/configsync/metrics"
	"github.com/getpup/configsync/store"
	"github.com/getpup/pupsourcing/es"
	"go.uber.org/atomic"
)

// Config configures the alternative configuration Synchronizer.
type Config struct {
	// Store persists alternative overrides (required).
	Store store.AlternativeStore

	// Endpoints are the selectable endpoints declared by this process, by ID.
	Endpoints map[string]configsync.Endpoint

	// ParamTypes lists the parameter types accepted by the "param" selection method.
	ParamTypes []string

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics records synchronization metrics (optional).
	Metrics *metrics.Collector
}

// Summary describes one known endpoint in ListAlternatives.
type Summary struct {
	EndpointID string `json:"endpoint_id"`

	// Methods are the selection methods of a local endpoint without override.
	Methods []string `json:"methods,omitempty"`

	// Config is the decoded override, nil without override.
	Config configsync.Config `json:"config,omitempty"`

	// Override reports whether the store holds an override for the endpoint.
	Override bool `json:"override"`
}

// Synchronizer keeps the local endpoints converged on the overrides in the store.
type Synchronizer struct {
	config Config

	pullMu    sync.Mutex
	mu        sync.RWMutex
	endpoints map[string]configsync.Endpoint

	// skip holds endpoints whose next observed update is this process's own write.
	skip      mapset.Set[string]
	watermark atomic.Int64
}

// New creates a new Synchronizer with the given configuration.
// The watermark starts at zero so every stored override is applied on the first pull.
func New(cfg Config) *Synchronizer {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	endpoints := make(map[string]configsync.Endpoint, len(cfg.Endpoints))
	maps.Copy(endpoints, cfg.Endpoints)

	return &Synchronizer{
		config:    cfg,
		endpoints: endpoints,
		skip:      mapset.NewSet[string](),
	}
}

// AddEndpoint declares or replaces a local endpoint.
func (s *Synchronizer) AddEndpoint(endpointID string, ep configsync.Endpoint) {
	s.mu.Lock()
	s.endpoints[endpointID] = ep
	s.mu.Unlock()
}

func (s *Synchronizer) endpoint(endpointID string) (configsync.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[endpointID]
	return ep, ok
}

// Endpoints returns the sorted IDs of the local endpoints.
func (s *Synchronizer) Endpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.endpoints))
}

// Watermark returns the logical time this synchronizer has processed up to.
func (s *Synchronizer) Watermark() int64 {
	return s.watermark.Load()
}

// Pending reports whether an own write to endpointID is still waiting to be
// suppressed.
func (s *Synchronizer) Pending(endpointID string) bool {
	return s.skip.ContainsOne(endpointID)
}

// stored returns the decoded override of an endpoint, or nil when there is none
// or it cannot be decoded.
func (s *Synchronizer) stored(ctx context.Context, endpointID string) (configsync.Config, error) {
	rec, err := s.config.Store.GetAlternative(ctx, endpointID)
	if errors.Is(err, configsync.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alternative %q: %w", endpointID, err)
	}
	if len(rec.Config) == 0 {
		return nil, nil
	}

	cfg, err := DecodeProbability(rec.Config)
	if err != nil {
		s.config.Metrics.IncMalformedRecords("alternative")
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "ignoring undecodable alternative", "endpointID", endpointID, "error", err)
		}
		return nil, nil
	}
	return cfg, nil
}

func (s *Synchronizer) effective(ctx context.Context, endpointID string) (configsync.Config, error) {
	cfg, err := s.stored(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if ep, ok := s.endpoint(endpointID); ok {
		return ep.CurrentConfig(), nil
	}
	return configsync.Config{}, nil
}

// UpdateAlternativeConfig merges partial onto the endpoint's effective
// configuration and stores the result. A local endpoint gets the new
// configuration immediately and ignores the echo of this write on its next pull.
func (s *Synchronizer) UpdateAlternativeConfig(ctx context.Context, endpointID string, partial configsync.Config) error {
	base, err := s.effective(ctx, endpointID)
	if err != nil {
		return err
	}
	cfg := Normalize(base.Merge(partial))

	persisted, err := EncodeProbability(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode alternative %q: %w", endpointID, err)
	}

	ep, local := s.endpoint(endpointID)
	if local {
		ep.Apply(cfg.Clone())
		s.skip.Add(endpointID)
	}

	rec := configsync.AlternativeRecord{
		EndpointID:  endpointID,
		Config:      persisted,
		LogicalTime: configsync.LogicalTime(s.config.Clock()),
	}
	if err := s.config.Store.SaveAlternative(ctx, rec); err != nil {
		if local {
			s.skip.Remove(endpointID)
		}
		return fmt.Errorf("failed to save alternative %q: %w", endpointID, err)
	}

	s.config.Metrics.IncAlternativesPublished(endpointID)
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "alternative updated", "endpointID", endpointID, "local", local)
	}
	return nil
}

// GetAlternativeConfig returns the stored override of an endpoint, else its
// current configuration, else an empty configuration.
func (s *Synchronizer) GetAlternativeConfig(ctx context.Context, endpointID string) (configsync.Config, error) {
	cfg, err := s.effective(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	return Normalize(cfg), nil
}

// RemoveAlternative deletes the stored override. Local endpoints keep their
// current configuration.
func (s *Synchronizer) RemoveAlternative(ctx context.Context, endpointID string) error {
	if err := s.config.Store.DeleteAlternative(ctx, endpointID); err != nil {
		return fmt.Errorf("failed to remove alternative %q: %w", endpointID, err)
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "alternative removed", "endpointID", endpointID)
	}
	return nil
}

// ListAlternatives returns a page of every known endpoint, stored overrides and
// local endpoints without override, sorted by endpoint ID. A limit <= 0 returns
// everything after skip.
func (s *Synchronizer) ListAlternatives(ctx context.Context, skip, limit int) ([]Summary, error) {
	recs, err := s.config.Store.ListAlternatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alternatives: %w", err)
	}

	overridden := make(map[string]struct{}, len(recs))
	all := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		overridden[rec.EndpointID] = struct{}{}
		cfg := rec.Config
		if cfg == nil {
			s.malformed(ctx, rec.EndpointID, configsync.ErrMalformedRecord)
		} else if decoded, err := DecodeProbability(cfg); err != nil {
			s.malformed(ctx, rec.EndpointID, err)
		} else {
			cfg = decoded
		}
		all = append(all, Summary{EndpointID: rec.EndpointID, Config: cfg, Override: true})
	}

	s.mu.RLock()
	for id, ep := range s.endpoints {
		if _, ok := overridden[id]; !ok {
			all = append(all, Summary{EndpointID: id, Methods: ep.Methods()})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b Summary) int { return strings.Compare(a.EndpointID, b.EndpointID) })
	return page(all, skip, limit), nil
}

func page[T any](items []T, skip, limit int) []T {
	skip = max(skip, 0)
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// CountAlternatives returns the number of distinct endpoints across local
// endpoints and stored overrides.
func (s *Synchronizer) CountAlternatives(ctx context.Context) (int, error) {
	local := s.Endpoints()
	n, err := s.config.Store.CountAlternatives(ctx, local)
	if err != nil {
		return 0, fmt.Errorf("failed to count alternatives: %w", err)
	}
	return len(local) + n, nil
}

// PullAlternatives applies the overrides of local endpoints written since the
// last pull. The echo of an own write is consumed instead of applied. A store
// error aborts the pull and leaves the watermark where it was.
func (s *Synchronizer) PullAlternatives(ctx context.Context) (err error) {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	start := time.Now()
	defer func() {
		s.config.Metrics.ObservePull(metrics.PhaseAlternatives, err, time.Since(start))
	}()

	watermark := s.watermark.Load()
	recs, err := s.config.Store.FindAlternatives(ctx, store.AlternativeFilter{
		After:       watermark,
		EndpointIDs: s.Endpoints(),
	})
	if err != nil {
		return fmt.Errorf("failed to find alternatives: %w", err)
	}

	last := watermark
	for _, rec := range recs {
		last = max(last, rec.LogicalTime)
		s.apply(ctx, rec)
	}

	if last > watermark {
		s.watermark.Store(last)
		s.config.Metrics.SetWatermark(metrics.PhaseAlternatives, last)
	}
	return nil
}

func (s *Synchronizer) apply(ctx context.Context, rec configsync.AlternativeRecord) {
	if s.skip.ContainsOne(rec.EndpointID) {
		s.skip.Remove(rec.EndpointID)
		s.config.Metrics.IncAlternativesSuppressed(rec.EndpointID)
		if s.config.Logger != nil {
			s.config.Logger.Debug(ctx, "suppressed own alternative update", "endpointID", rec.EndpointID)
		}
		return
	}

	ep, ok := s.endpoint(rec.EndpointID)
	if !ok {
		return
	}

	if rec.Config == nil {
		s.malformed(ctx, rec.EndpointID, configsync.ErrMalformedRecord)
		return
	}
	cfg, err := DecodeProbability(rec.Config)
	if err != nil {
		s.malformed(ctx, rec.EndpointID, err)
		return
	}

	ep.Apply(cfg)
	s.config.Metrics.IncAlternativesApplied(rec.EndpointID)
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "alternative applied", "endpointID", rec.EndpointID, "logicalTime", rec.LogicalTime)
	}
}

func (s *Synchronizer) malformed(ctx context.Context, endpointID string, err error) {
	s.config.Metrics.IncMalformedRecords("alternative")
	if s.config.Logger != nil {
		s.config.Logger.Error(ctx, "skipping malformed alternative", "endpointID", endpointID, "error", err)
	}
}

// Methods returns the sorted union of the selection methods of local endpoints.
func (s *Synchronizer) Methods() []string {
	set := mapset.NewThreadUnsafeSet[string]()

	s.mu.RLock()
	for _, ep := range s.endpoints {
		set.Append(ep.Methods()...)
	}
	s.mu.RUnlock()

	methods := set.ToSlice()
	slices.Sort(methods)
	return methods
}

// EndpointAlternatives returns the alternative handlers of a local endpoint.
func (s *Synchronizer) EndpointAlternatives(endpointID string) []string {
	ep, ok := s.endpoint(endpointID)
	if !ok {
		return nil
	}
	return ep.Alternatives()
}

// ParamTypes returns the parameter types of the "param" selection method.
func (s *Synchronizer) ParamTypes() []string {
	return slices.Clone(s.config.ParamTypes)
}
