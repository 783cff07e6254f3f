package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/metrics"
	"github.com/getpup/configsync/store"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Config configures the action Dispatcher.
type Config struct {
	// Store persists action records (required).
	Store store.ActionStore

	// Registry holds the local handler bindings (required).
	Registry *Registry

	// ProcessID is the target this process answers to besides the wildcard (required).
	ProcessID string

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics records dispatch metrics (optional).
	Metrics *metrics.Collector
}

// Dispatcher publishes action records and runs the ones addressed to this process.
type Dispatcher struct {
	config    Config
	mu        sync.Mutex
	watermark atomic.Int64
}

// New creates a new Dispatcher with the given configuration.
// The watermark starts at the current time so records written before the
// process started are never replayed.
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}

	d := &Dispatcher{config: cfg}
	d.watermark.Store(configsync.LogicalTime(cfg.Clock()))
	return d
}

// Init moves the watermark to the newest pending record in the store, if any.
func (d *Dispatcher) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	lt, err := d.config.Store.LatestActionTime(ctx)
	if errors.Is(err, configsync.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read latest action time: %w", err)
	}

	d.watermark.Store(lt)
	d.config.Metrics.SetWatermark(metrics.PhaseActions, lt)
	return nil
}

// Watermark returns the logical time this dispatcher has processed up to.
func (d *Dispatcher) Watermark() int64 {
	return d.watermark.Load()
}

// Registry returns the registry the dispatcher reads bindings from.
func (d *Dispatcher) Registry() *Registry {
	return d.config.Registry
}

// RunAction writes a fresh record for actionID. Every process whose ID matches
// target, or every process when target is empty or the wildcard, picks it up on
// its next pull. Nothing runs locally.
func (d *Dispatcher) RunAction(ctx context.Context, actionID, target string) error {
	if strings.TrimSpace(actionID) == "" {
		return configsync.ErrInvalidActionID
	}
	if target == "" {
		target = configsync.Wildcard
	}

	rec := configsync.ActionRecord{
		ID:          uuid.New().String(),
		ActionID:    actionID,
		Target:      target,
		LogicalTime: configsync.LogicalTime(d.config.Clock()),
	}
	if err := d.config.Store.InsertAction(ctx, rec); err != nil {
		return fmt.Errorf("failed to publish action %q: %w", actionID, err)
	}

	d.config.Metrics.IncActionsPublished(actionID)
	if d.config.Logger != nil {
		d.config.Logger.Info(ctx, "action published", "actionID", actionID, "target", target, "recordID", rec.ID)
	}
	return nil
}

// PullActions claims and runs the unique actions addressed to this process, then
// runs the broadcast ones it has not seen yet. A store error aborts the pull and
// leaves the watermark where it was. Handler failures are logged and do not stop
// the batch.
func (d *Dispatcher) PullActions(ctx context.Context) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() {
		d.config.Metrics.ObservePull(metrics.PhaseActions, err, time.Since(start))
	}()

	watermark := d.watermark.Load()
	last := watermark
	targets := d.targets()
	unique := d.config.Registry.UniqueIDs()

	if len(unique) > 0 {
		filter := store.ActionFilter{After: watermark, Targets: targets, ActionIDs: unique}
		for {
			rec, err := d.config.Store.ClaimAction(ctx, filter)
			if errors.Is(err, configsync.ErrNotFound) {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to claim action: %w", err)
			}

			last = max(last, rec.LogicalTime)
			d.dispatch(ctx, rec, metrics.DeliveryClaimed)
		}
	}

	recs, err := d.config.Store.FindActions(ctx, store.ActionFilter{
		After:            watermark,
		Targets:          targets,
		ExcludeActionIDs: unique,
	})
	if err != nil {
		return fmt.Errorf("failed to find actions: %w", err)
	}
	for _, rec := range recs {
		last = max(last, rec.LogicalTime)
		d.dispatch(ctx, rec, metrics.DeliveryObserved)
	}

	if last > watermark {
		d.watermark.Store(last)
		d.config.Metrics.SetWatermark(metrics.PhaseActions, last)
	}
	return nil
}

func (d *Dispatcher) targets() []string {
	if d.config.ProcessID == "" || d.config.ProcessID == configsync.Wildcard {
		return []string{configsync.Wildcard}
	}
	return []string{d.config.ProcessID, configsync.Wildcard}
}

func (d *Dispatcher) dispatch(ctx context.Context, rec configsync.ActionRecord, delivery string) {
	if rec.ActionID == "" {
		d.config.Metrics.IncMalformedRecords("action")
		if d.config.Logger != nil {
			d.config.Logger.Error(ctx, "skipping malformed action record", "recordID", rec.ID, "error", configsync.ErrMalformedRecord)
		}
		return
	}

	b, ok := d.config.Registry.Lookup(rec.ActionID)
	if !ok {
		if d.config.Logger != nil {
			d.config.Logger.Debug(ctx, "no handler for action", "actionID", rec.ActionID, "recordID", rec.ID)
		}
		return
	}

	start := time.Now()
	err := invoke(ctx, b)
	d.config.Metrics.ObserveHandlerDuration(b.ActionID, time.Since(start))
	d.config.Metrics.IncActionsDispatched(b.ActionID, delivery)

	if err != nil {
		d.config.Metrics.IncHandlerErrors(b.ActionID)
		if d.config.Logger != nil {
			d.config.Logger.Error(ctx, "action handler failed", "actionID", b.ActionID, "recordID", rec.ID, "error", err)
		}
		return
	}

	if d.config.Logger != nil {
		d.config.Logger.Debug(ctx, "action handled", "actionID", b.ActionID, "recordID", rec.ID, "delivery", delivery)
	}
}

func invoke(ctx context.Context, b Binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", configsync.ErrHandlerPanic, b.ActionID, r)
		}
	}()
	return b.Handler(ctx)
}
