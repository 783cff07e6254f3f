package store

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/getpup/configsync"
)

// ActionFilter selects pending action records. Claimed records never match.
type ActionFilter struct {
	// After restricts to records with LogicalTime strictly greater than After.
	After int64

	// Targets restricts to records addressed to one of these targets.
	// Empty matches nothing.
	Targets []string

	// ActionIDs, when non-nil, restricts to these action IDs. A non-nil empty
	// slice matches nothing.
	ActionIDs []string

	// ExcludeActionIDs removes these action IDs from the result.
	ExcludeActionIDs []string
}

// Matches reports whether rec satisfies the filter. Adapters that cannot express
// the filter natively use it to post-filter candidates.
func (f ActionFilter) Matches(rec configsync.ActionRecord) bool {
	if rec.Claimed() || rec.LogicalTime <= f.After {
		return false
	}
	if !slices.Contains(f.Targets, rec.Target) {
		return false
	}
	if f.ActionIDs != nil && !slices.Contains(f.ActionIDs, rec.ActionID) {
		return false
	}
	return !slices.Contains(f.ExcludeActionIDs, rec.ActionID)
}

// AlternativeFilter selects alternative records changed since a watermark.
type AlternativeFilter struct {
	// After restricts to records with LogicalTime strictly greater than After.
	After int64

	// EndpointIDs restricts to these endpoints. Empty matches nothing.
	EndpointIDs []string
}

// Matches reports whether rec satisfies the filter.
func (f AlternativeFilter) Matches(rec configsync.AlternativeRecord) bool {
	return rec.LogicalTime > f.After && slices.Contains(f.EndpointIDs, rec.EndpointID)
}

// ActionStore persists action records.
type ActionStore interface {
	// InsertAction writes a new action record.
	InsertAction(ctx context.Context, rec configsync.ActionRecord) error

	// ClaimAction atomically finds one record matching the filter and sets its
	// LogicalTime to zero in the same step. It returns the record as it was
	// before the claim. Returns configsync.ErrNotFound when nothing matches.
	// Two concurrent callers never receive the same record.
	ClaimAction(ctx context.Context, filter ActionFilter) (configsync.ActionRecord, error)

	// FindActions returns every record matching the filter without modifying it,
	// ordered by LogicalTime ascending.
	FindActions(ctx context.Context, filter ActionFilter) ([]configsync.ActionRecord, error)

	// LatestActionTime returns the greatest LogicalTime stored.
	// Returns configsync.ErrNotFound when there are no unclaimed records.
	LatestActionTime(ctx context.Context) (int64, error)
}

// AlternativeStore persists alternative configuration overrides. A stored
// override whose config cannot be decoded is returned with a nil Config so the
// caller can skip it without losing the rest of the batch.
type AlternativeStore interface {
	// GetAlternative returns the override for an endpoint.
	// Returns configsync.ErrNotFound if none exists.
	GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error)

	// SaveAlternative upserts the override keyed by EndpointID.
	SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error

	// DeleteAlternative removes the override of an endpoint. Deleting a missing
	// override is not an error.
	DeleteAlternative(ctx context.Context, endpointID string) error

	// FindAlternatives returns the overrides matching the filter.
	FindAlternatives(ctx context.Context, filter AlternativeFilter) ([]configsync.AlternativeRecord, error)

	// ListAlternatives returns every override sorted by EndpointID.
	ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error)

	// CountAlternatives counts overrides whose endpoint is not in exclude.
	CountAlternatives(ctx context.Context, exclude []string) (int, error)
}

// ProfileStore persists process profiles.
type ProfileStore interface {
	// SaveProfile upserts the profile keyed by ProcessID.
	SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error

	// ListProfiles returns every stored profile sorted by ProcessID.
	ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error)

	// DeleteProfilesBefore removes profiles whose heartbeat is older than cutoff
	// and returns how many were removed.
	DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CounterStore persists cluster-wide counters.
type CounterStore interface {
	// IncrementCounter atomically adds amount and returns the new value.
	// An unseen counter starts at zero before the increment.
	IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error)
}

// Store is the shared document store every process synchronizes through.
// Implementations must be safe for concurrent access from multiple processes.
// Connectivity failures are returned wrapped with configsync.Unavailable.
type Store interface {
	ActionStore
	AlternativeStore
	ProfileStore
	CounterStore
	io.Closer
}
